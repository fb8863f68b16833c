// Package store provides the durable cross-request state consumed by the
// scoring pipeline: device profiles, behavioral baselines and geo history.
// Implementations must make each read-modify-write atomic per entity so
// concurrent requests for the same user or device never lose updates.
package store

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrVersionConflict is returned by upserts when an optimistic-concurrency
// check fails after retries.
var ErrVersionConflict = errors.New("store: version conflict")

// DeviceProfile is the per-device history record.
type DeviceProfile struct {
	DeviceID          string    `json:"device_id"`
	UserID            string    `json:"user_id,omitempty"`
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	SeenCount         int       `json:"seen_count"`
	KnownFingerprints []string  `json:"known_fingerprints"`
	KnownSimSerial    string    `json:"known_sim_serial,omitempty"`
	SimUpdatedAt      time.Time `json:"sim_updated_at,omitempty"`
	Version           int64     `json:"version"`
}

// HasFingerprint reports whether hash is already recorded for this device.
func (p *DeviceProfile) HasFingerprint(hash string) bool {
	for _, fp := range p.KnownFingerprints {
		if fp == hash {
			return true
		}
	}
	return false
}

// AddFingerprint records hash if not already known.
func (p *DeviceProfile) AddFingerprint(hash string) {
	if !p.HasFingerprint(hash) {
		p.KnownFingerprints = append(p.KnownFingerprints, hash)
	}
}

// RunningStat is a numerically stable streaming mean/variance accumulator
// (Welford). Raw samples are never retained.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add folds a sample into the accumulator.
func (s *RunningStat) Add(x float64) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
}

// Variance returns the population variance, or 0 with fewer than 2 samples.
func (s *RunningStat) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count)
}

// StdDev returns the population standard deviation.
func (s *RunningStat) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// BehavioralBaseline is the per-user rolling behavioral profile.
type BehavioralBaseline struct {
	Key           string      `json:"key"` // userId, or deviceId when anonymous
	Dwell         RunningStat `json:"dwell"`
	Flight        RunningStat `json:"flight"`
	Entropy       RunningStat `json:"entropy"`
	SampleCount   int         `json:"sample_count"`
	EstablishedAt time.Time   `json:"established_at"`
	Version       int64       `json:"version"`
}

// GeoPoint is one entry in a user's location history.
type GeoPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	ASN       string    `json:"asn,omitempty"`
	VPN       bool      `json:"vpn"`
}

// ProfileStore is the collaborator interface for all cross-request state.
// Lookups return (nil, nil) when no record exists; implementations never
// treat a missing record as an error. All calls honor ctx deadlines.
type ProfileStore interface {
	GetDeviceProfile(ctx context.Context, deviceID string) (*DeviceProfile, error)
	UpsertDeviceProfile(ctx context.Context, profile *DeviceProfile) error

	// ListUserDevices returns the device IDs historically seen for a user.
	ListUserDevices(ctx context.Context, userID string) ([]string, error)

	GetBaseline(ctx context.Context, key string) (*BehavioralBaseline, error)
	UpsertBaseline(ctx context.Context, baseline *BehavioralBaseline) error

	// GetGeoHistory returns points oldest-first, bounded to the retention window.
	GetGeoHistory(ctx context.Context, key string) ([]GeoPoint, error)
	AppendGeoPoint(ctx context.Context, key string, point GeoPoint) error

	// RecordMutation records one profile-mutating event for the device.
	// Called from the post-decision write path, so blocked requests never
	// drive the counter.
	RecordMutation(ctx context.Context, deviceID string) error

	// CountRecentMutations returns how many profile-mutating events were
	// recorded for the device inside the window. Read-only; backs the
	// SIM-swap velocity check.
	CountRecentMutations(ctx context.Context, deviceID string, window time.Duration) (int, error)
}
