package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ProfileStore used in tests and single-node
// deployments. Per-entity atomicity comes from a single mutex; the data set
// is small enough that finer locking buys nothing here.
type MemoryStore struct {
	mu          sync.Mutex
	devices     map[string]*DeviceProfile
	userDevices map[string][]string
	baselines   map[string]*BehavioralBaseline
	geo         map[string][]GeoPoint
	mutations   map[string][]time.Time
	maxGeo      int
}

// NewMemoryStore creates an empty MemoryStore retaining up to maxGeoPoints
// locations per user.
func NewMemoryStore(maxGeoPoints int) *MemoryStore {
	if maxGeoPoints <= 0 {
		maxGeoPoints = 20
	}
	return &MemoryStore{
		devices:     make(map[string]*DeviceProfile),
		userDevices: make(map[string][]string),
		baselines:   make(map[string]*BehavioralBaseline),
		geo:         make(map[string][]GeoPoint),
		mutations:   make(map[string][]time.Time),
		maxGeo:      maxGeoPoints,
	}
}

func (m *MemoryStore) GetDeviceProfile(ctx context.Context, deviceID string) (*DeviceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.KnownFingerprints = append([]string(nil), p.KnownFingerprints...)
	return &cp, nil
}

func (m *MemoryStore) UpsertDeviceProfile(ctx context.Context, profile *DeviceProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.devices[profile.DeviceID]; ok && existing.Version != profile.Version {
		return ErrVersionConflict
	}
	cp := *profile
	cp.KnownFingerprints = append([]string(nil), profile.KnownFingerprints...)
	cp.Version++
	m.devices[profile.DeviceID] = &cp

	if profile.UserID != "" {
		found := false
		for _, id := range m.userDevices[profile.UserID] {
			if id == profile.DeviceID {
				found = true
				break
			}
		}
		if !found {
			m.userDevices[profile.UserID] = append(m.userDevices[profile.UserID], profile.DeviceID)
		}
	}
	return nil
}

func (m *MemoryStore) ListUserDevices(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.userDevices[userID]...), nil
}

func (m *MemoryStore) GetBaseline(ctx context.Context, key string) (*BehavioralBaseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.baselines[key]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpsertBaseline(ctx context.Context, baseline *BehavioralBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.baselines[baseline.Key]; ok && existing.Version != baseline.Version {
		return ErrVersionConflict
	}
	cp := *baseline
	cp.Version++
	m.baselines[baseline.Key] = &cp
	return nil
}

func (m *MemoryStore) GetGeoHistory(ctx context.Context, key string) ([]GeoPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GeoPoint(nil), m.geo[key]...), nil
}

func (m *MemoryStore) AppendGeoPoint(ctx context.Context, key string, point GeoPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pts := append(m.geo[key], point)
	if len(pts) > m.maxGeo {
		pts = pts[len(pts)-m.maxGeo:]
	}
	m.geo[key] = pts
	return nil
}

func (m *MemoryStore) RecordMutation(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations[deviceID] = append(m.mutations[deviceID], time.Now())
	return nil
}

func (m *MemoryStore) CountRecentMutations(ctx context.Context, deviceID string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, ts := range m.mutations[deviceID] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count, nil
}
