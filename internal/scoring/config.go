// Package scoring implements the risk-evaluation pipeline: signal
// evaluators for device history, behavioral drift, geographic anomalies and
// SIM swaps, a deterministic aggregator, and the action mapper that turns a
// score into a decision.
package scoring

import "time"

// Config holds all scoring weights, thresholds and timing budgets. Every
// value has a documented default; deployments tune them through the service
// configuration.
type Config struct {
	// Device signal weights (points on the 0-100 scale)
	NewDeviceWeight       float64
	DeviceChangedWeight   float64
	MultipleDevicesWeight float64
	DeviceCap             float64 // Max combined device contribution

	// Geo signal weights
	GeoJumpWeight         float64
	VPNWeight             float64
	UnusualLocationWeight float64
	GeoCap                float64

	// Behavioral signal
	BehaviorCap         float64 // Max contribution, scaled by change score
	SimilarityThreshold float64 // Below this similarity, behavior_changed fires (default 70)
	EntropyLowThreshold float64 // Request entropy below this is suspicious
	MinSamples          int     // Samples needed for variance (default 2)
	MinBaselineSamples  int     // Samples before a baseline is established (default 5)

	// SIM swap signal
	SimCap              float64 // Max contribution, scaled by the engine's [0,1] risk
	SimChangedWeight    float64 // Flag weights inside the [0,1] sub-score
	SimDeviceWeight     float64
	SimBehaviorWeight   float64
	SimTimeWeight       float64
	SimVelocityWeight   float64
	MinSimAge           time.Duration // SIM changes younger than this are a time anomaly
	VelocityWindow      time.Duration // Rolling window for mutation counting
	VelocityThreshold   int           // Mutations above this inside the window are an anomaly

	// Geo physics
	MaxTravelSpeedKmH  float64 // Implied speed above this is impossible travel
	MinJumpDistanceKm  float64 // Jumps shorter than this never trigger, whatever the speed
	SparseHistoryKm    float64 // Unusual-location radius when history is sparse
	SparseHistoryCount int     // History smaller than this uses the fixed radius

	// Budgets
	LookupTimeout time.Duration // Per collaborator call
	SoftDeadline  time.Duration // Fan-out join budget; late evaluators degrade to neutral

	// NoLearnOnBlock skips all profile/baseline/geo writes when the final
	// action is block, so an attacker cannot poison history.
	NoLearnOnBlock bool
}

// DefaultConfig returns the documented default scoring configuration.
func DefaultConfig() Config {
	return Config{
		NewDeviceWeight:       15,
		DeviceChangedWeight:   20,
		MultipleDevicesWeight: 10,
		DeviceCap:             30,

		GeoJumpWeight:         30,
		VPNWeight:             10,
		UnusualLocationWeight: 15,
		GeoCap:                40,

		BehaviorCap:         25,
		SimilarityThreshold: 70,
		EntropyLowThreshold: 1.0,
		MinSamples:          2,
		MinBaselineSamples:  5,

		SimCap:            25,
		SimChangedWeight:  0.35,
		SimDeviceWeight:   0.20,
		SimBehaviorWeight: 0.15,
		SimTimeWeight:     0.15,
		SimVelocityWeight: 0.15,
		MinSimAge:         time.Hour,
		VelocityWindow:    10 * time.Minute,
		VelocityThreshold: 3,

		MaxTravelSpeedKmH:  1000,
		MinJumpDistanceKm:  100,
		SparseHistoryKm:    500,
		SparseHistoryCount: 3,

		LookupTimeout: 20 * time.Millisecond,
		SoftDeadline:  80 * time.Millisecond,

		NoLearnOnBlock: true,
	}
}
