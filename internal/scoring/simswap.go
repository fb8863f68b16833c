package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/model"
	"github.com/trustsignal/trustsignal/internal/store"
)

// simResult carries the SIM-swap sub-assessment. The behavior and device
// flags are delegated from the other evaluators and merged at the join
// point, so Evaluate only fills the store-derived flags.
type simResult struct {
	Active       bool
	Contribution float64
	Reasons      []string
	Result       *model.SimSwapResult
	Mutate       func(*store.DeviceProfile)
}

// SimSwapEngine detects SIM-swap fraud patterns on mobile requests. It only
// activates when the payload carries a sim block.
type SimSwapEngine struct {
	store  store.ProfileStore
	cfg    Config
	logger *zap.Logger
}

// NewSimSwapEngine creates a SimSwapEngine.
func NewSimSwapEngine(profileStore store.ProfileStore, cfg Config, logger *zap.Logger) *SimSwapEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimSwapEngine{
		store:  profileStore,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "sim_swap_engine")),
	}
}

// Evaluate computes the store-derived SIM flags: sim_changed, time_anomaly
// and velocity_anomaly. Degrades each flag to false on store failure.
func (e *SimSwapEngine) Evaluate(ctx context.Context, req *model.FingerprintRequest) simResult {
	if req.SIM == nil {
		return simResult{}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	result := simResult{
		Active: true,
		Result: &model.SimSwapResult{},
	}
	now := req.Session.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	profile, err := e.store.GetDeviceProfile(lookupCtx, req.Device.DeviceID)
	if err != nil {
		e.logger.Warn("Device profile lookup degraded for SIM engine",
			zap.String("device_id", req.Device.DeviceID),
			zap.Error(err))
		profile = nil
	}

	serial := req.SIM.SimSerialHash
	if profile != nil && profile.KnownSimSerial != "" && profile.KnownSimSerial != serial {
		result.Result.Flags.SimChanged = true
		e.logger.Warn("SIM change detected",
			zap.String("device_id", req.Device.DeviceID),
			zap.String("user_id", req.UserID))
	}

	// A SIM serial younger than the minimum plausible age lines up with a
	// fresh carrier-side swap.
	if profile != nil && !profile.SimUpdatedAt.IsZero() && now.Sub(profile.SimUpdatedAt) < e.cfg.MinSimAge {
		result.Result.Flags.TimeAnomaly = true
	}

	mutations, err := e.store.CountRecentMutations(lookupCtx, req.Device.DeviceID, e.cfg.VelocityWindow)
	if err != nil {
		e.logger.Warn("Mutation count degraded",
			zap.String("device_id", req.Device.DeviceID),
			zap.Error(err))
	} else if mutations > e.cfg.VelocityThreshold {
		result.Result.Flags.VelocityAnomaly = true
	}

	result.Mutate = func(p *store.DeviceProfile) {
		if p.KnownSimSerial != serial {
			p.KnownSimSerial = serial
			p.SimUpdatedAt = now
		}
	}

	return result
}

// Finalize merges the delegated behavior and device flags, computes the
// [0,1] sub-risk as the weighted share of active flags, and derives the
// aggregate contribution.
func (e *SimSwapEngine) Finalize(result simResult, behaviorAnomaly, deviceChanged bool) simResult {
	if !result.Active {
		return result
	}

	result.Result.Flags.BehaviorAnomaly = behaviorAnomaly
	result.Result.Flags.DeviceChanged = deviceChanged

	flags := result.Result.Flags
	totalWeight := e.cfg.SimChangedWeight + e.cfg.SimDeviceWeight +
		e.cfg.SimBehaviorWeight + e.cfg.SimTimeWeight + e.cfg.SimVelocityWeight

	var active float64
	if flags.SimChanged {
		active += e.cfg.SimChangedWeight
		result.Reasons = append(result.Reasons, "sim_changed")
	}
	if flags.DeviceChanged {
		active += e.cfg.SimDeviceWeight
	}
	if flags.BehaviorAnomaly {
		active += e.cfg.SimBehaviorWeight
	}
	if flags.TimeAnomaly {
		active += e.cfg.SimTimeWeight
		result.Reasons = append(result.Reasons, "sim_time_anomaly")
	}
	if flags.VelocityAnomaly {
		active += e.cfg.SimVelocityWeight
		result.Reasons = append(result.Reasons, "sim_velocity_anomaly")
	}

	if totalWeight > 0 {
		result.Result.Risk = active / totalWeight
	}
	result.Contribution = result.Result.Risk * e.cfg.SimCap

	return result
}
