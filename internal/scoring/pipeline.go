package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
	"github.com/trustsignal/trustsignal/internal/geo"
	"github.com/trustsignal/trustsignal/internal/metrics"
	"github.com/trustsignal/trustsignal/internal/model"
	"github.com/trustsignal/trustsignal/internal/normalize"
	"github.com/trustsignal/trustsignal/internal/store"
)

const upsertRetries = 3

// Pipeline orchestrates one scoring pass: normalize the payload, fan the
// evaluators out, join under the soft deadline, aggregate, map the action
// and apply the queued learning writes. Stateless per request; all
// cross-request state lives in the profile store.
type Pipeline struct {
	store    store.ProfileStore
	device   *DeviceEvaluator
	behavior *BehaviorAnalyzer
	geo      *GeoAnomalyDetector
	sim      *SimSwapEngine
	cfg      Config
	logger   *zap.Logger
}

// NewPipeline wires the evaluators against the shared store and resolver.
func NewPipeline(profileStore store.ProfileStore, resolver geo.Resolver, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    profileStore,
		device:   NewDeviceEvaluator(profileStore, cfg, logger),
		behavior: NewBehaviorAnalyzer(profileStore, cfg, logger),
		geo:      NewGeoAnomalyDetector(profileStore, resolver, cfg, logger),
		sim:      NewSimSwapEngine(profileStore, cfg, logger),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "scoring_pipeline")),
	}
}

// Score evaluates a raw payload and returns the risk assessment. The only
// terminal failure is a malformed payload or unknown use case; every
// collaborator problem degrades the affected signal instead.
func (p *Pipeline) Score(ctx context.Context, raw []byte, clientIP string, useCase model.UseCase) (*model.RiskAssessment, error) {
	start := time.Now()

	req, err := normalize.Normalize(raw, useCase)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	logger := p.logger.With(
		zap.String("request_id", requestID),
		zap.String("use_case", string(useCase)))

	devRes, geoRes, behRes, simRes := p.fanOut(ctx, req, clientIP, logger)
	simRes = p.sim.Finalize(simRes, behRes.BehaviorChanged, devRes.DeviceChanged)

	riskScore, reasons := aggregate(devRes, geoRes, behRes, simRes)
	action := mapAction(riskScore)
	indicators := botIndicators(req.EnhancedSignals)

	assessment := &model.RiskAssessment{
		RiskScore:      riskScore,
		Score:          float64(riskScore) / 100.0,
		Action:         action,
		Reasons:        reasons,
		SessionID:      req.Session.SessionID,
		RequestID:      requestID,
		BehaviorChange: behRes.Change,
	}
	if simRes.Active {
		assessment.SimSwap = simRes.Result
		recordSimFlags(simRes.Result.Flags)
	}
	assessment.AdaptiveResponse = adaptiveResponse(useCase, action, behRes.Change, indicators)

	p.applyWrites(ctx, req, devRes, geoRes, behRes, simRes, action, indicators, logger)

	metrics.RecordEvaluation(string(useCase), string(action), riskScore, time.Since(start))
	logger.Info("Request scored",
		zap.Int("risk_score", riskScore),
		zap.String("action", string(action)),
		zap.Strings("reasons", reasons),
		zap.Duration("elapsed", time.Since(start)))

	return assessment, nil
}

// fanOut runs the four evaluators concurrently and joins them under the
// soft deadline. An evaluator that misses the deadline is scored neutral
// with a signal_unavailable reason, and its queued write is discarded.
func (p *Pipeline) fanOut(ctx context.Context, req *model.FingerprintRequest, clientIP string, logger *zap.Logger) (deviceResult, geoResult, behaviorResult, simResult) {
	devCh := make(chan deviceResult, 1)
	geoCh := make(chan geoResult, 1)
	behCh := make(chan behaviorResult, 1)
	simCh := make(chan simResult, 1)

	go func() { devCh <- p.device.Evaluate(ctx, req) }()
	go func() { geoCh <- p.geo.Evaluate(ctx, req, clientIP) }()
	go func() { behCh <- p.behavior.Evaluate(ctx, req) }()
	go func() { simCh <- p.sim.Evaluate(ctx, req) }()

	timer := time.NewTimer(p.cfg.SoftDeadline)
	defer timer.Stop()
	late := false

	var devRes deviceResult
	var geoRes geoResult
	var behRes behaviorResult
	var simRes simResult

	devOK := join(devCh, &devRes, timer, &late)
	geoOK := join(geoCh, &geoRes, timer, &late)
	behOK := join(behCh, &behRes, timer, &late)
	simOK := join(simCh, &simRes, timer, &late)

	if !devOK {
		devRes = deviceResult{Reasons: []string{"signal_unavailable:device"}}
		p.degrade("device", logger)
	}
	if !geoOK {
		geoRes = geoResult{Reasons: []string{"signal_unavailable:geo"}}
		p.degrade("geo", logger)
	}
	if !behOK {
		behRes = behaviorResult{
			Change:  &model.BehaviorChange{SimilarityScore: 100},
			Reasons: []string{"signal_unavailable:behavior"},
		}
		p.degrade("behavior", logger)
	}
	if !simOK {
		simRes = simResult{}
		if req.SIM != nil {
			simRes = simResult{
				Active:  true,
				Result:  &model.SimSwapResult{},
				Reasons: []string{"signal_unavailable:sim"},
			}
		}
		p.degrade("sim", logger)
	}

	return devRes, geoRes, behRes, simRes
}

// join receives one evaluator result, giving up when the shared deadline
// timer fires. Once the deadline has passed, only results already buffered
// are accepted.
func join[T any](ch <-chan T, out *T, timer *time.Timer, late *bool) bool {
	if *late {
		select {
		case v := <-ch:
			*out = v
			return true
		default:
			return false
		}
	}
	select {
	case v := <-ch:
		*out = v
		return true
	case <-timer.C:
		*late = true
		select {
		case v := <-ch:
			*out = v
			return true
		default:
			return false
		}
	}
}

func (p *Pipeline) degrade(signal string, logger *zap.Logger) {
	metrics.RecordDegradedSignal(signal)
	logger.Warn("Evaluator missed soft deadline, scored neutral", zap.String("signal", signal))
}

// applyWrites applies the learning mutations queued by the evaluators.
// Blocked requests never learn, so an attacker cannot poison history; bot
// sessions skip the behavioral baseline for the same reason. Write failures
// are logged and swallowed: the assessment already left the building.
func (p *Pipeline) applyWrites(ctx context.Context, req *model.FingerprintRequest, devRes deviceResult, geoRes geoResult, behRes behaviorResult, simRes simResult, action model.Action, indicators []string, logger *zap.Logger) {
	if p.cfg.NoLearnOnBlock && action == model.ActionBlock {
		logger.Debug("Skipping learning writes for blocked request")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*p.cfg.LookupTimeout)
	defer cancel()

	if devRes.Mutate != nil || simRes.Mutate != nil {
		p.updateDeviceProfile(writeCtx, req.Device.DeviceID, []func(*store.DeviceProfile){devRes.Mutate, simRes.Mutate}, logger)
		// Feeds the SIM-swap velocity counter. Lives here rather than in the
		// evaluators so only learned-from requests count as mutating events.
		if err := p.store.RecordMutation(writeCtx, req.Device.DeviceID); err != nil {
			logger.Warn("Mutation record failed", zap.Error(err))
		}
	}

	hasBehavior := len(req.Behavioral.TypingDwellMs) > 0 ||
		len(req.Behavioral.TypingFlightMs) > 0 ||
		req.Behavioral.SessionEntropy > 0
	if behRes.Mutate != nil && hasBehavior && len(indicators) == 0 {
		p.updateBaseline(writeCtx, req.ProfileKey(), behRes.Mutate, logger)
	}

	if geoRes.Point != nil {
		if err := p.store.AppendGeoPoint(writeCtx, req.ProfileKey(), *geoRes.Point); err != nil {
			logger.Warn("Geo history append failed", zap.Error(err))
		}
	}
}

// updateDeviceProfile runs a read-modify-write with optimistic-concurrency
// retries, folding both the device and SIM mutations into one update.
func (p *Pipeline) updateDeviceProfile(ctx context.Context, deviceID string, mutations []func(*store.DeviceProfile), logger *zap.Logger) {
	for attempt := 0; attempt < upsertRetries; attempt++ {
		profile, err := p.store.GetDeviceProfile(ctx, deviceID)
		if err != nil {
			logger.Warn("Device profile read for update failed", zap.Error(err))
			return
		}
		if profile == nil {
			profile = &store.DeviceProfile{DeviceID: deviceID}
		}
		for _, mutate := range mutations {
			if mutate != nil {
				mutate(profile)
			}
		}

		err = p.store.UpsertDeviceProfile(ctx, profile)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			logger.Warn("Device profile update failed", zap.Error(err))
			return
		}
	}
	metrics.RecordWriteConflict("device_profile")
	logger.Warn("Device profile update lost the version race",
		zap.String("device_id", deviceID),
		zap.Error(apperrors.WriteConflict("device_profile")))
}

func (p *Pipeline) updateBaseline(ctx context.Context, key string, mutate func(*store.BehavioralBaseline), logger *zap.Logger) {
	for attempt := 0; attempt < upsertRetries; attempt++ {
		baseline, err := p.store.GetBaseline(ctx, key)
		if err != nil {
			logger.Warn("Baseline read for update failed", zap.Error(err))
			return
		}
		if baseline == nil {
			baseline = &store.BehavioralBaseline{Key: key}
		}
		mutate(baseline)

		err = p.store.UpsertBaseline(ctx, baseline)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			logger.Warn("Baseline update failed", zap.Error(err))
			return
		}
	}
	metrics.RecordWriteConflict("baseline")
	logger.Warn("Baseline update lost the version race",
		zap.String("key", key),
		zap.Error(apperrors.WriteConflict("baseline")))
}

func recordSimFlags(flags model.SimSwapFlags) {
	if flags.SimChanged {
		metrics.RecordSimSwapFlag("sim_changed")
	}
	if flags.DeviceChanged {
		metrics.RecordSimSwapFlag("device_changed")
	}
	if flags.BehaviorAnomaly {
		metrics.RecordSimSwapFlag("behavior_anomaly")
	}
	if flags.TimeAnomaly {
		metrics.RecordSimSwapFlag("time_anomaly")
	}
	if flags.VelocityAnomaly {
		metrics.RecordSimSwapFlag("velocity_anomaly")
	}
}
