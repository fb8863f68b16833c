package scoring

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/model"
	"github.com/trustsignal/trustsignal/internal/store"
)

// epsilon keeps the similarity denominator away from zero when a baseline
// has no variance yet.
const epsilon = 0.001

// behaviorResult carries the behavioral-drift signal, the response payload
// echoed to the caller, and the baseline mutation queued for learning.
type behaviorResult struct {
	Contribution    float64
	Reasons         []string
	Change          *model.BehaviorChange
	BehaviorChanged bool
	Mutate          func(*store.BehavioralBaseline)
}

// BehaviorAnalyzer computes typing and session-entropy statistics for a
// request and compares them against the stored rolling baseline.
type BehaviorAnalyzer struct {
	store  store.ProfileStore
	cfg    Config
	logger *zap.Logger
}

// NewBehaviorAnalyzer creates a BehaviorAnalyzer.
func NewBehaviorAnalyzer(profileStore store.ProfileStore, cfg Config, logger *zap.Logger) *BehaviorAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BehaviorAnalyzer{
		store:  profileStore,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "behavior_analyzer")),
	}
}

// Evaluate scores behavioral drift for the request. Requests without enough
// samples score neutral with an insufficient_behavioral_data reason; they
// are never a hard failure.
func (a *BehaviorAnalyzer) Evaluate(ctx context.Context, req *model.FingerprintRequest) behaviorResult {
	result := behaviorResult{
		Change: &model.BehaviorChange{SimilarityScore: 100},
	}

	dwell := req.Behavioral.TypingDwellMs
	flight := req.Behavioral.TypingFlightMs
	entropy := req.Behavioral.SessionEntropy

	result.Mutate = a.baselineMutation(req)

	if len(dwell) < a.cfg.MinSamples && len(flight) < a.cfg.MinSamples {
		result.Reasons = append(result.Reasons, "insufficient_behavioral_data")
		return result
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.cfg.LookupTimeout)
	defer cancel()

	baseline, err := a.store.GetBaseline(lookupCtx, req.ProfileKey())
	if err != nil {
		a.logger.Warn("Baseline lookup degraded",
			zap.String("key", req.ProfileKey()),
			zap.Error(err))
		baseline = nil
	}

	if baseline == nil || baseline.SampleCount < a.cfg.MinBaselineSamples {
		// First sufficient sample establishes the baseline; nothing to
		// compare against yet.
		return result
	}
	result.Change.BaselineAvailable = true

	// Per-channel similarity: 100 * (1 - clamp(|Δmean| / (σ + ε), 0, 1)),
	// averaged across the channels that have both request and baseline data.
	var channelSum float64
	var channels int
	var dwellSim, flightSim float64 = 100, 100

	if len(dwell) >= a.cfg.MinSamples && baseline.Dwell.Count > 0 {
		reqMean, _ := meanStd(dwell)
		dwellSim = channelSimilarity(reqMean, baseline.Dwell.Mean, baseline.Dwell.StdDev())
		channelSum += dwellSim
		channels++
	}
	if len(flight) >= a.cfg.MinSamples && baseline.Flight.Count > 0 {
		reqMean, _ := meanStd(flight)
		flightSim = channelSimilarity(reqMean, baseline.Flight.Mean, baseline.Flight.StdDev())
		channelSum += flightSim
		channels++
	}
	if entropy > 0 && baseline.Entropy.Count > 0 {
		channelSum += channelSimilarity(entropy, baseline.Entropy.Mean, baseline.Entropy.StdDev())
		channels++
	}

	if channels == 0 {
		result.Reasons = append(result.Reasons, "insufficient_behavioral_data")
		return result
	}

	similarity := channelSum / float64(channels)
	changeScore := 100 - similarity
	result.Change.SimilarityScore = similarity
	result.Change.ChangeScore = changeScore

	if dwellSim < a.cfg.SimilarityThreshold || flightSim < a.cfg.SimilarityThreshold {
		result.Reasons = append(result.Reasons, "typing_speed_mismatch")
		result.Change.ChangeReasons = append(result.Change.ChangeReasons, "typing_speed_mismatch")
	}
	if similarity < a.cfg.SimilarityThreshold {
		result.BehaviorChanged = true
		result.Change.BehaviorChanged = true
		result.Contribution = (changeScore / 100) * a.cfg.BehaviorCap
		result.Reasons = append(result.Reasons, "behavior_anomaly")
		result.Change.ChangeReasons = append(result.Change.ChangeReasons, "behavior_anomaly")
	}
	if entropy > 0 && entropy < a.cfg.EntropyLowThreshold {
		result.Reasons = append(result.Reasons, "session_entropy_low")
		result.Change.ChangeReasons = append(result.Change.ChangeReasons, "session_entropy_low")
	}

	return result
}

// baselineMutation folds the request's samples into the rolling baseline.
// Applied by the pipeline only for non-blocked, non-bot requests so an
// attacker cannot poison the baseline.
func (a *BehaviorAnalyzer) baselineMutation(req *model.FingerprintRequest) func(*store.BehavioralBaseline) {
	dwell := append([]float64(nil), req.Behavioral.TypingDwellMs...)
	flight := append([]float64(nil), req.Behavioral.TypingFlightMs...)
	entropy := req.Behavioral.SessionEntropy
	minSamples := a.cfg.MinBaselineSamples
	now := req.Session.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return func(b *store.BehavioralBaseline) {
		for _, v := range dwell {
			b.Dwell.Add(v)
		}
		for _, v := range flight {
			b.Flight.Add(v)
		}
		if entropy > 0 {
			b.Entropy.Add(entropy)
		}
		b.SampleCount += len(dwell)
		if b.EstablishedAt.IsZero() && b.SampleCount >= minSamples {
			b.EstablishedAt = now
		}
	}
}

func channelSimilarity(current, baselineMean, baselineStdDev float64) float64 {
	deviation := math.Abs(current-baselineMean) / (baselineStdDev + epsilon)
	if deviation > 1 {
		deviation = 1
	}
	return 100 * (1 - deviation)
}

// meanStd returns the mean and population standard deviation of samples.
func meanStd(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var sqDiff float64
	for _, v := range samples {
		d := v - mean
		sqDiff += d * d
	}
	return mean, math.Sqrt(sqDiff / float64(len(samples)))
}
