package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustsignal/trustsignal/internal/model"
	"github.com/trustsignal/trustsignal/internal/store"
)

func simRequest(userID, deviceID, serialHash string) *model.FingerprintRequest {
	req := testRequest(userID, deviceID)
	req.SIM = &model.SIM{
		SimOperator:   "28601",
		SimSerialHash: serialHash,
		NetworkType:   "LTE",
	}
	return req
}

func TestSimSwapEngine_InactiveWithoutSimBlock(t *testing.T) {
	s := store.NewMemoryStore(10)
	e := NewSimSwapEngine(s, DefaultConfig(), nil)

	res := e.Evaluate(context.Background(), testRequest("user-1", "dev-1"))
	assert.False(t, res.Active)
	assert.Nil(t, res.Result)

	// Finalize on an inactive result is a no-op
	final := e.Finalize(res, true, true)
	assert.False(t, final.Active)
	assert.Equal(t, 0.0, final.Contribution)
}

func TestSimSwapEngine_FirstSighting(t *testing.T) {
	s := store.NewMemoryStore(10)
	e := NewSimSwapEngine(s, DefaultConfig(), nil)

	res := e.Evaluate(context.Background(), simRequest("user-1", "dev-1", "serial-1"))
	require.True(t, res.Active)
	assert.False(t, res.Result.Flags.SimChanged)
	assert.False(t, res.Result.Flags.TimeAnomaly)

	final := e.Finalize(res, false, false)
	assert.Equal(t, 0.0, final.Result.Risk)
	assert.Equal(t, 0.0, final.Contribution)
}

func TestSimSwapEngine_SimChanged(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.UpsertDeviceProfile(ctx, &store.DeviceProfile{
		DeviceID:       "dev-1",
		KnownSimSerial: "serial-old",
		SimUpdatedAt:   time.Now().UTC().Add(-48 * time.Hour),
	}))

	e := NewSimSwapEngine(s, DefaultConfig(), nil)
	res := e.Evaluate(ctx, simRequest("user-1", "dev-1", "serial-new"))

	require.True(t, res.Active)
	assert.True(t, res.Result.Flags.SimChanged)
	assert.False(t, res.Result.Flags.TimeAnomaly)

	final := e.Finalize(res, false, false)
	cfg := DefaultConfig()
	wantRisk := cfg.SimChangedWeight /
		(cfg.SimChangedWeight + cfg.SimDeviceWeight + cfg.SimBehaviorWeight + cfg.SimTimeWeight + cfg.SimVelocityWeight)
	assert.InDelta(t, wantRisk, final.Result.Risk, 0.0001)
	assert.InDelta(t, wantRisk*cfg.SimCap, final.Contribution, 0.0001)
	assert.Contains(t, final.Reasons, "sim_changed")
}

func TestSimSwapEngine_TimeAnomaly(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.UpsertDeviceProfile(ctx, &store.DeviceProfile{
		DeviceID:       "dev-1",
		KnownSimSerial: "serial-1",
		SimUpdatedAt:   time.Now().UTC().Add(-10 * time.Minute),
	}))

	e := NewSimSwapEngine(s, DefaultConfig(), nil)
	res := e.Evaluate(ctx, simRequest("user-1", "dev-1", "serial-1"))

	require.True(t, res.Active)
	assert.True(t, res.Result.Flags.TimeAnomaly)

	final := e.Finalize(res, false, false)
	assert.Contains(t, final.Reasons, "sim_time_anomaly")
}

func TestSimSwapEngine_VelocityAnomaly(t *testing.T) {
	s := store.NewMemoryStore(10)
	cfg := DefaultConfig()
	ctx := context.Background()

	// Drive the mutation counter past the threshold
	for i := 0; i <= cfg.VelocityThreshold; i++ {
		require.NoError(t, s.RecordMutation(ctx, "dev-1"))
	}

	e := NewSimSwapEngine(s, cfg, nil)
	res := e.Evaluate(ctx, simRequest("user-1", "dev-1", "serial-1"))

	require.True(t, res.Active)
	assert.True(t, res.Result.Flags.VelocityAnomaly)
}

func TestSimSwapEngine_DelegatedFlags(t *testing.T) {
	s := store.NewMemoryStore(10)
	e := NewSimSwapEngine(s, DefaultConfig(), nil)

	res := e.Evaluate(context.Background(), simRequest("user-1", "dev-1", "serial-1"))
	final := e.Finalize(res, true, true)

	assert.True(t, final.Result.Flags.BehaviorAnomaly)
	assert.True(t, final.Result.Flags.DeviceChanged)

	cfg := DefaultConfig()
	wantRisk := (cfg.SimBehaviorWeight + cfg.SimDeviceWeight) /
		(cfg.SimChangedWeight + cfg.SimDeviceWeight + cfg.SimBehaviorWeight + cfg.SimTimeWeight + cfg.SimVelocityWeight)
	assert.InDelta(t, wantRisk, final.Result.Risk, 0.0001)
}

func TestSimSwapEngine_AllFlags(t *testing.T) {
	s := store.NewMemoryStore(10)
	cfg := DefaultConfig()
	ctx := context.Background()

	require.NoError(t, s.UpsertDeviceProfile(ctx, &store.DeviceProfile{
		DeviceID:       "dev-1",
		KnownSimSerial: "serial-old",
		SimUpdatedAt:   time.Now().UTC().Add(-time.Minute),
	}))
	for i := 0; i <= cfg.VelocityThreshold; i++ {
		require.NoError(t, s.RecordMutation(ctx, "dev-1"))
	}

	e := NewSimSwapEngine(s, cfg, nil)
	res := e.Evaluate(ctx, simRequest("user-1", "dev-1", "serial-new"))
	final := e.Finalize(res, true, true)

	assert.InDelta(t, 1.0, final.Result.Risk, 0.0001)
	assert.InDelta(t, cfg.SimCap, final.Contribution, 0.0001)
}

func TestSimSwapEngine_MutateRecordsSerial(t *testing.T) {
	s := store.NewMemoryStore(10)
	e := NewSimSwapEngine(s, DefaultConfig(), nil)

	res := e.Evaluate(context.Background(), simRequest("user-1", "dev-1", "serial-1"))
	require.NotNil(t, res.Mutate)

	profile := &store.DeviceProfile{DeviceID: "dev-1"}
	res.Mutate(profile)
	assert.Equal(t, "serial-1", profile.KnownSimSerial)
	assert.False(t, profile.SimUpdatedAt.IsZero())

	// Same serial again leaves the update timestamp alone
	stamp := profile.SimUpdatedAt
	res.Mutate(profile)
	assert.Equal(t, stamp, profile.SimUpdatedAt)
}
