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

func testRequest(userID, deviceID string) *model.FingerprintRequest {
	return &model.FingerprintRequest{
		UserID: userID,
		Device: model.Device{
			DeviceID:        deviceID,
			FingerprintHash: "fp-hash",
			Timezone:        "UTC",
		},
		Session: model.Session{
			SessionID: "sess-1",
			Timestamp: time.Now().UTC(),
		},
		UseCase: model.UseCaseLogin,
	}
}

func TestDeviceEvaluator_NewDevice(t *testing.T) {
	s := store.NewMemoryStore(10)
	e := NewDeviceEvaluator(s, DefaultConfig(), nil)

	res := e.Evaluate(context.Background(), testRequest("user-1", "dev-1"))

	assert.True(t, res.IsNewDevice)
	assert.False(t, res.DeviceChanged)
	assert.Equal(t, DefaultConfig().NewDeviceWeight, res.Contribution)
	assert.Contains(t, res.Reasons, "is_new_device")
}

func TestDeviceEvaluator_KnownDevice(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.UpsertDeviceProfile(ctx, &store.DeviceProfile{
		DeviceID: "dev-1",
		UserID:   "user-1",
	}))

	e := NewDeviceEvaluator(s, DefaultConfig(), nil)
	res := e.Evaluate(ctx, testRequest("user-1", "dev-1"))

	assert.False(t, res.IsNewDevice)
	assert.False(t, res.DeviceChanged)
	assert.Equal(t, 0.0, res.Contribution)
	assert.Empty(t, res.Reasons)
}

func TestDeviceEvaluator_DeviceChanged(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.UpsertDeviceProfile(ctx, &store.DeviceProfile{
		DeviceID: "dev-old",
		UserID:   "user-1",
	}))

	e := NewDeviceEvaluator(s, DefaultConfig(), nil)
	res := e.Evaluate(ctx, testRequest("user-1", "dev-new"))

	assert.True(t, res.IsNewDevice)
	assert.True(t, res.DeviceChanged)
	assert.Contains(t, res.Reasons, "is_new_device")
	assert.Contains(t, res.Reasons, "device_changed")

	// Contribution is capped even when multiple signals fire
	assert.LessOrEqual(t, res.Contribution, DefaultConfig().DeviceCap)
}

func TestDeviceEvaluator_MultipleDevices(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()
	for _, id := range []string{"dev-1", "dev-2"} {
		require.NoError(t, s.UpsertDeviceProfile(ctx, &store.DeviceProfile{
			DeviceID: id,
			UserID:   "user-1",
		}))
	}

	e := NewDeviceEvaluator(s, DefaultConfig(), nil)
	res := e.Evaluate(ctx, testRequest("user-1", "dev-1"))

	assert.False(t, res.IsNewDevice)
	assert.False(t, res.DeviceChanged)
	assert.Contains(t, res.Reasons, "multiple_devices")
	assert.Equal(t, DefaultConfig().MultipleDevicesWeight, res.Contribution)
}

func TestDeviceEvaluator_MutateUpdatesProfile(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()

	e := NewDeviceEvaluator(s, DefaultConfig(), nil)
	req := testRequest("user-1", "dev-1")
	res := e.Evaluate(ctx, req)
	require.NotNil(t, res.Mutate)

	profile := &store.DeviceProfile{DeviceID: "dev-1"}
	res.Mutate(profile)

	assert.Equal(t, 1, profile.SeenCount)
	assert.Equal(t, "user-1", profile.UserID)
	assert.False(t, profile.FirstSeenAt.IsZero())
	assert.True(t, profile.HasFingerprint("fp-hash"))

	// Applying again bumps the counter but not the fingerprint set
	res.Mutate(profile)
	assert.Equal(t, 2, profile.SeenCount)
	assert.Len(t, profile.KnownFingerprints, 1)
}
