package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustsignal/trustsignal/internal/common/database"
	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(&database.RedisClient{Client: client}, 5, nil), mr
}

func TestRedisStore_DeviceProfileRoundTrip(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	p, err := s.GetDeviceProfile(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	now := time.Now().UTC().Truncate(time.Second)
	profile := &DeviceProfile{
		DeviceID:    "dev-1",
		UserID:      "user-1",
		FirstSeenAt: now,
		LastSeenAt:  now,
		SeenCount:   1,
	}
	profile.AddFingerprint("fp-1")
	require.NoError(t, s.UpsertDeviceProfile(ctx, profile))

	got, err := s.GetDeviceProfile(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.HasFingerprint("fp-1"))
	assert.True(t, got.FirstSeenAt.Equal(now))

	devices, err := s.ListUserDevices(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, devices)
}

func TestRedisStore_VersionConflict(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDeviceProfile(ctx, &DeviceProfile{DeviceID: "dev-1", SeenCount: 1}))

	stale := &DeviceProfile{DeviceID: "dev-1", SeenCount: 2, Version: 0}
	assert.ErrorIs(t, s.UpsertDeviceProfile(ctx, stale), ErrVersionConflict)

	fresh, err := s.GetDeviceProfile(ctx, "dev-1")
	require.NoError(t, err)
	fresh.SeenCount = 2
	require.NoError(t, s.UpsertDeviceProfile(ctx, fresh))

	got, err := s.GetDeviceProfile(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SeenCount)
	assert.Equal(t, int64(2), got.Version)
}

func TestRedisStore_BaselineRoundTrip(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	baseline := &BehavioralBaseline{Key: "user-1", SampleCount: 5}
	for _, v := range []float64{100, 110, 105} {
		baseline.Dwell.Add(v)
	}
	require.NoError(t, s.UpsertBaseline(ctx, baseline))

	got, err := s.GetBaseline(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Dwell.Count)
	assert.InDelta(t, 105, got.Dwell.Mean, 0.001)
	assert.Equal(t, int64(1), got.Version)

	stale := &BehavioralBaseline{Key: "user-1", Version: 0}
	assert.ErrorIs(t, s.UpsertBaseline(ctx, stale), ErrVersionConflict)
}

func TestRedisStore_GeoHistoryOrderAndBound(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendGeoPoint(ctx, "user-1", GeoPoint{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Lat:       float64(i),
		}))
	}

	points, err := s.GetGeoHistory(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, points, 5)

	// Oldest-first of the retained newest 5
	assert.Equal(t, float64(3), points[0].Lat)
	assert.Equal(t, float64(7), points[4].Lat)
}

func TestRedisStore_MutationVelocity(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordMutation(ctx, "dev-1"))
	}

	n, err := s.CountRecentMutations(ctx, "dev-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Counting is read-only
	n, err = s.CountRecentMutations(ctx, "dev-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRedisStore_CountRecentMutations_WindowBound(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMutation(ctx, "dev-1"))
	require.NoError(t, s.RecordMutation(ctx, "dev-1"))

	// An event older than the window is not counted
	old := time.Now().Add(-2 * time.Minute)
	require.NoError(t, s.redis.Client.ZAdd(ctx, mutationKeyPrefix+"dev-1", redis.Z{
		Score:  float64(old.UnixNano()),
		Member: "stale",
	}).Err())

	n, err := s.CountRecentMutations(ctx, "dev-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStore_GetFailureIsStoreError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(&database.RedisClient{Client: client}, 5, nil)
	require.NoError(t, client.Close())

	_, err := s.GetDeviceProfile(context.Background(), "dev-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrStore))
}
