package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/common/database"
	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
	"github.com/trustsignal/trustsignal/internal/metrics"
)

// Redis key prefixes for profile state
const (
	deviceKeyPrefix   = "profile:device:"
	userDevicesPrefix = "profile:user:"
	baselineKeyPrefix = "baseline:"
	geoKeyPrefix      = "geo:"
	mutationKeyPrefix = "velocity:device:"
	profileTTL        = 30 * 24 * time.Hour
	mutationTTL       = 24 * time.Hour
	upsertRetries     = 3
)

const metricsService = "scoring-service"

// RedisStore is the Redis-backed ProfileStore. Upserts run inside WATCH
// transactions keyed on the entity record, retried on contention, so
// concurrent scorers for the same device or user never lose updates.
type RedisStore struct {
	redis  *database.RedisClient
	maxGeo int
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore retaining up to maxGeoPoints locations
// per user.
func NewRedisStore(redisClient *database.RedisClient, maxGeoPoints int, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxGeoPoints <= 0 {
		maxGeoPoints = 20
	}
	return &RedisStore{
		redis:  redisClient,
		maxGeo: maxGeoPoints,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

func (s *RedisStore) GetDeviceProfile(ctx context.Context, deviceID string) (*DeviceProfile, error) {
	data, err := s.redis.Client.Get(ctx, deviceKeyPrefix+deviceID).Result()
	if err == redis.Nil {
		metrics.RecordCacheOperation(metricsService, "get_device_profile", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.RecordCacheOperation(metricsService, "get_device_profile", "error")
		return nil, apperrors.StoreError("get device profile", err)
	}
	var profile DeviceProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, apperrors.StoreError("decode device profile", err)
	}
	metrics.RecordCacheOperation(metricsService, "get_device_profile", "hit")
	return &profile, nil
}

func (s *RedisStore) UpsertDeviceProfile(ctx context.Context, profile *DeviceProfile) error {
	key := deviceKeyPrefix + profile.DeviceID

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var existing DeviceProfile
			if json.Unmarshal([]byte(current), &existing) == nil && existing.Version != profile.Version {
				return ErrVersionConflict
			}
		}

		next := *profile
		next.Version++
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, profileTTL)
			if profile.UserID != "" {
				setKey := userDevicesPrefix + profile.UserID + ":devices"
				pipe.SAdd(ctx, setKey, profile.DeviceID)
				pipe.Expire(ctx, setKey, profileTTL)
			}
			return nil
		})
		return err
	}

	for i := 0; i < upsertRetries; i++ {
		err := s.redis.Client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil && err != ErrVersionConflict {
			return apperrors.StoreError("upsert device profile", err)
		}
		return err
	}
	return ErrVersionConflict
}

func (s *RedisStore) ListUserDevices(ctx context.Context, userID string) ([]string, error) {
	devices, err := s.redis.Client.SMembers(ctx, userDevicesPrefix+userID+":devices").Result()
	if err != nil && err != redis.Nil {
		return nil, apperrors.StoreError("list user devices", err)
	}
	return devices, nil
}

func (s *RedisStore) GetBaseline(ctx context.Context, key string) (*BehavioralBaseline, error) {
	data, err := s.redis.Client.Get(ctx, baselineKeyPrefix+key).Result()
	if err == redis.Nil {
		metrics.RecordCacheOperation(metricsService, "get_baseline", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.RecordCacheOperation(metricsService, "get_baseline", "error")
		return nil, apperrors.StoreError("get baseline", err)
	}
	var baseline BehavioralBaseline
	if err := json.Unmarshal([]byte(data), &baseline); err != nil {
		return nil, apperrors.StoreError("decode baseline", err)
	}
	metrics.RecordCacheOperation(metricsService, "get_baseline", "hit")
	return &baseline, nil
}

func (s *RedisStore) UpsertBaseline(ctx context.Context, baseline *BehavioralBaseline) error {
	key := baselineKeyPrefix + baseline.Key

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var existing BehavioralBaseline
			if json.Unmarshal([]byte(current), &existing) == nil && existing.Version != baseline.Version {
				return ErrVersionConflict
			}
		}

		next := *baseline
		next.Version++
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, profileTTL)
			return nil
		})
		return err
	}

	for i := 0; i < upsertRetries; i++ {
		err := s.redis.Client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil && err != ErrVersionConflict {
			return apperrors.StoreError("upsert baseline", err)
		}
		return err
	}
	return ErrVersionConflict
}

func (s *RedisStore) GetGeoHistory(ctx context.Context, key string) ([]GeoPoint, error) {
	entries, err := s.redis.Client.LRange(ctx, geoKeyPrefix+key, 0, int64(s.maxGeo-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, apperrors.StoreError("get geo history", err)
	}

	// Stored newest-first; return oldest-first.
	points := make([]GeoPoint, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var pt GeoPoint
		if json.Unmarshal([]byte(entries[i]), &pt) == nil {
			points = append(points, pt)
		}
	}
	return points, nil
}

func (s *RedisStore) AppendGeoPoint(ctx context.Context, key string, point GeoPoint) error {
	data, err := json.Marshal(&point)
	if err != nil {
		return err
	}

	listKey := geoKeyPrefix + key
	pipe := s.redis.Client.Pipeline()
	pipe.LPush(ctx, listKey, data)
	pipe.LTrim(ctx, listKey, 0, int64(s.maxGeo-1))
	pipe.Expire(ctx, listKey, profileTTL)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return apperrors.StoreError("append geo point", err)
	}
	return nil
}

func (s *RedisStore) RecordMutation(ctx context.Context, deviceID string) error {
	key := mutationKeyPrefix + deviceID
	now := time.Now()

	pipe := s.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.Add(-mutationTTL).UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, mutationTTL)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return apperrors.StoreError("record mutation", err)
	}
	return nil
}

func (s *RedisStore) CountRecentMutations(ctx context.Context, deviceID string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)
	count, err := s.redis.Client.ZCount(ctx, mutationKeyPrefix+deviceID,
		fmt.Sprintf("(%d", cutoff.UnixNano()), "+inf").Result()
	if err != nil && err != redis.Nil {
		return 0, apperrors.StoreError("count mutations", err)
	}
	return int(count), nil
}
