package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/common/database"
	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
	"github.com/trustsignal/trustsignal/internal/metrics"
)

// PostgresStore is the durable ProfileStore backed by pgx. Optimistic
// concurrency uses a version column checked in the UPDATE predicate.
type PostgresStore struct {
	db     *database.PostgresDB
	maxGeo int
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore retaining up to maxGeoPoints
// locations per user.
func NewPostgresStore(db *database.PostgresDB, maxGeoPoints int, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxGeoPoints <= 0 {
		maxGeoPoints = 20
	}
	return &PostgresStore{
		db:     db,
		maxGeo: maxGeoPoints,
		logger: logger.With(zap.String("component", "postgres_store")),
	}
}

// observe feeds the per-table query histogram.
func (s *PostgresStore) observe(operation, table string, start time.Time) {
	metrics.RecordDBQuery(metricsService, operation, table, time.Since(start))
}

func (s *PostgresStore) GetDeviceProfile(ctx context.Context, deviceID string) (*DeviceProfile, error) {
	defer s.observe("select", "device_profiles", time.Now())

	profile := &DeviceProfile{DeviceID: deviceID}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(user_id, ''), first_seen_at, last_seen_at, seen_count,
		       known_fingerprints, COALESCE(known_sim_serial, ''),
		       COALESCE(sim_updated_at, 'epoch'::timestamptz), version
		FROM device_profiles
		WHERE device_id = $1
	`, deviceID).Scan(&profile.UserID, &profile.FirstSeenAt, &profile.LastSeenAt,
		&profile.SeenCount, &profile.KnownFingerprints, &profile.KnownSimSerial,
		&profile.SimUpdatedAt, &profile.Version)
	if err != nil {
		// pgx.ErrNoRows and transient failures both degrade to "no history";
		// the caller treats missing profiles as a neutral signal.
		return nil, nil
	}
	return profile, nil
}

func (s *PostgresStore) UpsertDeviceProfile(ctx context.Context, profile *DeviceProfile) error {
	defer s.observe("upsert", "device_profiles", time.Now())

	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO device_profiles
			(device_id, user_id, first_seen_at, last_seen_at, seen_count,
			 known_fingerprints, known_sim_serial, sim_updated_at, version)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, 'epoch'::timestamptz), $9 + 1)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id            = EXCLUDED.user_id,
			last_seen_at       = EXCLUDED.last_seen_at,
			seen_count         = EXCLUDED.seen_count,
			known_fingerprints = EXCLUDED.known_fingerprints,
			known_sim_serial   = EXCLUDED.known_sim_serial,
			sim_updated_at     = EXCLUDED.sim_updated_at,
			version            = device_profiles.version + 1
		WHERE device_profiles.version = $9
	`, profile.DeviceID, profile.UserID, profile.FirstSeenAt, profile.LastSeenAt,
		profile.SeenCount, profile.KnownFingerprints, profile.KnownSimSerial,
		profile.SimUpdatedAt, profile.Version)
	if err != nil {
		return apperrors.StoreError("upsert device profile", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) ListUserDevices(ctx context.Context, userID string) ([]string, error) {
	defer s.observe("select", "device_profiles", time.Now())

	rows, err := s.db.Pool.Query(ctx,
		`SELECT device_id FROM device_profiles WHERE user_id = $1 ORDER BY last_seen_at DESC`,
		userID)
	if err != nil {
		return nil, apperrors.StoreError("list user devices", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil {
			devices = append(devices, id)
		}
	}
	return devices, nil
}

func (s *PostgresStore) GetBaseline(ctx context.Context, key string) (*BehavioralBaseline, error) {
	defer s.observe("select", "behavioral_baselines", time.Now())

	baseline := &BehavioralBaseline{Key: key}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT dwell_count, dwell_mean, dwell_m2,
		       flight_count, flight_mean, flight_m2,
		       entropy_count, entropy_mean, entropy_m2,
		       sample_count, established_at, version
		FROM behavioral_baselines
		WHERE profile_key = $1
	`, key).Scan(&baseline.Dwell.Count, &baseline.Dwell.Mean, &baseline.Dwell.M2,
		&baseline.Flight.Count, &baseline.Flight.Mean, &baseline.Flight.M2,
		&baseline.Entropy.Count, &baseline.Entropy.Mean, &baseline.Entropy.M2,
		&baseline.SampleCount, &baseline.EstablishedAt, &baseline.Version)
	if err != nil {
		return nil, nil
	}
	return baseline, nil
}

func (s *PostgresStore) UpsertBaseline(ctx context.Context, baseline *BehavioralBaseline) error {
	defer s.observe("upsert", "behavioral_baselines", time.Now())

	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO behavioral_baselines
			(profile_key, dwell_count, dwell_mean, dwell_m2,
			 flight_count, flight_mean, flight_m2,
			 entropy_count, entropy_mean, entropy_m2,
			 sample_count, established_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13 + 1)
		ON CONFLICT (profile_key) DO UPDATE SET
			dwell_count    = EXCLUDED.dwell_count,
			dwell_mean     = EXCLUDED.dwell_mean,
			dwell_m2       = EXCLUDED.dwell_m2,
			flight_count   = EXCLUDED.flight_count,
			flight_mean    = EXCLUDED.flight_mean,
			flight_m2      = EXCLUDED.flight_m2,
			entropy_count  = EXCLUDED.entropy_count,
			entropy_mean   = EXCLUDED.entropy_mean,
			entropy_m2     = EXCLUDED.entropy_m2,
			sample_count   = EXCLUDED.sample_count,
			established_at = EXCLUDED.established_at,
			version        = behavioral_baselines.version + 1
		WHERE behavioral_baselines.version = $13
	`, baseline.Key, baseline.Dwell.Count, baseline.Dwell.Mean, baseline.Dwell.M2,
		baseline.Flight.Count, baseline.Flight.Mean, baseline.Flight.M2,
		baseline.Entropy.Count, baseline.Entropy.Mean, baseline.Entropy.M2,
		baseline.SampleCount, baseline.EstablishedAt, baseline.Version)
	if err != nil {
		return apperrors.StoreError("upsert baseline", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) GetGeoHistory(ctx context.Context, key string) ([]GeoPoint, error) {
	defer s.observe("select", "geo_history", time.Now())

	rows, err := s.db.Pool.Query(ctx, `
		SELECT recorded_at, latitude, longitude, COALESCE(asn, ''), vpn
		FROM geo_history
		WHERE profile_key = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, key, s.maxGeo)
	if err != nil {
		return nil, apperrors.StoreError("get geo history", err)
	}
	defer rows.Close()

	var newest []GeoPoint
	for rows.Next() {
		var pt GeoPoint
		if rows.Scan(&pt.Timestamp, &pt.Lat, &pt.Lon, &pt.ASN, &pt.VPN) == nil {
			newest = append(newest, pt)
		}
	}

	// Reverse to oldest-first.
	points := make([]GeoPoint, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		points = append(points, newest[i])
	}
	return points, nil
}

func (s *PostgresStore) AppendGeoPoint(ctx context.Context, key string, point GeoPoint) error {
	defer s.observe("insert", "geo_history", time.Now())

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO geo_history (profile_key, recorded_at, latitude, longitude, asn, vpn)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, key, point.Timestamp, point.Lat, point.Lon, point.ASN, point.VPN)
	if err != nil {
		return apperrors.StoreError("append geo point", err)
	}

	// Evict entries beyond the retention window.
	_, err = s.db.Pool.Exec(ctx, `
		DELETE FROM geo_history
		WHERE profile_key = $1
		  AND id NOT IN (
			SELECT id FROM geo_history
			WHERE profile_key = $1
			ORDER BY recorded_at DESC
			LIMIT $2
		  )
	`, key, s.maxGeo)
	if err != nil {
		s.logger.Warn("Failed to trim geo history", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (s *PostgresStore) RecordMutation(ctx context.Context, deviceID string) error {
	defer s.observe("insert", "device_mutations", time.Now())

	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO device_mutations (device_id, recorded_at) VALUES ($1, NOW())`, deviceID)
	if err != nil {
		return apperrors.StoreError("record mutation", err)
	}
	return nil
}

func (s *PostgresStore) CountRecentMutations(ctx context.Context, deviceID string, window time.Duration) (int, error) {
	defer s.observe("select", "device_mutations", time.Now())

	var count int
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM device_mutations
		WHERE device_id = $1 AND recorded_at > NOW() - $2::interval
	`, deviceID, fmt.Sprintf("%d seconds", int(window.Seconds()))).Scan(&count)
	if err != nil {
		return 0, apperrors.StoreError("count mutations", err)
	}
	return count, nil
}
