package scoring

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/geo"
	"github.com/trustsignal/trustsignal/internal/model"
	"github.com/trustsignal/trustsignal/internal/store"
)

// geoResult carries the geographic-anomaly signal and the history append
// queued for accepted requests.
type geoResult struct {
	Contribution float64
	Reasons      []string
	Point        *store.GeoPoint // nil when the IP did not resolve
}

// GeoAnomalyDetector flags impossible travel, VPN use and unusual locations
// by combining the resolver result with the stored location history.
type GeoAnomalyDetector struct {
	store    store.ProfileStore
	resolver geo.Resolver
	cfg      Config
	logger   *zap.Logger
}

// NewGeoAnomalyDetector creates a GeoAnomalyDetector.
func NewGeoAnomalyDetector(profileStore store.ProfileStore, resolver geo.Resolver, cfg Config, logger *zap.Logger) *GeoAnomalyDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeoAnomalyDetector{
		store:    profileStore,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "geo_anomaly")),
	}
}

// Evaluate scores geographic signals for the request. Resolver or store
// failures degrade to a neutral signal.
func (d *GeoAnomalyDetector) Evaluate(ctx context.Context, req *model.FingerprintRequest, clientIP string) geoResult {
	result := geoResult{}
	if clientIP == "" {
		return result
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()

	loc, err := d.resolver.Resolve(lookupCtx, clientIP)
	if err != nil {
		d.logger.Warn("Geo resolution degraded", zap.String("ip", clientIP), zap.Error(err))
		return result
	}
	if loc.Private || (loc.Lat == 0 && loc.Lon == 0) {
		return result
	}

	now := req.Session.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	result.Point = &store.GeoPoint{
		Timestamp: now,
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		ASN:       loc.ASN,
		VPN:       loc.VPNLikely,
	}

	if loc.VPNLikely {
		result.Contribution += d.cfg.VPNWeight
		result.Reasons = append(result.Reasons, "vpn_detected")
	}

	history, err := d.store.GetGeoHistory(lookupCtx, req.ProfileKey())
	if err != nil {
		d.logger.Warn("Geo history lookup degraded",
			zap.String("key", req.ProfileKey()),
			zap.Error(err))
		history = nil
	}

	if len(history) > 0 {
		last := history[len(history)-1]
		distance := haversineKm(last.Lat, last.Lon, loc.Lat, loc.Lon)
		elapsed := now.Sub(last.Timestamp)
		if elapsed < time.Second {
			elapsed = time.Second
		}
		speed := distance / elapsed.Hours()

		if distance > d.cfg.MinJumpDistanceKm && speed > d.cfg.MaxTravelSpeedKmH {
			result.Contribution += d.cfg.GeoJumpWeight
			result.Reasons = append(result.Reasons, "geo_jump")
			d.logger.Warn("Impossible travel detected",
				zap.String("key", req.ProfileKey()),
				zap.Float64("distance_km", distance),
				zap.Duration("elapsed", elapsed),
				zap.Float64("implied_speed_kmh", speed))
		}

		if d.isUnusualLocation(loc.Lat, loc.Lon, history) {
			result.Contribution += d.cfg.UnusualLocationWeight
			result.Reasons = append(result.Reasons, "unusual_location")
		}
	}

	if result.Contribution > d.cfg.GeoCap {
		result.Contribution = d.cfg.GeoCap
	}

	return result
}

// isUnusualLocation checks the new location's distance from the user's
// historical centroid. Sparse history falls back to a fixed radius;
// otherwise the 95th percentile of the prior spread is the threshold.
func (d *GeoAnomalyDetector) isUnusualLocation(lat, lon float64, history []store.GeoPoint) bool {
	var sumLat, sumLon float64
	for _, p := range history {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	centroidLat := sumLat / float64(len(history))
	centroidLon := sumLon / float64(len(history))
	distance := haversineKm(centroidLat, centroidLon, lat, lon)

	if len(history) < d.cfg.SparseHistoryCount {
		return distance > d.cfg.SparseHistoryKm
	}

	spreads := make([]float64, 0, len(history))
	for _, p := range history {
		spreads = append(spreads, haversineKm(centroidLat, centroidLon, p.Lat, p.Lon))
	}
	sort.Float64s(spreads)
	idx := int(math.Ceil(0.95*float64(len(spreads)))) - 1
	if idx < 0 {
		idx = 0
	}
	threshold := spreads[idx]
	if threshold < d.cfg.SparseHistoryKm {
		threshold = d.cfg.SparseHistoryKm
	}
	return distance > threshold
}

// haversineKm calculates the great-circle distance between two points in km.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
