package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustsignal/trustsignal/internal/geo"
	"github.com/trustsignal/trustsignal/internal/store"
)

var testLocations = map[string]geo.Location{
	"1.1.1.1": {Lat: 41.01, Lon: 28.95, Country: "Turkey", City: "Istanbul"},
	"2.2.2.2": {Lat: 40.71, Lon: -74.0, Country: "United States", City: "New York"},
	"3.3.3.3": {Lat: 41.02, Lon: 28.96, Country: "Turkey", City: "Istanbul"},
	"4.4.4.4": {Lat: 48.85, Lon: 2.35, Country: "France", City: "Paris", VPNLikely: true},
}

func newGeoDetector(s store.ProfileStore) *GeoAnomalyDetector {
	return NewGeoAnomalyDetector(s, &geo.StaticResolver{Locations: testLocations}, DefaultConfig(), nil)
}

func TestGeoAnomaly_NoHistory(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)

	req := testRequest("user-1", "dev-1")
	res := d.Evaluate(context.Background(), req, "1.1.1.1")

	assert.Equal(t, 0.0, res.Contribution)
	assert.Empty(t, res.Reasons)
	require.NotNil(t, res.Point)
	assert.InDelta(t, 41.01, res.Point.Lat, 0.001)
}

func TestGeoAnomaly_ImpossibleTravel(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)
	ctx := context.Background()
	now := time.Now().UTC()

	// Istanbul five minutes ago, New York now: ~8000 km at an absurd speed
	require.NoError(t, s.AppendGeoPoint(ctx, "user-1", store.GeoPoint{
		Timestamp: now.Add(-5 * time.Minute),
		Lat:       41.01, Lon: 28.95,
	}))

	req := testRequest("user-1", "dev-1")
	req.Session.Timestamp = now
	res := d.Evaluate(ctx, req, "2.2.2.2")

	assert.Contains(t, res.Reasons, "geo_jump")
	assert.Greater(t, res.Contribution, 0.0)
}

func TestGeoAnomaly_PlausibleTravel(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)
	ctx := context.Background()
	now := time.Now().UTC()

	// Same distance over twenty hours is a normal flight
	require.NoError(t, s.AppendGeoPoint(ctx, "user-1", store.GeoPoint{
		Timestamp: now.Add(-20 * time.Hour),
		Lat:       41.01, Lon: 28.95,
	}))

	req := testRequest("user-1", "dev-1")
	req.Session.Timestamp = now
	res := d.Evaluate(ctx, req, "2.2.2.2")

	assert.NotContains(t, res.Reasons, "geo_jump")
}

func TestGeoAnomaly_ShortHopNeverTriggers(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)
	ctx := context.Background()
	now := time.Now().UTC()

	// A couple of km across town one second apart: huge implied speed but
	// below the minimum jump distance
	require.NoError(t, s.AppendGeoPoint(ctx, "user-1", store.GeoPoint{
		Timestamp: now.Add(-time.Second),
		Lat:       41.01, Lon: 28.95,
	}))

	req := testRequest("user-1", "dev-1")
	req.Session.Timestamp = now
	res := d.Evaluate(ctx, req, "3.3.3.3")

	assert.NotContains(t, res.Reasons, "geo_jump")
}

func TestGeoAnomaly_VPN(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)

	req := testRequest("user-1", "dev-1")
	res := d.Evaluate(context.Background(), req, "4.4.4.4")

	assert.Contains(t, res.Reasons, "vpn_detected")
	assert.Equal(t, DefaultConfig().VPNWeight, res.Contribution)
	require.NotNil(t, res.Point)
	assert.True(t, res.Point.VPN)
}

func TestGeoAnomaly_UnresolvableIPIsNeutral(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)

	req := testRequest("user-1", "dev-1")
	res := d.Evaluate(context.Background(), req, "9.9.9.9")

	assert.Equal(t, 0.0, res.Contribution)
	assert.Nil(t, res.Point)
}

func TestGeoAnomaly_UnusualLocation(t *testing.T) {
	s := store.NewMemoryStore(10)
	d := newGeoDetector(s)
	ctx := context.Background()
	now := time.Now().UTC()

	// Dense Istanbul history, then a login from New York a week later
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendGeoPoint(ctx, "user-1", store.GeoPoint{
			Timestamp: now.Add(-time.Duration(30-i) * 24 * time.Hour),
			Lat:       41.01 + float64(i)*0.01,
			Lon:       28.95,
		}))
	}

	req := testRequest("user-1", "dev-1")
	req.Session.Timestamp = now
	res := d.Evaluate(ctx, req, "2.2.2.2")

	assert.Contains(t, res.Reasons, "unusual_location")
}

func TestHaversine(t *testing.T) {
	// Istanbul to New York is roughly 8000 km
	distance := haversineKm(41.01, 28.95, 40.71, -74.0)
	assert.InDelta(t, 8090, distance, 150)

	// Zero distance for the same point
	assert.InDelta(t, 0, haversineKm(41.01, 28.95, 41.01, 28.95), 0.001)
}
