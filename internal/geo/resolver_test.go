package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustsignal/trustsignal/internal/common/database"
	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
)

func newGeoAPIServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/json/1.1.1.1":
			fmt.Fprint(w, `{"status":"success","country":"Turkey","city":"Istanbul","lat":41.01,"lon":28.95,"as":"AS34984","proxy":false,"hosting":false,"query":"1.1.1.1"}`)
		case "/json/4.4.4.4":
			fmt.Fprint(w, `{"status":"success","country":"France","city":"Paris","lat":48.85,"lon":2.35,"as":"AS16276","proxy":false,"hosting":true,"query":"4.4.4.4"}`)
		default:
			fmt.Fprint(w, `{"status":"fail","query":"unknown"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCachedResolver_Resolve(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)
	r := NewCachedResolver(nil, srv.URL, 0, nil)

	loc, err := r.Resolve(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.InDelta(t, 41.01, loc.Lat, 0.001)
	assert.Equal(t, "Istanbul", loc.City)
	assert.Equal(t, "AS34984", loc.ASN)
	assert.False(t, loc.VPNLikely)
}

func TestCachedResolver_LookupURL(t *testing.T) {
	r := NewCachedResolver(nil, "http://ip-api.com", 0, nil)
	assert.Equal(t,
		"http://ip-api.com/json/8.8.8.8?fields=status,country,city,lat,lon,as,proxy,hosting,query",
		r.lookupURL("8.8.8.8"))
}

func TestCachedResolver_BaseURLWithEndpointPath(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)

	// A base URL already carrying /json must not double the path segment
	for _, base := range []string{srv.URL + "/json", srv.URL + "/json/", srv.URL + "/"} {
		r := NewCachedResolver(nil, base, 0, nil)
		loc, err := r.Resolve(context.Background(), "1.1.1.1")
		require.NoError(t, err, base)
		assert.Equal(t, "Istanbul", loc.City, base)
	}
}

func TestCachedResolver_HostingMarksVPN(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)
	r := NewCachedResolver(nil, srv.URL, 0, nil)

	loc, err := r.Resolve(context.Background(), "4.4.4.4")
	require.NoError(t, err)
	assert.True(t, loc.VPNLikely)
}

func TestCachedResolver_PrivateIPShortCircuits(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)
	r := NewCachedResolver(nil, srv.URL, 0, nil)

	for _, ip := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.1"} {
		loc, err := r.Resolve(context.Background(), ip)
		require.NoError(t, err, ip)
		assert.True(t, loc.Private, ip)
	}
	assert.Equal(t, int64(0), hits.Load(), "private IPs never hit the API")
}

func TestCachedResolver_InvalidIP(t *testing.T) {
	r := NewCachedResolver(nil, "http://unused.invalid", 0, nil)

	_, err := r.Resolve(context.Background(), "not-an-ip")
	assert.Error(t, err)
}

func TestCachedResolver_LookupRejected(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)
	r := NewCachedResolver(nil, srv.URL, 0, nil)

	_, err := r.Resolve(context.Background(), "8.8.8.8")
	assert.Error(t, err)
}

func TestCachedResolver_CacheHit(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	r := NewCachedResolver(&database.RedisClient{Client: client}, srv.URL, 0, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	// Second lookup is served from Redis without touching the API
	second, err := r.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, first, second)

	// Cache expiry forces a fresh lookup
	mr.FastForward(25 * time.Hour)
	_, err = r.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestCachedResolver_ConfiguredTTL(t *testing.T) {
	var hits atomic.Int64
	srv := newGeoAPIServer(t, &hits)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	r := NewCachedResolver(&database.RedisClient{Client: client}, srv.URL, time.Minute, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	mr.FastForward(30 * time.Second)
	_, err = r.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "entry inside the TTL is served from cache")

	mr.FastForward(2 * time.Minute)
	_, err = r.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load(), "expired entry forces a fresh lookup")
}

func TestCachedResolver_TimeoutIsCollaboratorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"status":"success","query":"8.8.8.8"}`)
	}))
	t.Cleanup(srv.Close)

	r := NewCachedResolver(nil, srv.URL, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, "8.8.8.8")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCollaboratorTimeout))
}

func TestStaticResolver(t *testing.T) {
	r := &StaticResolver{Locations: map[string]Location{
		"1.1.1.1": {Lat: 41.01, Lon: 28.95, City: "Istanbul"},
	}}

	loc, err := r.Resolve(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "Istanbul", loc.City)

	// Returned location is a copy, not the map entry
	loc.City = "mutated"
	again, err := r.Resolve(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "Istanbul", again.City)

	_, err = r.Resolve(context.Background(), "9.9.9.9")
	assert.Error(t, err)
}
