// Package geo provides IP geolocation for the scoring pipeline. The core
// only consumes the Resolver interface; provisioning of GeoIP data is an
// external concern.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/common/database"
	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
	"github.com/trustsignal/trustsignal/internal/metrics"
)

// Location is a resolved IP location.
type Location struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	ASN       string  `json:"as,omitempty"`
	VPNLikely bool    `json:"vpn_likely"`
	Private   bool    `json:"private"`
}

// Resolver resolves an IP address to a location. Implementations must honor
// the ctx deadline; callers degrade to a neutral geo signal on error.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// ipAPIResponse mirrors the ip-api.com JSON payload.
type ipAPIResponse struct {
	Status  string  `json:"status"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	AS      string  `json:"as"`
	Proxy   bool    `json:"proxy"`
	Hosting bool    `json:"hosting"`
	Query   string  `json:"query"`
}

// CachedResolver resolves via ip-api.com with a Redis cache in front.
type CachedResolver struct {
	redis      *database.RedisClient
	httpClient *http.Client
	baseURL    string
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewCachedResolver creates a CachedResolver. baseURL is overridable for tests;
// empty selects the public ip-api.com endpoint. cacheTTL bounds how long a
// resolved location is reused; zero or negative keeps the 24h default.
func NewCachedResolver(redisClient *database.RedisClient, baseURL string, cacheTTL time.Duration, logger *zap.Logger) *CachedResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "http://ip-api.com"
	}
	// lookupURL appends /json/<ip> itself; tolerate a base URL that already
	// carries the endpoint path so a configured ip-api.com/json still works.
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/json")
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &CachedResolver{
		redis:      redisClient,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		cacheTTL:   cacheTTL,
		logger:     logger.With(zap.String("component", "geo_resolver")),
	}
}

func (r *CachedResolver) lookupURL(ip string) string {
	return fmt.Sprintf("%s/json/%s?fields=status,country,city,lat,lon,as,proxy,hosting,query", r.baseURL, ip)
}

// Resolve looks up ip, serving from cache when possible. Private and loopback
// addresses short-circuit to a zero location marked Private.
func (r *CachedResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return &Location{Private: true}, nil
	}

	cacheKey := "geoip:" + ip
	if r.redis != nil {
		if cached, err := r.redis.Client.Get(ctx, cacheKey).Result(); err == nil {
			var loc Location
			if json.Unmarshal([]byte(cached), &loc) == nil {
				metrics.RecordCacheOperation("scoring-service", "geoip_get", "hit")
				return &loc, nil
			}
		}
		metrics.RecordCacheOperation("scoring-service", "geoip_get", "miss")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.lookupURL(ip), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.CollaboratorTimeout("geoip_service", err)
		}
		return nil, fmt.Errorf("geo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("geo read failed: %w", err)
	}

	var apiResp ipAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("geo parse failed: %w", err)
	}
	if apiResp.Status != "" && apiResp.Status != "success" {
		return nil, fmt.Errorf("geo lookup rejected for %s", ip)
	}

	loc := &Location{
		Lat:       apiResp.Lat,
		Lon:       apiResp.Lon,
		Country:   apiResp.Country,
		City:      apiResp.City,
		ASN:       apiResp.AS,
		VPNLikely: apiResp.Proxy || apiResp.Hosting,
	}

	if r.redis != nil {
		if data, err := json.Marshal(loc); err == nil {
			r.redis.Client.Set(ctx, cacheKey, data, r.cacheTTL)
		}
	}

	return loc, nil
}

// StaticResolver serves locations from a fixed table. Used in tests and
// air-gapped deployments.
type StaticResolver struct {
	Locations map[string]Location
}

// Resolve returns the configured location for ip, or an error when unmapped.
func (s *StaticResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	if loc, ok := s.Locations[ip]; ok {
		cp := loc
		return &cp, nil
	}
	return nil, fmt.Errorf("no location for IP %s", ip)
}
