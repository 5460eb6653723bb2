package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/meetup-schedule/internal/config"
	"github.com/iliyamo/meetup-schedule/internal/utils"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, UserID(c))
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", okHandler, JWTAuth("secret"))

	tok, err := utils.NewAccessToken("secret", "alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + tok.Token, http.StatusOK, "alice"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestTokenBucket_LocalFallback(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            5 * time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	e := echo.New()
	e.POST("/votes", okHandler, NewTokenBucket(cfg, nil))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/votes", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	blocked := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Equal(t, "2", blocked.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code, "buckets are per key")
}

func TestTokenBucket_Disabled(t *testing.T) {
	e := echo.New()
	e.GET("/x", okHandler, NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/schedules/s1/votes", nil)
	req.Header.Set(echo.HeaderXRealIP, "1.2.3.4")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/schedules/:id/votes")
	c.Set(UserIDKey, "bob")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_user_route"}
	assert.Equal(t, "rl:ip:1.2.3.4:user:bob:route:POST /v1/schedules/:id/votes", buildRateKey(cfg, c))
	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:bob", buildRateKey(cfg, c))
}

func TestPayloadCodec(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"id":"s1"}`))
	require.NoError(t, err)

	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, `{"id":"s1"}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
}

func TestCacheKey_DistinguishesConcretePaths(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "route_query"}
	a := cacheKey(cfg, http.MethodGet, "/v1/schedules/a", "")
	b := cacheKey(cfg, http.MethodGet, "/v1/schedules/b", "")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, cacheKey(cfg, http.MethodGet, "/v1/schedules/a", ""))
}

func TestRedisCache_PassThroughWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/x", okHandler, NewRedisCache(config.CacheConfig{Enabled: true}, nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func newMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisCache_HitMissAndInvalidate(t *testing.T) {
	rdb := newMiniredis(t)
	cfg := config.CacheConfig{
		Enabled:     true,
		TTL:         time.Minute,
		KeyStrategy: "route_query",
		Prefix:      "cache",
		Methods:     map[string]bool{http.MethodGet: true},
	}
	version := "v1"
	e := echo.New()
	e.GET("/v1/schedules/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, version)
	}, NewRedisCache(cfg, rdb))

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/v1/schedules/s1")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	get("/v1/schedules/s1?verbose=1")

	version = "v2"
	rec = get("/v1/schedules/s1")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "v1", rec.Body.String())

	inv := NewCacheInvalidator(cfg, rdb)
	inv.InvalidatePaths(context.Background(), "/v1/schedules/s1")

	rec = get("/v1/schedules/s1")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "v2", rec.Body.String())
	rec = get("/v1/schedules/s1?verbose=1")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"), "every query variant is dropped")
}

func TestCacheInvalidator_NoopWithoutRedis(t *testing.T) {
	var nilInv *CacheInvalidator
	nilInv.InvalidatePaths(context.Background(), "/x")
	NewCacheInvalidator(config.CacheConfig{Enabled: true}, nil).InvalidatePaths(context.Background(), "/x")
}
