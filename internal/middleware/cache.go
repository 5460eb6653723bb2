package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/meetup-schedule/internal/config"
)

// captureWriter tees the response body into buf, up to limit bytes.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 || cw.size+int64(len(b)) <= cw.limit {
		cw.buf.Write(b)
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// cacheKey derives the Redis key from the concrete request path, so every
// schedule gets its own entry.
func cacheKey(cfg config.CacheConfig, method, path, query string) string {
	var tail string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		tail = "route:" + path
	case "method_route":
		tail = "method:" + method + ":route:" + path
	case "method_route_query":
		tail = "method:" + method + ":route:" + path + ":q:" + query
	default:
		tail = "route:" + path + ":q:" + query
	}
	sum := sha1.Sum([]byte(tail))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// pathIndexKey is the set of cache keys stored for one path, regardless of
// query string.  Invalidation deletes the whole set.
func pathIndexKey(cfg config.CacheConfig, path string) string {
	return cfg.Prefix + ":idx:" + path
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdr)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdr)))
	copy(out[8:], hdr)
	copy(out[8+len(hdr):], body)
	return out, nil
}

func decodePayload(bs []byte) (int, http.Header, []byte, bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status := int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	hdr := make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, hdr, bs[8+hlen:], true
}

// NewRedisCache serves cacheable methods from Redis and stores 200
// responses on a miss.  Other methods pass through; entries are dropped by
// a CacheInvalidator when the underlying data changes.  Without Redis it
// is a pass-through.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !cfg.Methods[strings.ToUpper(req.Method)] {
				return next(c)
			}

			ctx := req.Context()
			key := cacheKey(cfg, req.Method, req.URL.Path, req.URL.RawQuery)
			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, "Content-Length") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			// detached: the request context may already be cancelled
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			idx := pathIndexKey(cfg, req.URL.Path)
			_, _ = rdb.TxPipelined(sctx, func(p redis.Pipeliner) error {
				p.Set(sctx, key, payload, ttl)
				p.SAdd(sctx, idx, key)
				p.Expire(sctx, idx, ttl)
				return nil
			})
			return nil
		}
	}
}

// CacheInvalidator deletes the cached responses stored for request paths.
// A nil client or a disabled cache makes it a no-op.
type CacheInvalidator struct {
	cfg config.CacheConfig
	rdb *redis.Client
}

func NewCacheInvalidator(cfg config.CacheConfig, rdb *redis.Client) *CacheInvalidator {
	return &CacheInvalidator{cfg: cfg, rdb: rdb}
}

// InvalidatePaths drops every entry cached for paths, whatever the query
// string.  Errors are ignored; the TTL bounds staleness.
func (ci *CacheInvalidator) InvalidatePaths(ctx context.Context, paths ...string) {
	if ci == nil || ci.rdb == nil || !ci.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	for _, path := range paths {
		idx := pathIndexKey(ci.cfg, path)
		keys, err := ci.rdb.SMembers(ctx, idx).Result()
		if err != nil {
			continue
		}
		_ = ci.rdb.Del(ctx, append(keys, idx)...).Err()
	}
}
