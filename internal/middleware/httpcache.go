package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	HTTPCachePrefix         = "storyloom:http-cache:"
	HTTPCacheHeader         = "X-Storyloom-Cache"
	defaultHTTPCacheTTL     = 15 * time.Second
	defaultHTTPCacheMaxBody = 1 << 20 // 1 MiB
)

type HTTPCacheOptions struct {
	TTL          time.Duration
	Disable      bool
	MaxBodyBytes int
}

// responseCache is the storage the cache middleware needs.
type responseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, raw []byte, ttl time.Duration)
	Purge(ctx context.Context, prefix string) (int64, error)
}

type redisResponseCache struct {
	rdb *redis.Client
}

func (r redisResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	return raw, true
}

func (r redisResponseCache) Set(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	_ = r.rdb.Set(ctx, key, raw, ttl).Err()
}

func (r redisResponseCache) Purge(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

type cachedHTTPResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	BodyBase64  string `json:"body_base64"`
	Body        []byte `json:"-"`
}

type cacheBodyWriter struct {
	gin.ResponseWriter
	body         []byte
	maxBodyBytes int
	overflow     bool
}

func (w *cacheBodyWriter) Write(data []byte) (int, error) {
	w.capture(data)
	return w.ResponseWriter.Write(data)
}

func (w *cacheBodyWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *cacheBodyWriter) capture(data []byte) {
	if w.maxBodyBytes <= 0 || w.overflow || len(data) == 0 {
		return
	}
	remaining := w.maxBodyBytes - len(w.body)
	if remaining <= 0 {
		w.overflow = true
		return
	}
	if len(data) > remaining {
		w.body = append(w.body, data[:remaining]...)
		w.overflow = true
		return
	}
	w.body = append(w.body, data...)
}

func normalizeHTTPCacheOptions(opts HTTPCacheOptions) HTTPCacheOptions {
	if opts.TTL <= 0 {
		opts.TTL = defaultHTTPCacheTTL
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultHTTPCacheMaxBody
	}
	return opts
}

// HTTPCache caches successful GET responses per caller for a short TTL and
// drops all of a caller's entries after any successful write that passes
// through the same route group. It must run after Auth.
func HTTPCache(rdb *redis.Client, opts HTTPCacheOptions) gin.HandlerFunc {
	if rdb == nil {
		return httpCache(nil, opts)
	}
	return httpCache(redisResponseCache{rdb: rdb}, opts)
}

func httpCache(store responseCache, opts HTTPCacheOptions) gin.HandlerFunc {
	options := normalizeHTTPCacheOptions(opts)
	return func(c *gin.Context) {
		userID := CurrentUserID(c)
		if options.Disable || store == nil || userID == "" {
			c.Next()
			return
		}

		if c.Request.Method != http.MethodGet {
			c.Next()
			if status := c.Writer.Status(); status >= 200 && status < 300 {
				_, _ = store.Purge(c.Request.Context(), userCachePrefix(userID))
			}
			return
		}

		cacheKey := httpCacheKey(userID, c.Request.URL.RequestURI())
		if payload, ok := readCachedResponse(c.Request.Context(), store, cacheKey); ok {
			setPrivateCacheHeader(c.Writer)
			c.Header(HTTPCacheHeader, "hit")
			c.Data(payload.Status, payload.ContentType, payload.Body)
			c.Abort()
			return
		}

		buffer := &cacheBodyWriter{
			ResponseWriter: c.Writer,
			maxBodyBytes:   options.MaxBodyBytes,
		}
		c.Writer = buffer
		setPrivateCacheHeader(c.Writer)
		c.Header(HTTPCacheHeader, "miss")
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusOK || buffer.overflow || len(buffer.body) == 0 {
			return
		}
		if !isCacheableResponse(c.Writer.Header()) {
			return
		}

		raw, err := json.Marshal(cachedHTTPResponse{
			Status:      status,
			ContentType: c.Writer.Header().Get("Content-Type"),
			BodyBase64:  base64.StdEncoding.EncodeToString(buffer.body),
		})
		if err != nil {
			return
		}
		store.Set(c.Request.Context(), cacheKey, raw, options.TTL)
	}
}

func userCachePrefix(userID string) string {
	return HTTPCachePrefix + userID + ":"
}

func httpCacheKey(userID, requestURI string) string {
	sum := sha256.Sum256([]byte(requestURI))
	return userCachePrefix(userID) + hex.EncodeToString(sum[:])
}

func readCachedResponse(ctx context.Context, store responseCache, cacheKey string) (cachedHTTPResponse, bool) {
	raw, ok := store.Get(ctx, cacheKey)
	if !ok {
		return cachedHTTPResponse{}, false
	}
	var payload cachedHTTPResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return cachedHTTPResponse{}, false
	}
	if payload.Status <= 0 {
		payload.Status = http.StatusOK
	}
	if payload.ContentType == "" {
		payload.ContentType = "application/json; charset=utf-8"
	}
	body, err := base64.StdEncoding.DecodeString(payload.BodyBase64)
	if err != nil {
		return cachedHTTPResponse{}, false
	}
	payload.Body = body
	return payload, true
}

func isCacheableResponse(headers http.Header) bool {
	cacheControl := strings.ToLower(headers.Get("Cache-Control"))
	return !strings.Contains(cacheControl, "no-store")
}

// Entries are per caller, so shared caches must never keep them.
func setPrivateCacheHeader(w gin.ResponseWriter) {
	w.Header().Set("Cache-Control", "private, max-age=0, no-cache")
}
