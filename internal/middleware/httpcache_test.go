package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	return raw, ok
}

func (m *memoryCache) Set(_ context.Context, key string, raw []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	m.ttls[key] = ttl
}

func (m *memoryCache) Purge(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

func (m *memoryCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func asUser(c *gin.Context) {
	if id := c.GetHeader("X-User"); id != "" {
		c.Set(ContextKeyUserID, id)
	}
	c.Next()
}

func cachedRouter(store responseCache, opts HTTPCacheOptions) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	hits := 0
	title := "first draft"
	r := gin.New()
	g := r.Group("", asUser, httpCache(store, opts))
	g.GET("/stories/:id/html", func(c *gin.Context) {
		hits++
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte("<h1>"+title+"</h1>"))
	})
	g.GET("/missing", func(c *gin.Context) {
		hits++
		c.String(http.StatusNotFound, "nope")
	})
	g.PATCH("/stories/:id", func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusBadRequest)
			return
		}
		title = "second draft"
		c.Status(http.StatusOK)
	})
	return r, &hits
}

func get(r http.Handler, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHTTPCacheServesRepeatGetsPerUser(t *testing.T) {
	store := newMemoryCache()
	r, hits := cachedRouter(store, HTTPCacheOptions{TTL: 5 * time.Second})

	first := get(r, "/stories/s1/html", "u1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "miss", first.Header().Get(HTTPCacheHeader))
	assert.Contains(t, first.Header().Get("Cache-Control"), "private")

	second := get(r, "/stories/s1/html", "u1")
	assert.Equal(t, "hit", second.Header().Get(HTTPCacheHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, *hits)

	other := get(r, "/stories/s1/html", "u2")
	assert.Equal(t, "miss", other.Header().Get(HTTPCacheHeader))
	assert.Equal(t, 2, *hits)

	for key, ttl := range store.ttls {
		assert.Equal(t, 5*time.Second, ttl, key)
	}
}

func TestHTTPCachePurgesAfterSuccessfulWrite(t *testing.T) {
	store := newMemoryCache()
	r, hits := cachedRouter(store, HTTPCacheOptions{})

	get(r, "/stories/s1/html", "u1")
	get(r, "/stories/s1/html", "u2")
	require.Equal(t, 2, store.len())

	failed := httptest.NewRequest(http.MethodPatch, "/stories/s1?fail=1", nil)
	failed.Header.Set("X-User", "u1")
	r.ServeHTTP(httptest.NewRecorder(), failed)
	assert.Equal(t, 2, store.len())

	patch := httptest.NewRequest(http.MethodPatch, "/stories/s1", nil)
	patch.Header.Set("X-User", "u1")
	r.ServeHTTP(httptest.NewRecorder(), patch)
	assert.Equal(t, 1, store.len())

	fresh := get(r, "/stories/s1/html", "u1")
	assert.Equal(t, "miss", fresh.Header().Get(HTTPCacheHeader))
	assert.Contains(t, fresh.Body.String(), "second draft")
	assert.Equal(t, 3, *hits)
}

func TestHTTPCacheSkipsUncacheable(t *testing.T) {
	store := newMemoryCache()
	r, hits := cachedRouter(store, HTTPCacheOptions{MaxBodyBytes: 4})

	get(r, "/missing", "u1")
	get(r, "/missing", "u1")
	assert.Equal(t, 2, *hits)

	get(r, "/stories/s1/html", "u1")
	get(r, "/stories/s1/html", "u1")
	assert.Equal(t, 4, *hits)

	get(r, "/stories/s1/html", "")
	assert.Equal(t, 0, store.len())
}

func TestHTTPCacheWithoutStorePassesThrough(t *testing.T) {
	r, hits := cachedRouter(nil, HTTPCacheOptions{})
	get(r, "/stories/s1/html", "u1")
	w := get(r, "/stories/s1/html", "u1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(HTTPCacheHeader))
	assert.Equal(t, 2, *hits)
}
