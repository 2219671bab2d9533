package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/config"
	"github.com/storyloom/core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchOriginPattern(t *testing.T) {
	tests := []struct {
		pattern, origin string
		want            bool
	}{
		{"app.storyloom.io", "https://app.storyloom.io", true},
		{"*.storyloom.io", "https://beta.storyloom.io", true},
		{"*.storyloom.io", "https://storyloom.io.evil.com", false},
		{"localhost:*", "http://localhost:5173", true},
		{"localhost:*", "http://localhost.evil:80", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchOriginPattern(tt.pattern, extractOriginHost(tt.origin)), tt.pattern+" "+tt.origin)
	}
}

func TestCorsConfigRestrictsOriginsInProduction(t *testing.T) {
	cfg := config.Default()
	cfg.Env = "production"
	cfg.AllowedOrigins = []string{"*.storyloom.io"}
	c := corsConfig(cfg)
	assert.True(t, c.AllowOriginFunc("https://app.storyloom.io"))
	assert.False(t, c.AllowOriginFunc("https://example.com"))

	cfg.Env = "development"
	assert.True(t, corsConfig(cfg).AllowOriginFunc("https://example.com"))
}

func TestNewBlobsLocalDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "s3cret"
	cfg.Storage.Local.Root = filepath.Join(t.TempDir(), "blobs")

	blobs, local, err := OpenBlobs(cfg)
	require.NoError(t, err)
	require.NotNil(t, local)
	require.NoError(t, blobs.Upload(context.Background(), "story-images", "u/a.png", []byte("png"), "image/png"))
	link, err := blobs.SignedURL(context.Background(), "story-images", "u/a.png", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "http://localhost:2333/blobs/story-images/u/a.png?"))

	cfg.Storage.Driver = "ftp"
	_, _, err = OpenBlobs(cfg)
	assert.Error(t, err)
}

func TestServeBlobChecksSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	local, err := store.NewLocal(t.TempDir(), "http://test/blobs", "secret")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, local.Upload(ctx, "tts-audio", "s/t.mp3", []byte("mp3 bytes"), "audio/mpeg"))
	link, err := local.SignedURL(ctx, "tts-audio", "s/t.mp3", time.Minute)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/blobs/:bucket/*key", serveBlob(local))

	u, err := url.Parse(link)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mp3 bytes", w.Body.String())

	q := u.Query()
	q.Set("signature", "forged")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, u.Path+"?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
