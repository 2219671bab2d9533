package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/config"
	jwtpkg "github.com/storyloom/core/internal/pkg/jwt"
	"github.com/storyloom/core/internal/pkg/response"
	"github.com/storyloom/core/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func applyRuntimeSettings(cfg *config.AppConfig, logger *zap.Logger) {
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		jwtpkg.SetSecret(secret)
	} else {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}
}

// OpenBlobs opens the configured blob driver. The local driver is also
// returned so its signed links can be served.
func OpenBlobs(cfg *config.AppConfig) (store.Blobs, *store.Local, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case config.StorageDriverS3:
		s3, err := store.NewS3(store.S3Options{
			Endpoint:        sc.S3.Endpoint,
			Region:          sc.S3.Region,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			PathStyle:       sc.S3.PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	case config.StorageDriverLocal:
		baseURL := strings.TrimRight(strings.TrimSpace(sc.Local.BaseURL), "/")
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:%d/blobs", cfg.Port)
		}
		secret := sc.Local.Secret
		if secret == "" {
			secret = cfg.JWTSecret
		}
		local, err := store.NewLocal(sc.LocalRoot(), baseURL, secret)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

func connectMongo(ctx context.Context, mc config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// serveBlob answers links signed by the local blob store.
func serveBlob(local *store.Local) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := local.Verify(c.Param("bucket"), strings.TrimPrefix(c.Param("key"), "/"), c.Query("expires"), c.Query("signature"))
		if err != nil {
			response.Forbidden(c)
			return
		}
		c.Header("Cache-Control", "private, max-age=300")
		c.File(file)
	}
}
