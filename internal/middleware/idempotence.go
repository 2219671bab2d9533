package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotenceHeader = "X-Idempotence-Key"
	idempotenceTTL    = 10 * time.Minute
)

// Idempotence rejects a replayed POST carrying the same X-Idempotence-Key
// while the first one is in flight or after it succeeded. Requests without
// the header pass through, as does everything when Redis is unavailable.
func Idempotence(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		hdr := strings.TrimSpace(c.GetHeader(IdempotenceHeader))
		if hdr == "" {
			c.Next()
			return
		}

		sum := sha256.Sum256([]byte(CurrentUserID(c) + "|" + c.FullPath() + "|" + hdr))
		redisKey := "storyloom:idempotence:" + hex.EncodeToString(sum[:])
		ctx := c.Request.Context()

		ok, err := rdb.SetNX(ctx, redisKey, "0", idempotenceTTL).Result()
		if err != nil {
			c.Next()
			return
		}
		if !ok {
			msg := "an identical request already succeeded"
			if val, getErr := rdb.Get(ctx, redisKey).Result(); getErr == nil && val == "0" {
				msg = "an identical request is still being processed"
			} else if getErr != nil && !errors.Is(getErr, redis.Nil) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"ok":      0,
				"code":    http.StatusConflict,
				"message": msg,
			})
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			rdb.Set(ctx, redisKey, "1", redis.KeepTTL)
		} else {
			rdb.Del(ctx, redisKey)
		}
	}
}
