package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"formation-review/internal/common/auth"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/common/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// respondError writes {"error": StandardError} with the status of its code.
func respondError(c *gin.Context, err error) {
	stdErr := apperrors.Normalize(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(stdErr.Code), gin.H{"error": stdErr})
}

func identity(c *gin.Context) *auth.Identity {
	id, _ := auth.FromContext(c.Request.Context())
	return id
}

// Authenticate verifies the bearer token and stores the caller on the request context.
func Authenticate(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" || verifier == nil {
			respondError(c, apperrors.NewAuthenticationError("missing bearer token"))
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if _, ok := apperrors.AsStandard(err); !ok {
				err = apperrors.NewAuthenticationError(err.Error())
			}
			respondError(c, err)
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs one line per request and feeds the latency histogram.
func AccessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).
			Observe(latency.Seconds())

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
		}
		if id := identity(c); id != nil {
			fields["userId"] = id.UserID
		}
		if status >= http.StatusInternalServerError {
			log.Error("request failed", fields)
			return
		}
		log.Info("request", fields)
	}
}

// Limiter counts requests per key within a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// RedisLimiter is a fixed-window counter shared by every API replica.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(rateLimitScript),
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 || l.window <= 0 {
		return true, nil
	}
	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	allowed, err := l.script.Run(ctx, l.client, []string{"ratelimit:" + key}, ttl, l.limit).Int64()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

// RateLimit throttles mutating requests per user and route. Limiter errors fail open.
func RateLimit(limiter Limiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !mutating(c.Request.Method) {
			c.Next()
			return
		}
		id := identity(c)
		if id == nil {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 250*time.Millisecond)
		allowed, err := limiter.Allow(ctx, id.UserID+":"+c.Request.Method+":"+c.FullPath())
		cancel()
		if err != nil {
			log.Warn("rate limiter unavailable", map[string]interface{}{"error": err})
			c.Next()
			return
		}
		if !allowed {
			respondError(c, apperrors.NewRateLimitedError())
			return
		}
		c.Next()
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
