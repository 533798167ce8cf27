package middleware

import (
	"context"
	"net/http"
	"strconv"

	redisstore "pulse-dm/internal/redis"
	"pulse-dm/internal/transport/httpdto"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HTTPLimiter interface {
	AllowHTTP(ctx context.Context, clientKey string) (*redisstore.RateLimitResult, error)
}

// RateLimitMiddleware applies the per-IP REST budget. Limiter failures let
// the request through.
func RateLimitMiddleware(limiter HTTPLimiter, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.AllowHTTP(c.Request.Context(), c.ClientIP())
		if err != nil {
			if l != nil {
				l.WithContext(c.Request.Context()).Warn("rate limit check failed", zap.Error(err))
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpdto.NewErrorFor(pulse_errors.ErrRateExceeded, "rate limit exceeded"))
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redisstore.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
