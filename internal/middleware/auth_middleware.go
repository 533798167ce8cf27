package middleware

import (
	"context"
	"net/http"
	"strings"

	"pulse-dm/internal/domain/user"
	"pulse-dm/internal/services"
	"pulse-dm/internal/transport/httpdto"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (user.Profile, error)
}

// AuthMiddleware verifies the Bearer token and stores the caller's identity
// on the request context.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpdto.NewErrorFor(pulse_errors.ErrUnauthorized, "unauthorized"))
			return
		}

		profile, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpdto.NewErrorFor(pulse_errors.ErrUnauthorized, "unauthorized"))
			return
		}

		ctx := services.WithIdentity(c.Request.Context(), profile)
		ctx = context.WithValue(ctx, logger.UserIdKey, profile.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
