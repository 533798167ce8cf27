package middleware

import (
	"net/http"

	"pulse-dm/internal/transport/httpdto"
	"pulse-dm/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler logs errors attached with c.Error and writes a fallback
// response when the handler wrote none.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		if l == nil {
			l = logger.GetGlobalLogger()
		}
		for _, e := range c.Errors {
			l.WithContext(c.Request.Context()).Error("request error",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", c.Writer.Status()),
				zap.Error(e.Err),
			)
		}
		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
		}
	}
}
