package handler

import (
	"errors"
	"net/http"
	"strconv"

	"pulse-dm/internal/services"
	"pulse-dm/internal/transport/httpdto"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// statusFor maps a service error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pulse_errors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pulse_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pulse_errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pulse_errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pulse_errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pulse_errors.ErrRateExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, pulse_errors.ErrUpstream), errors.Is(err, pulse_errors.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err in the response envelope. Internal errors are
// attached to the context for the error middleware to log and are not
// exposed to the caller.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	} else if status == http.StatusNotFound {
		msg = "not found"
	}
	c.JSON(status, httpdto.NewErrorFor(err, msg))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorFor(pulse_errors.ErrValidation, msg))
}

func currentUser(c *gin.Context) (string, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorFor(pulse_errors.ErrUnauthorized, "unauthorized"))
		return "", false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
