package websocket

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"pulse-dm/internal/domain/user"
	"pulse-dm/internal/transport/httpdto"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator turns a bearer token into the caller's profile.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (user.Profile, error)
}

const connectAttemptsPerMinute = 30

type Handler struct {
	auth     Authenticator
	hub      *Hub
	commands *Commands
	limiter  *ConnectionLimiter
	upgrader websocket.Upgrader
	logger   *Logger
	// ctx outlives individual requests; pumps stop when it is cancelled.
	ctx context.Context
}

// NewHandler builds the upgrade endpoint. An empty allowedOrigins accepts
// any origin.
func NewHandler(ctx context.Context, auth Authenticator, hub *Hub, commands *Commands, allowedOrigins []string, logger *Logger) *Handler {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Handler{
		auth:     auth,
		hub:      hub,
		commands: commands,
		limiter:  NewConnectionLimiter(connectAttemptsPerMinute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
		ctx:    ctx,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// ConnectionLimiter exposes the attempt limiter so its cleanup loop can be run.
func (h *Handler) ConnectionLimiter() *ConnectionLimiter {
	return h.limiter
}

// Handle upgrades HTTP to WebSocket and serves the connection until it closes.
func (h *Handler) Handle(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorFor(pulse_errors.ErrUnauthorized, "missing token"))
		return
	}

	profile, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorFor(pulse_errors.ErrUnauthorized, "invalid token"))
		return
	}

	if !h.limiter.AllowConnection(profile.ID) || h.hub.UserConnectionCount(profile.ID) >= MaxConnectionsPerUser {
		h.logger.Warn("connection_rejected", profile.ID, "")
		c.JSON(http.StatusTooManyRequests, httpdto.NewErrorFor(pulse_errors.ErrRateExceeded, "too many connections"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade_failed", profile.ID, "", err)
		return
	}

	client := NewClient(h.hub, conn, profile.ID, h.commands, h.logger)
	h.hub.Register(client)
	h.logger.Info("connected", client.UserID, client.ID)

	if h.commands.Presence != nil {
		h.commands.Presence.Connected(h.ctx, client.UserID, client.ID)
	}

	stop := context.AfterFunc(h.ctx, func() { _ = conn.Close() })
	defer stop()

	go client.WritePump()
	client.ReadPump(h.ctx)

	if h.commands.Presence != nil {
		h.commands.Presence.Disconnected(context.WithoutCancel(h.ctx), client.UserID, client.ID)
	}
	h.logger.Info("disconnected", client.UserID, client.ID, zap.Duration("session", time.Since(client.connectedAt)))
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}
