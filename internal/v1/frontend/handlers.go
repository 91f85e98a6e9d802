package frontend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/crypto"
	"github.com/ilyaf835/lamb2-dev/internal/v1/health"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/middleware"
	"github.com/ilyaf835/lamb2-dev/internal/v1/ratelimit"
	"github.com/ilyaf835/lamb2-dev/internal/v1/store"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

const (
	sessionIDLength = 22
	contextKeySID   = "session_id"
)

// service is the slice of the Service the handlers use; tests script it.
type service interface {
	CreateBot(ctx context.Context, sid, userName, botName, roomURL string, hidden bool) error
	DeleteBot(ctx context.Context, sid string) error
	BotState(ctx context.Context, sid string) (types.BotState, error)
}

// BotInfo is the create request body.
type BotInfo struct {
	UserName string `json:"user_name" binding:"required"`
	BotName  string `json:"bot_name" binding:"required"`
	RoomURL  string `json:"room_url" binding:"required"`
	Hidden   bool   `json:"hidden"`
}

// Handler serves the bot session endpoints.
type Handler struct {
	svc            service
	secret         string
	allowedOrigins []string
	rl             *ratelimit.RateLimiter

	// pushInterval paces the WebSocket state pusher; shortened in tests.
	pushInterval time.Duration
}

// NewHandler wires the HTTP surface. allowedOrigins is a comma-separated
// list for WebSocket origin checks; empty allows browser clients from
// nowhere but keeps non-browser clients working.
func NewHandler(svc service, secret, allowedOrigins string, rl *ratelimit.RateLimiter) *Handler {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &Handler{
		svc:            svc,
		secret:         secret,
		allowedOrigins: origins,
		rl:             rl,
		pushInterval:   5 * time.Second,
	}
}

// NewRouter assembles the gin engine: correlation ids, CORS, rate limiting
// and the bot session routes.
func NewRouter(h *Handler, hl *health.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if len(h.allowedOrigins) > 0 {
		corsConfig.AllowOrigins = h.allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	r.Use(cors.New(corsConfig))

	if h.rl != nil {
		r.Use(h.rl.Middleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "OK"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "OK"})
	})
	if hl != nil {
		r.GET("/health/live", hl.Liveness)
		r.GET("/health/ready", hl.Readiness)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/bot", h.CreateBot)
	r.GET("/bot", h.requireSession, h.GetBot)
	r.DELETE("/bot", h.requireSession, h.DeleteBot)
	r.GET("/bot/ws", h.requireSession, h.BotStateSocket)
	return r
}

// requireSession validates the signed session id from the query string and
// stores it for the handler.
func (h *Handler) requireSession(c *gin.Context) {
	sid := c.Query(contextKeySID)
	if sid == "" {
		sid = c.GetHeader("X-Session-ID")
	}
	if _, err := crypto.ValidateSignedValue(sid, crypto.SessionSalt, h.secret); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"status":  http.StatusBadRequest,
			"message": "Invalid session id",
		})
		return
	}
	c.Set(contextKeySID, sid)
	c.Next()
}

func sessionID(c *gin.Context) string {
	return c.GetString(contextKeySID)
}

// CreateBot handles POST /bot: mints a signed session id and runs the
// create flow. The id is only returned on success.
func (h *Handler) CreateBot(c *gin.Context) {
	var info BotInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  http.StatusBadRequest,
			"message": "Invalid request body",
		})
		return
	}

	raw, err := crypto.RandomString(sessionIDLength)
	if err != nil {
		logging.Error(c.Request.Context(), "session id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  http.StatusInternalServerError,
			"message": "Internal service error",
		})
		return
	}
	sid := crypto.SignValue(raw, crypto.SessionSalt, h.secret)

	if err := h.svc.CreateBot(c.Request.Context(), sid, info.UserName, info.BotName, info.RoomURL, info.Hidden); err != nil {
		message, status := translateError(err)
		c.JSON(status, gin.H{"status": status, "message": message, "session_id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     http.StatusOK,
		"message":    "Bot created",
		"session_id": sid,
	})
}

// GetBot handles GET /bot: the bot sub-document of a live session, or 303
// when the session is gone.
func (h *Handler) GetBot(c *gin.Context) {
	bot, err := h.svc.BotState(c.Request.Context(), sessionID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusSeeOther, gin.H{
				"status":  http.StatusSeeOther,
				"message": "No bot",
				"session": gin.H{},
			})
			return
		}
		message, status := translateError(err)
		c.JSON(status, gin.H{"status": status, "message": message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  http.StatusOK,
		"message": "Bot is running",
		"session": bot,
	})
}

// DeleteBot handles DELETE /bot.
func (h *Handler) DeleteBot(c *gin.Context) {
	if err := h.svc.DeleteBot(c.Request.Context(), sessionID(c)); err != nil {
		message, status := translateError(err)
		c.JSON(status, gin.H{"status": status, "message": message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  http.StatusOK,
		"message": "Bot successfully disconnected",
	})
}

// BotStateSocket handles GET /bot/ws: pushes the bot state every interval
// until the session disappears, then closes with "Bot disconnected".
func (h *Handler) BotStateSocket(c *gin.Context) {
	if h.rl != nil && !h.rl.CheckWebSocket(c) {
		return
	}
	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.ActiveWebSocketConnections.Inc()
	defer metrics.ActiveWebSocketConnections.Dec()

	sid := sessionID(c)
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	// Reads are only consumed to detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
		bot, err := h.svc.BotState(c.Request.Context(), sid)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Bot disconnected")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		if err := conn.WriteJSON(bot); err != nil {
			return
		}
	}
}

// validateOrigin checks the Origin header against the allowed list.
// Requests without one (non-browser clients) pass.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}
