// Package ws adapts the conversation orchestrator to a websocket per user.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/xiaoyue/backend/internal/service/conversation"
)

const (
	// AnonymousUser is the identity of connections with neither a path
	// segment nor a session cookie.
	AnonymousUser = "anonymous"
	// SessionCookie carries the identity when the path has none.
	SessionCookie = "sessionid"

	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Options tunes a Handler.
type Options struct {
	AllowedOrigins []string
	// InboundRate frames per second with InboundBurst headroom. A
	// non-positive rate disables limiting.
	InboundRate  float64
	InboundBurst int
	PingInterval time.Duration
	// PongWait is how long an idle connection may go without any inbound
	// frame. It does not run while a request is being handled.
	PongWait time.Duration
}

// Handler serves the chat websocket.
type Handler struct {
	orch     *conversation.Orchestrator
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler 创建WebSocket处理器
func NewHandler(orch *conversation.Orchestrator, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PongWait <= 0 {
		opts.PongWait = pongWait
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = min(pingInterval, opts.PongWait*9/10)
	}
	h := &Handler{
		orch:   orch,
		opts:   opts,
		logger: logger.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.serve)
	r.Get("/ws/chat/{userID}", h.serve)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ResolveUserID picks the identity: path segment, then session cookie, then
// the anonymous placeholder.
func ResolveUserID(r *http.Request) string {
	if id := strings.TrimSpace(chi.URLParam(r, "userID")); id != "" {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		if id := strings.TrimSpace(c.Value); id != "" {
			return id
		}
	}
	return AnonymousUser
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.opts.InboundRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.opts.InboundBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.opts.InboundRate), burst)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	userID := ResolveUserID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("user_id", userID))
	log.Info("connection opened", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	idle := h.opts.PongWait
	conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	go h.pingLoop(ctx, conn)

	sess, greeting := h.orch.Open(ctx, userID)
	defer sess.Close()
	if err := writeFrame(conn, greeting); err != nil {
		log.Warn("write greeting failed", zap.Error(err))
		return
	}

	emit := func(f conversation.Frame) {
		if err := writeFrame(conn, f); err != nil {
			log.Debug("write interim frame failed", zap.Error(err))
		}
	}
	limiter := h.newLimiter()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", zap.Error(err))
			}
			log.Info("connection closed")
			return
		}
		// Pongs are only consumed by ReadMessage, so a long turn must not
		// count against the idle deadline.
		conn.SetReadDeadline(time.Time{})

		var frame conversation.Frame
		if !limiter.Allow() {
			frame = conversation.ErrorFrame(conversation.RateLimitMessage)
		} else {
			var req conversation.Request
			if err := json.Unmarshal(data, &req); err != nil {
				log.Warn("invalid frame", zap.Error(err))
				frame = conversation.ErrorFrame(conversation.MalformedMessage)
			} else {
				frame = h.orch.Handle(ctx, sess, req, emit)
			}
		}

		if err := writeFrame(conn, frame); err != nil {
			log.Warn("write frame failed", zap.Error(err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(idle))
	}
}

// writeFrame is only called from the connection's reader goroutine.
func writeFrame(conn *websocket.Conn, f conversation.Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
