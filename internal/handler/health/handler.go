// Package health reports dependency liveness and reply-script counters.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/analysis/script"
	"github.com/zhouzirui/xiaoyue/backend/pkg/utils"
)

const pingTimeout = 2 * time.Second

// Pinger is anything that can report its own liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the body of GET /health.
type Status struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Script       script.Stats      `json:"script"`
}

// Handler serves the health endpoint.
type Handler struct {
	checks  map[string]Pinger
	monitor *script.Monitor
	logger  *zap.Logger
}

// New builds a handler. Nil pingers are skipped.
func New(monitor *script.Monitor, checks map[string]Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	live := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			live[name] = p
		}
	}
	return &Handler{checks: live, monitor: monitor, logger: logger.Named("health")}
}

// RegisterRoutes 注册健康检查路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	body := Status{Status: "ok", Dependencies: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			body.Dependencies[name] = "down"
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		body.Dependencies[name] = "up"
	}
	if h.monitor != nil {
		body.Script = h.monitor.Stats()
	}
	utils.RespondJSON(w, code, body)
}
