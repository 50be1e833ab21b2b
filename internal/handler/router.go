package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/handler/health"
	journalHandler "github.com/zhouzirui/xiaoyue/backend/internal/handler/journal"
	"github.com/zhouzirui/xiaoyue/backend/internal/handler/persona"
	"github.com/zhouzirui/xiaoyue/backend/internal/handler/speech"
	"github.com/zhouzirui/xiaoyue/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/xiaoyue/backend/internal/middleware"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/conversation"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/journal"
)

// Deps are the services the routes are wired to.
type Deps struct {
	Orchestrator *conversation.Orchestrator
	// Journal backs the read-only transcript routes. Nil disables them.
	Journal journal.Journal
	// Speech backs the synthesis preview routes. Nil disables them.
	Speech speech.SpeechService
	Prefs  speech.PrefsSource
	// Checks are pinged by /api/health, keyed by dependency name.
	Checks map[string]health.Pinger
	Server config.ServerConfig
	Logger *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.Server.AllowedOrigins))

	r.Route("/api", func(api chi.Router) {
		persona.New().RegisterRoutes(api)
		health.New(d.Orchestrator.Monitor(), d.Checks, logger).RegisterRoutes(api)
		if d.Journal != nil {
			journalHandler.New(d.Journal, logger).RegisterRoutes(api)
		}
		if d.Speech != nil {
			speech.New(d.Speech, d.Prefs, logger).RegisterRoutes(api)
		}
	})

	ws.NewHandler(d.Orchestrator, ws.Options{
		AllowedOrigins: d.Server.AllowedOrigins,
		InboundRate:    d.Server.InboundRate,
		InboundBurst:   d.Server.InboundBurst,
	}, logger).RegisterRoutes(r)

	return r
}

// requestLogger replaces chi's text logger with one zap line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
