package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/handler"
	"github.com/zhouzirui/xiaoyue/backend/internal/handler/health"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/ai"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/conversation"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/journal"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/speech"
	"github.com/zhouzirui/xiaoyue/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	jr, jrPinger, err := openJournal(cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer jr.Close()

	// Initialize AI service
	var generator ai.Generator
	if cfg.AI.Enabled() {
		svc, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, replies will use the fallback script", zap.Error(err))
		} else {
			generator = svc
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	opts := []conversation.Option{conversation.WithJournal(jr)}

	// Initialize Speech service
	var ttsClient *speech.VolcengineTTSClient
	if cfg.Speech.Enabled() {
		ttsClient = speech.NewVolcengineTTSClient(cfg.Speech, logger)
		opts = append(opts, conversation.WithSynthesizer(ttsClient))
		logger.Info("speech synthesis enabled", zap.String("voice", cfg.Speech.DefaultVoice))
	} else {
		logger.Info("语音服务凭证未配置，跳过语音功能初始化")
	}

	orch := conversation.New(st, generator, cfg.Conversation, logger, opts...)
	defer orch.Wait()

	deps := handler.Deps{
		Orchestrator: orch,
		Journal:      jr,
		Prefs:        st,
		Checks:       map[string]health.Pinger{"store": st, "journal": jrPinger},
		Server:       cfg.Server,
		Logger:       logger,
	}
	if ttsClient != nil {
		deps.Speech = ttsClient
	}
	router := handler.NewRouter(deps)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("XiaoYue backend listening", zap.String("addr", cfg.Server.Addr))
	return runServer(ctx, srv)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, state is kept in process memory")
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to redis state store")
	return st, nil
}

// openJournal returns the journal and, for durable backends, its pinger.
func openJournal(cfg config.JournalConfig, logger *zap.Logger) (journal.Journal, health.Pinger, error) {
	if cfg.Path == "" {
		logger.Info("JOURNAL_DB_PATH not set, journal is kept in process memory")
		return journal.NewMemory(), nil, nil
	}
	j, err := journal.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("opened sqlite journal", zap.String("path", cfg.Path))
	return j, j, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
