package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	Store        StoreConfig
	Journal      JournalConfig
	AI           AIConfig
	Speech       SpeechConfig
	Conversation ConversationConfig
	Log          LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	// 语音凭证缺失时复用 Ark 的凭证。
	if cfg.Speech.AccessToken == "" {
		cfg.Speech.AccessToken = cfg.Speech.APIKey
	}
	if cfg.Speech.AccessToken == "" {
		cfg.Speech.AccessToken = cfg.AI.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges that the env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Conversation.HistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("CHAT_HISTORY_WINDOW must be positive, got %d", c.Conversation.HistoryWindow))
	}
	if c.Conversation.MaxRetained < c.Conversation.HistoryWindow {
		errs = append(errs, fmt.Errorf("CHAT_HISTORY_MAX (%d) must not be below CHAT_HISTORY_WINDOW (%d)",
			c.Conversation.MaxRetained, c.Conversation.HistoryWindow))
	}
	if c.Conversation.GenerationTimeout <= 0 || c.Conversation.SynthesisTimeout <= 0 {
		errs = append(errs, errors.New("generation and synthesis timeouts must be positive"))
	}
	if c.Conversation.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("CHAT_RETRY_ATTEMPTS must be at least 1, got %d", c.Conversation.RetryAttempts))
	}
	if c.Server.InboundRate <= 0 || c.Server.InboundBurst < 1 {
		errs = append(errs, errors.New("WS_INBOUND_RATE and WS_INBOUND_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	// 每个连接每秒允许的入站帧数。
	InboundRate  float64 `env:"WS_INBOUND_RATE" envDefault:"2"`
	InboundBurst int     `env:"WS_INBOUND_BURST" envDefault:"5"`

	Addr string `env:"-"`
}

// resolveAddr 解析服务器监听地址。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// StoreConfig points at the key-value state store. An empty URL selects the
// in-process store.
type StoreConfig struct {
	RedisURL string `env:"REDIS_URL"`
}

// JournalConfig 描述关系型日志库。路径为空时使用内存实现。
type JournalConfig struct {
	Path string `env:"JOURNAL_DB_PATH"`
}

// ConversationConfig tunes the turn pipeline.
type ConversationConfig struct {
	HistoryWindow     int           `env:"CHAT_HISTORY_WINDOW" envDefault:"20"`
	MaxRetained       int           `env:"CHAT_HISTORY_MAX" envDefault:"100"`
	MaxInputRunes     int           `env:"CHAT_MAX_INPUT" envDefault:"500"`
	GenerationTimeout time.Duration `env:"CHAT_GENERATION_TIMEOUT" envDefault:"25s"`
	SynthesisTimeout  time.Duration `env:"CHAT_SYNTHESIS_TIMEOUT" envDefault:"15s"`
	RetryAttempts     int           `env:"CHAT_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay        time.Duration `env:"CHAT_RETRY_DELAY" envDefault:"1s"`
	MoodAutoAdjust    bool          `env:"MOOD_AUTO_ADJUST" envDefault:"false"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string  `env:"ARK_API_KEY"`
	AccessKey   string  `env:"ARK_ACCESS_KEY"`
	SecretKey   string  `env:"ARK_SECRET_KEY"`
	Model       string  `env:"ARK_MODEL"`
	BaseURL     string  `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string  `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature float32 `env:"ARK_TEMPERATURE" envDefault:"0.9"`
	TopP        float32 `env:"ARK_TOP_P" envDefault:"0.95"`
	MaxTokens   int     `env:"ARK_MAX_TOKENS" envDefault:"2048"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	temperature := c.Temperature
	topP := c.TopP
	maxTokens := c.MaxTokens

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID        string  `env:"SPEECH_APP_ID"`
	AccessToken  string  `env:"SPEECH_ACCESS_TOKEN"`
	APIKey       string  `env:"SPEECH_API_KEY"`
	Endpoint     string  `env:"SPEECH_TTS_ENDPOINT" envDefault:"wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"`
	DefaultVoice string  `env:"SPEECH_TTS_VOICE" envDefault:"zh-CN-XiaoxiaoNeural"`
	Speed        float32 `env:"SPEECH_TTS_SPEED" envDefault:"1.0"`
	Volume       float32 `env:"SPEECH_TTS_VOLUME" envDefault:"1.0"`
	Language     string  `env:"SPEECH_TTS_LANGUAGE" envDefault:"zh-CN"`
}

// Enabled reports whether TTS credentials are present.
func (c SpeechConfig) Enabled() bool {
	return strings.TrimSpace(c.AppID) != "" && strings.TrimSpace(c.AccessToken) != ""
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
}

// NewLogger builds the process logger. "console" gives the development encoder.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Level, err)
	}

	var zcfg zap.Config
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "console", "dev", "development":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
