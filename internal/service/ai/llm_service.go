package ai

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// DefaultHistoryLimit caps the turns sent to the model.
const DefaultHistoryLimit = 20

// Request is everything generation needs for one turn.
type Request struct {
	UserText  string
	UserRole  string
	AgentRole string
	MoodLevel int
	History   []chat.Turn
}

// Generator produces a structured reply or fails.
type Generator interface {
	Generate(ctx context.Context, req Request) (chat.Reply, error)
}

// Service runs the prompt template and chat model as one eino chain.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	prompts      *PromptBuilder
	historyLimit int
	logger       *zap.Logger
}

// NewService builds the Ark chat model from configuration and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, logger)
}

// NewServiceWithModel compiles the chain around any chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		chain:        runnable,
		prompts:      NewPromptBuilder(),
		historyLimit: DefaultHistoryLimit,
		logger:       logger.Named("ai"),
	}, nil
}

// Generate runs one model call and validates the result.
func (s *Service) Generate(ctx context.Context, req Request) (chat.Reply, error) {
	input := map[string]any{
		"system":  s.prompts.Build(req.UserRole, req.AgentRole, req.MoodLevel),
		"history": s.buildHistoryMessages(req.History),
		"query":   req.UserText,
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return chat.Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	reply, err := ParseReply(msg.Content)
	if err != nil {
		s.logger.Warn("model reply rejected",
			zap.Error(err),
			zap.String("content", truncate(msg.Content, 120)))
		return chat.Reply{}, err
	}

	s.logger.Debug("generated reply",
		zap.String("user_role", req.UserRole),
		zap.Int("mood", req.MoodLevel),
		zap.Int("history", len(req.History)),
		zap.String("emotion", reply.Emotion),
		zap.String("action", reply.Action))
	return reply, nil
}

func (s *Service) buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) > s.historyLimit {
		turns = turns[len(turns)-s.historyLimit:]
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.SpeakerUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.SpeakerAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…(" + strconv.Itoa(len(r)) + ")"
}

var _ Generator = (*Service)(nil)
