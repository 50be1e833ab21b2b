// Package journal exposes read-only views of the durable conversation record.
package journal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/service/journal"
	"github.com/zhouzirui/xiaoyue/backend/pkg/utils"
)

const (
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 500
)

// TranscriptResponse is the body of GET /journal/{userID}/messages.
type TranscriptResponse struct {
	UserID   string            `json:"user_id"`
	Messages []journal.Message `json:"messages"`
}

// Handler 日志记录的HTTP处理器
type Handler struct {
	journal journal.Journal
	logger  *zap.Logger
}

// New 创建日志处理器
func New(j journal.Journal, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{journal: j, logger: logger.Named("journal")}
}

// RegisterRoutes 注册日志相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/journal/{userID}/messages", h.handleTranscript)
	r.Get("/journal/{userID}/relationship", h.handleRelationship)
}

// handleTranscript 返回最近的对话记录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	messages, err := h.journal.Transcript(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, journal.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to load transcript", zap.String("user_id", userID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	if messages == nil {
		messages = []journal.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, TranscriptResponse{UserID: userID, Messages: messages})
}

// handleRelationship 返回关系计数
func (h *Handler) handleRelationship(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rel, err := h.journal.LoadRelationship(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load relationship", zap.String("user_id", userID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load relationship")
		return
	}
	utils.RespondJSON(w, http.StatusOK, rel)
}
