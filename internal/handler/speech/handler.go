package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/xiaoyue/backend/internal/service/speech"
	"github.com/zhouzirui/xiaoyue/backend/pkg/utils"
)

const maxPreviewRunes = 200

// SpeechService 抽象语音合成，便于测试与替换实现
type SpeechService interface {
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// PrefsSource resolves a user's stored voice preference.
type PrefsSource interface {
	SessionPrefs(ctx context.Context, userID string) (chat.Prefs, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	prefs     PrefsSource
	logger    *zap.Logger
}

// New 创建语音处理器
func New(speechSvc SpeechService, prefs PrefsSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		speechSvc: speechSvc,
		prefs:     prefs,
		logger:    logger.Named("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{userID}", h.handleSynthesizeForUser)
	})
}

// handleSynthesize 合成一段试听音频
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

// handleSynthesizeForUser 使用用户偏好的音色合成
func (h *Handler) handleSynthesizeForUser(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, userID string) {
	var req speech.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len([]rune(req.Text)) > maxPreviewRunes {
		utils.RespondError(w, http.StatusBadRequest, "text is too long")
		return
	}

	if userID != "" {
		req.SessionID = userID
	}
	if req.SessionID == "" {
		req.SessionID = "preview"
	}
	if req.Emotion == "" {
		req.Emotion = chat.EmotionNeutral
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = h.resolveVoice(r.Context(), userID)
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		h.logger.Error("TTS error", zap.String("session_id", req.SessionID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	format := resp.Format
	if format == "" {
		format = "mpeg"
	}
	if format == "mp3" {
		format = "mpeg"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("X-Speech-Speaker", resp.Speaker)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		h.logger.Warn("failed to write audio response", zap.Error(err))
	}
}

// resolveVoice returns the stored preferred voice mapped to a provider
// speaker, or "" to let the client fall back to its default.
func (h *Handler) resolveVoice(ctx context.Context, userID string) string {
	if h.prefs == nil || strings.TrimSpace(userID) == "" {
		return ""
	}
	prefs, err := h.prefs.SessionPrefs(ctx, userID)
	if err != nil {
		h.logger.Warn("failed to load voice preference", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return speechsvc.NormalizeVoiceAlias(prefs.PreferredVoice)
}
