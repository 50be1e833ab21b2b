package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/speech"
)

// ErrEmptyText is returned when nothing speakable is left after sanitizing.
var ErrEmptyText = errors.New("tts text is empty")

// ErrEmptyAudio is returned when the session finished without audio.
var ErrEmptyAudio = errors.New("tts audio is empty")

// Synthesizer turns reply text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, emotion, voice string) ([]byte, error)
}

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config config.SpeechConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format       string  `json:"format"`
	SampleRate   int     `json:"sample_rate"`
	SpeedRatio   float32 `json:"speed_ratio,omitempty"`
	VolumeRatio  float32 `json:"volume_ratio,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotion_scale,omitempty"`
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(cfg config.SpeechConfig, logger *zap.Logger) *VolcengineTTSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolcengineTTSClient{
		config: cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.Named("tts"),
	}
}

// Synthesize returns mp3 bytes for text spoken with the emotion's preset.
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, text, emotion, voice string) ([]byte, error) {
	resp, err := c.SynthesizeSpeech(ctx, &speech.TTSRequest{Text: text, Emotion: emotion, Voice: voice})
	if err != nil {
		return nil, err
	}
	return resp.AudioData, nil
}

// SynthesizeSpeech tries every speaker candidate against its compatible
// resource ids and returns the first success.
func (c *VolcengineTTSClient) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	text := sanitizeText(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.DefaultVoice)
	var lastErr error
	for _, speaker := range speakers {
		resources := resolveTTSResourceCandidates(speaker)
		for i, resourceID := range resources {
			resp, err := c.synthesizeWithResource(ctx, req, text, appKey, accessKey, speaker, resourceID)
			if err == nil {
				if i > 0 {
					c.logger.Info("voice succeeded with fallback resource",
						zap.String("speaker", speaker), zap.String("resource", resourceID))
				}
				return resp, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isResourceMismatchError(err) {
				break
			}
			c.logger.Debug("resource mismatch",
				zap.String("speaker", speaker), zap.String("resource", resourceID), zap.Error(err))
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("TTS synthesis failed for speakers %v: %w", speakers, lastErr)
	}
	return nil, fmt.Errorf("TTS synthesis failed: no speaker candidates")
}

func (c *VolcengineTTSClient) synthesizeWithResource(
	ctx context.Context,
	req *speech.TTSRequest,
	text, appKey, accessKey, speaker, resourceID string,
) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debug("connected", zap.String("logid", logid))
		}
	}

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	body, userUID := c.buildTTSRequest(req, text, speaker)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	request, err := newClientRequest(payload, compressGzip)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(request)); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}
		payload, err := decompress(msg.Payload, msg.Compression)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
		}

		finished := false
		switch msg.Type {
		case msgError:
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, string(payload))

		case msgAudioOnlyResponse:
			audio.Write(payload)
			finished = msg.last()

		case msgFullServerResponse:
			if msg.hasEvent() && msg.Event == eventSessionFailed {
				return nil, fmt.Errorf("TTS session failed: %s", string(payload))
			}

			var server ttsServerMessage
			if len(payload) > 0 && msg.Serialization == serialJSON {
				if err := json.Unmarshal(payload, &server); err != nil {
					c.logger.Warn("failed to unmarshal response payload", zap.Error(err))
				} else {
					if server.Code != 0 && server.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", server.Code, server.Message)
					}
					if server.ReqID != "" {
						reqID = server.ReqID
					}
					if server.Addition.Duration != "" {
						if parsed, err := strconv.ParseInt(server.Addition.Duration, 10, 64); err == nil {
							duration = parsed
						}
					}
					if server.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(server.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}
			finished = (msg.hasEvent() && msg.Event == eventSessionFinished) ||
				msg.last() || server.Sequence < 0

		default:
			c.logger.Debug("unexpected message type", zap.Uint8("type", uint8(msg.Type)))
		}

		if !finished {
			continue
		}
		if audio.Len() == 0 {
			return nil, ErrEmptyAudio
		}
		if reqID == "" {
			reqID = connectID
		}
		return &speech.TTSResponse{
			SessionID: userUID,
			AudioData: audio.Bytes(),
			Duration:  duration,
			Format:    "mp3",
			Speaker:   speaker,
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}
}

// buildTTSRequest 构建符合火山引擎API格式的TTS请求
func (c *VolcengineTTSClient) buildTTSRequest(req *speech.TTSRequest, text, speaker string) (*volcengineTTSRequest, string) {
	body := &volcengineTTSRequest{}

	userUID := strings.TrimSpace(req.SessionID)
	if userUID == "" {
		userUID = uuid.NewString()
	}
	body.User.UID = userUID

	body.ReqParams.Speaker = speaker
	body.ReqParams.Text = text

	preset := presetFor(req.Emotion)
	params := &body.ReqParams.AudioParams
	params.Format = "mp3"
	params.SampleRate = 24000
	if speed := preset.speedRatio(c.config.Speed); speed != 1 {
		params.SpeedRatio = speed
	}
	if volume := preset.volumeRatio(c.config.Volume); volume != 1 {
		params.VolumeRatio = volume
	}
	if label, scale, ok := emotionParameters(speaker, req.Emotion); ok {
		params.Emotion = label
		params.EmotionScale = scale
	}

	if lang := strings.TrimSpace(c.config.Language); lang != "" {
		body.ReqParams.Language = lang
	}
	body.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return body, userUID
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// resolveTTSSpeakerCandidates returns the requested speaker then the
// configured default, aliases resolved and duplicates dropped.
func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	if len(candidates) == 0 {
		add("default")
	}
	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

var _ Synthesizer = (*VolcengineTTSClient)(nil)
