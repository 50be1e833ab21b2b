package speech

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/xiaoyue/backend/internal/model/speech"
	"github.com/zhouzirui/xiaoyue/backend/internal/store"
)

type fakeSpeechService struct {
	last *speechmodel.TTSRequest
	err  error
}

func (f *fakeSpeechService) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: []byte("ID3audio"), Format: "mp3", Speaker: req.Voice}, nil
}

func setupRouter(svc SpeechService, prefs PrefsSource) *chi.Mux {
	r := chi.NewRouter()
	New(svc, prefs, nil).RegisterRoutes(r)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	rr := post(setupRouter(fakeSvc, nil), "/speech/synthesize", `{"text":"你好","emotion":"happy","voice":"zh-CN-YunxiNeural"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rr.Body.String() != "ID3audio" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if fakeSvc.last.SessionID != "preview" || fakeSvc.last.Emotion != chat.EmotionHappy {
		t.Fatalf("unexpected request %+v", fakeSvc.last)
	}
}

func TestSynthesizeUsesStoredVoice(t *testing.T) {
	st := store.NewMemoryStore()
	prefs := chat.DefaultPrefs()
	prefs.PreferredVoice = "zh-CN-YunxiNeural"
	if err := st.SetSessionPrefs(context.Background(), "u1", prefs); err != nil {
		t.Fatalf("seed prefs: %v", err)
	}

	fakeSvc := &fakeSpeechService{}
	rr := post(setupRouter(fakeSvc, st), "/speech/synthesize/u1", `{"text":"师兄好"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if fakeSvc.last.SessionID != "u1" {
		t.Fatalf("expected session u1, got %s", fakeSvc.last.SessionID)
	}
	if fakeSvc.last.Voice != "zh_male_yourougongzi_emo_v2_mars_bigtts" {
		t.Fatalf("expected stored voice to be resolved, got %s", fakeSvc.last.Voice)
	}
	if fakeSvc.last.Emotion != chat.EmotionNeutral {
		t.Fatalf("expected neutral default emotion, got %s", fakeSvc.last.Emotion)
	}
}

func TestSynthesizeRejectsBadInput(t *testing.T) {
	r := setupRouter(&fakeSpeechService{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "empty text", body: `{"text":"   "}`},
		{name: "too long", body: `{"text":"` + string(bytes.Repeat([]byte("好"), maxPreviewRunes+1)) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := post(r, "/speech/synthesize", tt.body); rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestSynthesizeUpstreamFailure(t *testing.T) {
	rr := post(setupRouter(&fakeSpeechService{err: errors.New("resource not granted")}, nil), "/speech/synthesize", `{"text":"你好"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}
