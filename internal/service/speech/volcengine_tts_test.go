package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/speech"
)

func TestNormalizeVoiceAlias(t *testing.T) {
	cases := []struct {
		alias  string
		expect string
	}{
		{alias: "zh-CN-XiaoxiaoNeural", expect: "zh_female_tianxinxiaomei_emo_v2_mars_bigtts"},
		{alias: " zh-cn-yunxineural ", expect: "zh_male_yourougongzi_emo_v2_mars_bigtts"},
		{alias: "zh_male_junlangnanyou_emo_v2_mars_bigtts", expect: "zh_male_junlangnanyou_emo_v2_mars_bigtts"},
		{alias: "", expect: ""},
	}

	for _, tc := range cases {
		if got := NormalizeVoiceAlias(tc.alias); got != tc.expect {
			t.Fatalf("NormalizeVoiceAlias(%s) = %s, want %s", tc.alias, got, tc.expect)
		}
	}
}

func TestResolveTTSResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "default voice", voice: "", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "zh_female_vv_uranus_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
		{name: "legacy 1.0 voice", voice: "zh_male_organizer", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
	}

	for _, tt := range tests {
		got := resolveTTSResourceCandidates(tt.voice)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSResourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestResolveTTSSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		want     []string
	}{
		{
			name:     "request and fallback",
			request:  "zh-CN-YunxiNeural",
			fallback: "zh-CN-XiaoxiaoNeural",
			want:     []string{"zh_male_yourougongzi_emo_v2_mars_bigtts", "zh_female_tianxinxiaomei_emo_v2_mars_bigtts"},
		},
		{
			name:     "request empty",
			request:  "",
			fallback: "zh_male_M392_conversation_wvae_bigtts",
			want:     []string{"zh_male_M392_conversation_wvae_bigtts"},
		},
		{
			name:     "duplicates ignored",
			request:  "ZH_voice",
			fallback: "zh_voice",
			want:     []string{"ZH_voice"},
		},
		{
			name: "nothing configured",
			want: []string{"zh_female_tianxinxiaomei_emo_v2_mars_bigtts"},
		},
	}

	for _, tt := range tests {
		got := resolveTTSSpeakerCandidates(tt.request, tt.fallback)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSSpeakerCandidates(%q, %q) = %v, want %v", tt.name, tt.request, tt.fallback, got, tt.want)
		}
	}
}

func TestIsResourceMismatchError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "unrelated error", err: fmt.Errorf("some other error"), want: false},
		{name: "mismatch substring", err: fmt.Errorf(`TTS error: {"error":"resource ID is mismatched with speaker related resource"}`), want: true},
	}

	for _, tc := range cases {
		if got := isResourceMismatchError(tc.err); got != tc.want {
			t.Errorf("%s: isResourceMismatchError(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"师兄...你好", "师兄，你好"},
		{"哼……不理你了", "哼，不理你了"},
		{"  好的。 ", "好的。"},
		{"a.b", "a.b"},
		{"……", "，"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := sanitizeText(tc.in); got != tc.want {
			t.Errorf("sanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEmotionPresets(t *testing.T) {
	for _, tag := range chat.Emotions {
		if _, ok := emotionPresets[tag]; !ok {
			t.Errorf("no preset for emotion %q", tag)
		}
	}

	angry := presetFor(chat.EmotionAngry)
	if got := angry.speedRatio(1); got < 1.19 || got > 1.21 {
		t.Errorf("angry speed = %v, want 1.2", got)
	}
	if got := presetFor("bogus"); got != emotionPresets[chat.EmotionNeutral] {
		t.Errorf("unknown tag preset = %+v, want neutral", got)
	}

	if _, _, ok := emotionParameters("zh_female_vv_uranus_bigtts", chat.EmotionHappy); ok {
		t.Error("non-emotion speaker got emotion parameters")
	}
	label, scale, ok := emotionParameters("zh_female_tianxinxiaomei_emo_v2_mars_bigtts", chat.EmotionSulking)
	if !ok || label != "sad" || scale != 2 {
		t.Errorf("sulking parameters = %q %v %v", label, scale, ok)
	}
	if _, _, ok := emotionParameters("zh_female_tianxinxiaomei_emo_v2_mars_bigtts", chat.EmotionNeutral); ok {
		t.Error("neutral must not set an emotion label")
	}
}

// fakeTTSServer speaks enough of the v3 protocol for one synthesis session.
type fakeTTSServer struct {
	t *testing.T

	mu        sync.Mutex
	resources []string
	requests  []volcengineTTSRequest

	rejectResource string
	sessionEvent   bool
}

func (s *fakeTTSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	resource := r.Header.Get("X-Api-Resource-Id")
	if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
		s.t.Errorf("credentials headers missing: %v", r.Header)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		s.t.Errorf("read request: %v", err)
		return
	}
	msg, err := decodeFrame(data)
	if err != nil {
		s.t.Errorf("decode request: %v", err)
		return
	}
	body, err := decompress(msg.Payload, msg.Compression)
	if err != nil {
		s.t.Errorf("decompress request: %v", err)
		return
	}
	var req volcengineTTSRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.t.Errorf("unmarshal request: %v", err)
		return
	}

	s.mu.Lock()
	s.resources = append(s.resources, resource)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	write := func(f *frame) {
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(f)); err != nil {
			s.t.Errorf("write: %v", err)
		}
	}

	if resource == s.rejectResource {
		write(&frame{Type: msgError, ErrorCode: 45000000, Serialization: serialJSON,
			Payload: []byte(`{"error":"resource ID is mismatched with speaker related resource"}`)})
		return
	}

	write(&frame{Type: msgAudioOnlyResponse, Flags: flagPositiveSequence, Sequence: 1, Payload: []byte("ID3")})
	if s.sessionEvent {
		payload, _ := json.Marshal(map[string]any{
			"reqid": "req-42",
			"code":  0,
			"data":  base64.StdEncoding.EncodeToString([]byte("tail")),
		})
		write(&frame{Type: msgFullServerResponse, Flags: flagWithEvent, Serialization: serialJSON,
			Event: eventSessionFinished, SessionID: req.User.UID, Payload: payload})
		return
	}
	write(&frame{Type: msgAudioOnlyResponse, Flags: flagNegativeSequence, Sequence: -2, Payload: []byte("END")})
}

func (s *fakeTTSServer) snapshot() ([]string, []volcengineTTSRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resources...), append([]volcengineTTSRequest(nil), s.requests...)
}

func newTestClient(t *testing.T, srv *httptest.Server) *VolcengineTTSClient {
	t.Helper()
	return NewVolcengineTTSClient(config.SpeechConfig{
		AppID:        "app",
		AccessToken:  "token",
		Endpoint:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		DefaultVoice: "zh-CN-XiaoxiaoNeural",
		Speed:        1,
		Volume:       1,
		Language:     "zh-CN",
	}, nil)
}

func TestSynthesizeCollectsAudio(t *testing.T) {
	fake := &fakeTTSServer{t: t}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	audio, err := newTestClient(t, srv).Synthesize(context.Background(), "师兄...你来啦", chat.EmotionHappy, "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3END" {
		t.Errorf("audio = %q, want ID3END", audio)
	}

	resources, requests := fake.snapshot()
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	req := requests[0]
	if req.ReqParams.Text != "师兄，你来啦" {
		t.Errorf("text = %q", req.ReqParams.Text)
	}
	if req.ReqParams.Speaker != "zh_female_tianxinxiaomei_emo_v2_mars_bigtts" {
		t.Errorf("speaker = %q", req.ReqParams.Speaker)
	}
	params := req.ReqParams.AudioParams
	if params.Format != "mp3" || params.SampleRate != 24000 {
		t.Errorf("audio params = %+v", params)
	}
	if params.Emotion != "happy" || params.SpeedRatio < 1.09 || params.SpeedRatio > 1.11 {
		t.Errorf("emotion params = %+v", params)
	}
	if resources[0] != "seed-tts-2.0" {
		t.Errorf("resource = %q, want seed-tts-2.0", resources[0])
	}
}

func TestSynthesizeFallsBackOnResourceMismatch(t *testing.T) {
	fake := &fakeTTSServer{t: t, rejectResource: "seed-tts-2.0", sessionEvent: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	resp, err := newTestClient(t, srv).SynthesizeSpeech(context.Background(), synthRequest("好的", chat.EmotionNeutral))
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if string(resp.AudioData) != "ID3tail" {
		t.Errorf("audio = %q", resp.AudioData)
	}
	if resp.RequestID != "req-42" {
		t.Errorf("request id = %q", resp.RequestID)
	}
	resources, requests := fake.snapshot()
	want := []string{"seed-tts-2.0", "volc.service_type.10029"}
	if !reflect.DeepEqual(resources, want) {
		t.Errorf("resources = %v, want %v", resources, want)
	}
	if requests[1].ReqParams.AudioParams.Emotion != "" {
		t.Error("neutral reply must not carry an emotion label")
	}
}

func TestSynthesizeRejectsBadInput(t *testing.T) {
	client := NewVolcengineTTSClient(config.SpeechConfig{AppID: "app", AccessToken: "token", Endpoint: "ws://127.0.0.1:1"}, nil)
	if _, err := client.Synthesize(context.Background(), "  ", chat.EmotionHappy, ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}

	unconfigured := NewVolcengineTTSClient(config.SpeechConfig{}, nil)
	if _, err := unconfigured.Synthesize(context.Background(), "你好", chat.EmotionHappy, ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSynthesizeHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never answer; wait for the client to hang up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestClient(t, srv).Synthesize(ctx, "你好", chat.EmotionNeutral, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("synthesis did not stop on context deadline")
	}
}

func synthRequest(text, emotion string) *speech.TTSRequest {
	return &speech.TTSRequest{Text: text, Emotion: emotion}
}
