package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"` // reply emotion tag, selects the prosody preset
	Voice     string `json:"voice"`   // client voice id or provider speaker
	Format    string `json:"format"`  // mp3 only for now
}
