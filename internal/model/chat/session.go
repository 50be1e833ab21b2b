package chat

// DefaultVoice 是未设置偏好时使用的音色标识。
const DefaultVoice = "zh-CN-XiaoxiaoNeural"

// Prefs is the persisted per-user session preference record.
type Prefs struct {
	UserRole       string `json:"user_role"`
	AgentRole      string `json:"agent_role"`
	MoodLevel      int    `json:"sulking_level"`
	PreferredVoice string `json:"preferred_voice"`
}

// DefaultPrefs returns the baseline persona used when nothing is stored.
func DefaultPrefs() Prefs {
	return Prefs{
		UserRole:       "Sư huynh",
		AgentRole:      "Muội muội",
		MoodLevel:      0,
		PreferredVoice: DefaultVoice,
	}
}
