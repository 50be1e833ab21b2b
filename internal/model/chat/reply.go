package chat

// Emotion tags accepted on a generated reply. They double as TTS presets.
const (
	EmotionNeutral   = "neutral"
	EmotionHappy     = "happy"
	EmotionExcited   = "excited"
	EmotionCheerful  = "cheerful"
	EmotionStrict    = "strict"
	EmotionConcerned = "concerned"
	EmotionSulking   = "sulking"
	EmotionAngry     = "angry"
)

// Emotions lists every valid emotion tag.
var Emotions = []string{
	EmotionNeutral, EmotionHappy, EmotionExcited, EmotionCheerful,
	EmotionStrict, EmotionConcerned, EmotionSulking, EmotionAngry,
}

// Reply actions. ActionReset is only produced by the reset operation and tells
// the client to clear its view.
const (
	ActionNone       = "none"
	ActionCorrection = "correction"
	ActionQuiz       = "quiz"
	ActionReset      = "reset"
)

// Quiz types.
const (
	QuizFillBlank      = "fill_blank"
	QuizMultipleChoice = "multiple_choice"
	QuizListening      = "listening"
)

// Correction explains a grammar or vocabulary mistake in the user's input.
type Correction struct {
	IsCorrect        bool   `json:"is_correct"`
	MistakeHighlight string `json:"mistake_highlight"`
	Explanation      string `json:"explanation"`
}

// QuizItem is a single practice exercise.
type QuizItem struct {
	ID       int      `json:"id"`
	Type     string   `json:"type"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer"`
}

// Reply is the structured result of one turn. The last three fields are
// filled by the orchestrator, never by generation.
type Reply struct {
	Thought           string      `json:"thought"`
	ChineseContent    string      `json:"chinese_content"`
	VietnameseDisplay string      `json:"vietnamese_display"`
	Pinyin            string      `json:"pinyin"`
	Correction        *Correction `json:"correction_detail"`
	Emotion           string      `json:"emotion"`
	Action            string      `json:"action"`
	QuizList          []QuizItem  `json:"quiz_list"`

	AudioBase64 *string `json:"audio_base64"`
	MoodLevel   int     `json:"sulking_level"`
	Timestamp   string  `json:"timestamp"`
}
