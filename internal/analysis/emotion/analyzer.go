package emotion

import (
	"strings"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// Decision 给出情绪识别结果以及得分。
type Decision struct {
	Emotion string
	Score   int
}

var valid = func() map[string]struct{} {
	m := make(map[string]struct{}, len(chat.Emotions))
	for _, e := range chat.Emotions {
		m[e] = struct{}{}
	}
	return m
}()

// aliases folds tags that models tend to invent onto the supported set.
var aliases = map[string]string{
	"sad":       chat.EmotionConcerned,
	"worried":   chat.EmotionConcerned,
	"comfort":   chat.EmotionConcerned,
	"tender":    chat.EmotionHappy,
	"joy":       chat.EmotionHappy,
	"playful":   chat.EmotionCheerful,
	"teasing":   chat.EmotionCheerful,
	"magnetic":  chat.EmotionStrict,
	"serious":   chat.EmotionStrict,
	"annoyed":   chat.EmotionSulking,
	"pouting":   chat.EmotionSulking,
	"tsundere":  chat.EmotionSulking,
	"furious":   chat.EmotionAngry,
	"surprised": chat.EmotionExcited,
}

var keywordBuckets = map[string][]string{
	chat.EmotionHappy:     {"开心", "高兴", "哈哈", "嘿嘿", "真乖", "真棒", "喜欢", "太好了"},
	chat.EmotionExcited:   {"哇", "太厉害", "激动", "期待", "好想你"},
	chat.EmotionCheerful:  {"~", "嘛", "啦", "加油", "抱抱"},
	chat.EmotionStrict:    {"必须", "认真", "应该是", "错了", "再来", "练习"},
	chat.EmotionConcerned: {"别担心", "没事", "稍等", "难过", "哎呀", "小心"},
	chat.EmotionSulking:   {"哼", "不理", "不想理", "讨厌", "人家"},
	chat.EmotionAngry:     {"生气", "废物", "气死", "失望", "饶"},
}

// Normalize returns tag if it is a supported emotion, maps known aliases, and
// otherwise infers one from the reply text.
func Normalize(tag, content string) string {
	key := strings.ToLower(strings.TrimSpace(tag))
	if _, ok := valid[key]; ok {
		return key
	}
	if mapped, ok := aliases[key]; ok {
		return mapped
	}
	return Infer(content).Emotion
}

// Valid reports whether tag is one of chat.Emotions.
func Valid(tag string) bool {
	_, ok := valid[tag]
	return ok
}

// Infer 根据回复文本的关键词推断情绪，没有命中时返回 neutral。
func Infer(text string) Decision {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return Decision{Emotion: chat.EmotionNeutral}
	}

	scores := make(map[string]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	if exclamations := strings.Count(normalized, "！") + strings.Count(normalized, "!"); exclamations > 1 {
		scores[chat.EmotionExcited] += exclamations
	}

	best := Decision{Emotion: chat.EmotionNeutral}
	// 固定顺序遍历，得分相同时结果稳定。
	for _, label := range chat.Emotions {
		if s := scores[label]; s > best.Score {
			best = Decision{Emotion: label, Score: s}
		}
	}
	return best
}

// MoodDelta is the sulking adjustment implied by an agent emotion: sulking or
// angry replies escalate, warm replies soothe, everything else leaves it.
func MoodDelta(tag string) int {
	switch tag {
	case chat.EmotionSulking, chat.EmotionAngry:
		return 1
	case chat.EmotionHappy, chat.EmotionCheerful, chat.EmotionExcited:
		return -1
	default:
		return 0
	}
}
