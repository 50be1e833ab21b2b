package emotion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

func TestNormalizeKeepsValidTags(t *testing.T) {
	for _, e := range chat.Emotions {
		assert.Equal(t, e, Normalize(e, ""))
		assert.Equal(t, e, Normalize("  "+strings.ToUpper(e)+" ", ""))
	}
}

func TestNormalizeAliases(t *testing.T) {
	assert.Equal(t, chat.EmotionConcerned, Normalize("sad", "随便"))
	assert.Equal(t, chat.EmotionSulking, Normalize("Annoyed", ""))
	assert.Equal(t, chat.EmotionStrict, Normalize("magnetic", ""))
}

func TestNormalizeInfersFromContent(t *testing.T) {
	assert.Equal(t, chat.EmotionSulking, Normalize("grumpy", "哼！师兄都不理我！"))
	assert.Equal(t, chat.EmotionAngry, Normalize("", "废物弟弟！姐姐很失望！"))
	assert.Equal(t, chat.EmotionNeutral, Normalize("???", "你好。"))
	assert.Equal(t, chat.EmotionNeutral, Normalize("", ""))
}

func TestInferPrefersStrongestBucket(t *testing.T) {
	d := Infer("妹妹真乖！哈哈，姐姐很开心。")
	assert.Equal(t, chat.EmotionHappy, d.Emotion)
	assert.Positive(t, d.Score)
}

func TestInferIsDeterministicOnTies(t *testing.T) {
	first := Infer("哼 开心")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Infer("哼 开心"))
	}
}

func TestMoodDelta(t *testing.T) {
	assert.Equal(t, 1, MoodDelta(chat.EmotionSulking))
	assert.Equal(t, 1, MoodDelta(chat.EmotionAngry))
	assert.Equal(t, -1, MoodDelta(chat.EmotionHappy))
	assert.Equal(t, -1, MoodDelta(chat.EmotionCheerful))
	assert.Equal(t, -1, MoodDelta(chat.EmotionExcited))
	assert.Equal(t, 0, MoodDelta(chat.EmotionStrict))
	assert.Equal(t, 0, MoodDelta(chat.EmotionConcerned))
	assert.Equal(t, 0, MoodDelta("whatever"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("happy"))
	assert.False(t, Valid("Happy"))
	assert.False(t, Valid("sad"))
}
