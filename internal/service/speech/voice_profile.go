package speech

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// prosody adjusts rate and volume relative to the configured baseline.
// Percentages are applied as ratios: +10 means 1.10x.
type prosody struct {
	RatePercent   int
	VolumePercent int
	Label         string  // provider emotion label for emotion-capable speakers
	Scale         float32 // provider emotion intensity 1..5
}

var emotionPresets = map[string]prosody{
	chat.EmotionNeutral:   {0, 0, "", 0},
	chat.EmotionHappy:     {10, 10, "happy", 3},
	chat.EmotionExcited:   {15, 20, "excited", 4},
	chat.EmotionCheerful:  {10, 10, "happy", 2},
	chat.EmotionStrict:    {-5, 10, "magnetic", 3},
	chat.EmotionConcerned: {-5, -15, "comfort", 3},
	chat.EmotionSulking:   {-10, -10, "sad", 2},
	chat.EmotionAngry:     {20, 25, "angry", 4},
}

// presetFor falls back to neutral for unknown tags.
func presetFor(emotionTag string) prosody {
	if p, ok := emotionPresets[strings.ToLower(strings.TrimSpace(emotionTag))]; ok {
		return p
	}
	return emotionPresets[chat.EmotionNeutral]
}

func (p prosody) speedRatio(base float32) float32 {
	if base <= 0 {
		base = 1
	}
	return base * (1 + float32(p.RatePercent)/100)
}

func (p prosody) volumeRatio(base float32) float32 {
	if base <= 0 {
		base = 1
	}
	return base * (1 + float32(p.VolumePercent)/100)
}

// Client voice ids follow the browser neural voice naming; map them onto
// provider speakers.
var voiceAliases = map[string]string{
	"zh-cn-xiaoxiaoneural": "zh_female_tianxinxiaomei_emo_v2_mars_bigtts",
	"zh-cn-xiaoyineural":   "zh_female_vv_uranus_bigtts",
	"zh-cn-yunxineural":    "zh_male_yourougongzi_emo_v2_mars_bigtts",
	"zh-cn-yunjianneural":  "zh_male_junlangnanyou_emo_v2_mars_bigtts",
	"zh-cn-yunyangneural":  "zh_male_M392_conversation_wvae_bigtts",
	"default":              "zh_female_tianxinxiaomei_emo_v2_mars_bigtts",
}

// NormalizeVoiceAlias maps a client voice id to a provider speaker. Unknown
// ids are returned trimmed.
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

func supportsEmotion(speaker string) bool {
	normalized := strings.ToLower(strings.TrimSpace(speaker))
	return strings.Contains(normalized, "_emo_") || strings.HasSuffix(normalized, "_emo")
}

// emotionParameters returns the provider emotion label for a speaker, or
// ok=false when the speaker or tag has none.
func emotionParameters(speaker, emotionTag string) (label string, scale float32, ok bool) {
	p := presetFor(emotionTag)
	if p.Label == "" || !supportsEmotion(speaker) {
		return "", 0, false
	}
	scale = p.Scale
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}
	return p.Label, scale, true
}

var ellipsisPattern = regexp.MustCompile(`(\.{2,}|…+)`)

// sanitizeText prepares reply text for synthesis. Ellipses become a comma
// pause since the engine reads them out literally.
func sanitizeText(text string) string {
	text = ellipsisPattern.ReplaceAllString(text, "，")
	return strings.TrimSpace(text)
}
