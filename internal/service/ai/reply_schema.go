package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zhouzirui/xiaoyue/backend/internal/analysis/emotion"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// ErrMalformedReply marks model output that is not a usable reply object.
var ErrMalformedReply = errors.New("malformed model reply")

const replySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["thought", "chinese_content", "vietnamese_display", "pinyin", "emotion", "action"],
  "properties": {
    "thought": {"type": "string"},
    "chinese_content": {"type": "string", "minLength": 1},
    "vietnamese_display": {"type": "string"},
    "pinyin": {"type": "string"},
    "emotion": {"type": "string"},
    "action": {"type": "string"},
    "correction_detail": {
      "type": ["object", "null"],
      "properties": {
        "is_correct": {"type": "boolean"},
        "mistake_highlight": {"type": "string"},
        "explanation": {"type": "string"}
      }
    },
    "quiz_list": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "type", "question", "answer"],
        "properties": {
          "id": {"type": "integer"},
          "type": {"enum": ["fill_blank", "multiple_choice", "listening"]},
          "question": {"type": "string"},
          "options": {"type": ["array", "null"], "items": {"type": "string"}},
          "answer": {"type": "string"}
        }
      }
    }
  }
}`

var replySchema = jsonschema.MustCompileString("reply.schema.json", replySchemaJSON)

// extractJSON trims markdown fences and any prose around the outermost object.
func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no json object in %d bytes", ErrMalformedReply, len(content))
	}
	return content[start : end+1], nil
}

// ParseReply validates raw model output against the reply schema and decodes
// it. Emotion and action are folded onto the supported sets.
func ParseReply(content string) (chat.Reply, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return chat.Reply{}, err
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return chat.Reply{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	if err := replySchema.Validate(doc); err != nil {
		return chat.Reply{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}

	var reply chat.Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return chat.Reply{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}

	reply.Emotion = emotion.Normalize(reply.Emotion, reply.ChineseContent)
	switch reply.Action {
	case chat.ActionNone, chat.ActionCorrection, chat.ActionQuiz:
	default:
		reply.Action = chat.ActionNone
	}
	if reply.QuizList == nil {
		reply.QuizList = []chat.QuizItem{}
	}
	// 这些字段由编排层填写，忽略模型给出的值。
	reply.AudioBase64 = nil
	reply.MoodLevel = 0
	reply.Timestamp = ""
	return reply, nil
}
