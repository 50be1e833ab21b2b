package conversation

import (
	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// Inbound actions. A frame without an action is a chat message.
const (
	ActionChat       = "chat"
	ActionReset      = "reset"
	ActionGetState   = "get_state"
	ActionSetSulking = "set_sulking"
	ActionSetVoice   = "set_voice"
)

// Outbound statuses.
const (
	StatusConnected = "connected"
	StatusTyping    = "typing"
	StatusSuccess   = "success"
	StatusError     = "error"
)

// 面向用户的提示语。
const (
	WelcomeMessage   = "欢迎回来！小师妹准备好教你中文了~"
	TypingMessage    = "小师妹正在思考..."
	ResetMessage     = "对话已重置"
	MalformedMessage = "消息格式错误"
	EmptyMessage     = "消息不能为空"
	RateLimitMessage = "发送太频繁了，请稍等一下"

	connectFailedMessage = "连接失败，请重试"
	chatFailedMessage    = "处理消息时出错，请稍后重试"
	resetFailedMessage   = "重置失败"
	stateFailedMessage   = "获取状态失败"
	setFailedMessage     = "设置失败"
	actionFailedMessage  = "处理消息时出错"
)

// Request is one decoded inbound frame. Pointer fields distinguish an absent
// key from its zero value.
type Request struct {
	Action   string  `json:"action"`
	Message  string  `json:"message"`
	UserRole *string `json:"user_role"`
	Level    *int    `json:"level"`
	Voice    *string `json:"voice"`
}

// Frame is one outbound message.
type Frame struct {
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Data      any         `json:"data,omitempty"`
	UserState *chat.Prefs `json:"user_state,omitempty"`
}

// ErrorFrame reports msg to the client without data.
func ErrorFrame(msg string) Frame {
	return Frame{Status: StatusError, Message: msg}
}

// MoodData is the payload of a set_sulking success.
type MoodData struct {
	MoodLevel int `json:"sulking_level"`
}

// Emitter delivers interim frames while an action is still running.
type Emitter func(Frame)
