package conversation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Open connects a session and builds the greeting frame. A store failure
// yields an error frame but the session is still usable.
func (o *Orchestrator) Open(ctx context.Context, userID string) (*Session, Frame) {
	sess, err := o.Connect(ctx, userID)
	if err != nil {
		return sess, ErrorFrame(connectFailedMessage)
	}
	snapshot := sess.Snapshot()
	return sess, Frame{Status: StatusConnected, Message: WelcomeMessage, UserState: &snapshot}
}

// Handle runs one inbound request and returns the terminal frame. It never
// panics and never returns an error: failures become error frames.
func (o *Orchestrator) Handle(ctx context.Context, sess *Session, req Request, emit Emitter) (frame Frame) {
	action := req.Action
	if action == "" {
		action = ActionChat
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("action panicked",
				zap.String("user_id", sess.userID),
				zap.String("action", action),
				zap.Any("panic", r),
				zap.Stack("stack"))
			sess.transition(StateReady)
			frame = ErrorFrame(failureMessage(action))
		}
	}()

	o.logger.Debug("received action", zap.String("user_id", sess.userID), zap.String("action", action))

	var (
		result Frame
		err    error
	)
	switch action {
	case ActionChat:
		reply, chatErr := o.Chat(ctx, sess, req.Message, req.UserRole, emit)
		result, err = Frame{Status: StatusSuccess, Data: reply}, chatErr

	case ActionReset:
		reply, resetErr := o.Reset(ctx, sess, req.UserRole)
		result, err = Frame{Status: StatusSuccess, Message: ResetMessage, Data: reply}, resetErr

	case ActionGetState:
		state, stateErr := o.State(ctx, sess)
		result, err = Frame{Status: StatusSuccess, Data: state}, stateErr

	case ActionSetSulking:
		if req.Level == nil {
			err = invalid("level is required")
			break
		}
		stored, setErr := o.SetMood(ctx, sess, *req.Level)
		result, err = Frame{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("Sulking level set to %d", stored),
			Data:    MoodData{MoodLevel: stored},
		}, setErr

	case ActionSetVoice:
		voice := ""
		if req.Voice != nil {
			voice = *req.Voice
		}
		prefs, voiceErr := o.SetVoice(ctx, sess, voice)
		result, err = Frame{Status: StatusSuccess, Data: prefs}, voiceErr

	default:
		err = invalid("Unknown action: %s", action)
	}

	if err == nil {
		return result
	}
	if v, ok := IsValidation(err); ok {
		return ErrorFrame(v.Message)
	}
	o.logger.Error("action failed",
		zap.String("user_id", sess.userID),
		zap.String("action", action),
		zap.Error(err))
	return ErrorFrame(failureMessage(action))
}

func failureMessage(action string) string {
	switch action {
	case ActionChat:
		return chatFailedMessage
	case ActionReset:
		return resetFailedMessage
	case ActionGetState:
		return stateFailedMessage
	case ActionSetSulking, ActionSetVoice:
		return setFailedMessage
	default:
		return actionFailedMessage
	}
}
