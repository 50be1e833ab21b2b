// Package conversation runs the per-connection turn pipeline: role policy,
// the sulking mechanic, history windowing, generation with fallback,
// synthesis and persistence, in that order.
package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/analysis/emotion"
	"github.com/zhouzirui/xiaoyue/backend/internal/analysis/script"
	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/persona"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/ai"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/journal"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/speech"
	"github.com/zhouzirui/xiaoyue/backend/internal/store"
	"github.com/zhouzirui/xiaoyue/backend/pkg/retry"
)

const (
	defaultHistoryWindow = 20
	defaultMaxInputRunes = 500
	logContentRunes      = 50

	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

var unsafeInputPatterns = []string{"<script", "</script", "javascript:", "onerror="}

// Orchestrator sequences every session action against the shared
// collaborators. It is safe for concurrent use across sessions.
type Orchestrator struct {
	store     store.Store
	generator ai.Generator
	synth     speech.Synthesizer
	journal   journal.Journal
	catalog   *persona.Catalog
	monitor   *script.Monitor
	cfg       config.ConversationConfig
	logger    *zap.Logger
	now       func() time.Time

	pending sync.WaitGroup

	// journalTail holds, per user, the done channel of the newest queued
	// journal write. Writes for one user run in turn order.
	journalMu   sync.Mutex
	journalTail map[string]chan struct{}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSynthesizer enables audio. Without it replies carry no audio.
func WithSynthesizer(s speech.Synthesizer) Option {
	return func(o *Orchestrator) { o.synth = s }
}

// WithJournal records turns and relationship counters durably.
func WithJournal(j journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithCatalog replaces the built-in reply catalog.
func WithCatalog(c *persona.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithMonitor shares a script monitor, typically with the health endpoint.
func WithMonitor(m *script.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator. A nil generator makes every turn use the
// fallback reply.
func New(st store.Store, gen ai.Generator, cfg config.ConversationConfig, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = defaultMaxInputRunes
	}

	o := &Orchestrator{
		store:     st,
		generator: gen,
		cfg:       cfg,
		logger:    logger.Named("conversation"),
		now:       time.Now,

		journalTail: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.catalog == nil {
		o.catalog = persona.DefaultCatalog()
	}
	if o.monitor == nil {
		o.monitor = &script.Monitor{}
	}
	return o
}

// Monitor exposes the script-purity counters.
func (o *Orchestrator) Monitor() *script.Monitor { return o.monitor }

// Wait blocks until background journal writes have finished.
func (o *Orchestrator) Wait() { o.pending.Wait() }

// Connect loads the user's preferences into a new session. On store failure
// the session still becomes ready with default preferences and the error is
// returned so the caller can report it.
func (o *Orchestrator) Connect(ctx context.Context, userID string) (*Session, error) {
	sess := newSession(userID)
	defer sess.transition(StateReady)

	prefs, err := o.store.SessionPrefs(ctx, userID)
	if err != nil {
		o.logger.Error("failed to load session state", zap.String("user_id", userID), zap.Error(err))
		return sess, err
	}
	sess.prefs = normalizePrefs(prefs)

	if persona.MoodEnabled(sess.prefs.UserRole) {
		if mood, err := o.store.Mood(ctx, userID); err != nil {
			o.logger.Warn("failed to load mood", zap.String("user_id", userID), zap.Error(err))
		} else {
			sess.prefs.MoodLevel = mood
		}
	}

	o.logger.Info("session connected",
		zap.String("user_id", userID),
		zap.String("user_role", sess.prefs.UserRole),
		zap.Int("mood", sess.prefs.MoodLevel))
	return sess, nil
}

func normalizePrefs(p chat.Prefs) chat.Prefs {
	p.UserRole = persona.ValidateRole(p.UserRole)
	// The agent role is derived, never trusted from storage.
	p.AgentRole = persona.ResolveAgentRole(p.UserRole)
	if strings.TrimSpace(p.PreferredVoice) == "" {
		p.PreferredVoice = chat.DefaultVoice
	}
	p.MoodLevel = store.ClampMood(p.MoodLevel)
	return p
}

// sanitizeInput trims, caps the length and strips markup that must never be
// echoed back to a browser.
func (o *Orchestrator) sanitizeInput(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > o.cfg.MaxInputRunes {
		text = string([]rune(text)[:o.cfg.MaxInputRunes])
	}
	for _, pattern := range unsafeInputPatterns {
		text = strings.ReplaceAll(text, pattern, "")
	}
	return strings.TrimSpace(text)
}

// applyRole validates a role override and persists it. Persistence failures
// are logged; the session keeps the new role either way.
func (o *Orchestrator) applyRole(ctx context.Context, sess *Session, candidate string) {
	role, fellBack := persona.Normalize(candidate)
	if fellBack {
		o.logger.Warn("unknown user role, using default",
			zap.String("user_id", sess.userID),
			zap.String("candidate", truncate(candidate, logContentRunes)),
			zap.String("role", role))
	}
	sess.prefs.UserRole = role
	sess.prefs.AgentRole = persona.ResolveAgentRole(role)

	if err := o.store.SetSessionPrefs(ctx, sess.userID, sess.prefs); err != nil {
		o.logger.Error("failed to persist roles", zap.String("user_id", sess.userID), zap.Error(err))
		return
	}
	o.logger.Info("roles updated",
		zap.String("user_id", sess.userID),
		zap.String("user_role", role),
		zap.String("agent_role", sess.prefs.AgentRole))
}

// currentMood reads the sulking level when the role uses the mechanic and
// returns 0 without touching the store otherwise.
func (o *Orchestrator) currentMood(ctx context.Context, sess *Session) int {
	if !persona.MoodEnabled(sess.prefs.UserRole) {
		return 0
	}
	mood, err := o.store.Mood(ctx, sess.userID)
	if err != nil {
		o.logger.Warn("failed to read mood, assuming 0", zap.String("user_id", sess.userID), zap.Error(err))
		return 0
	}
	return mood
}

// Chat runs one turn. Only input validation produces an error; every
// downstream failure degrades the reply instead.
func (o *Orchestrator) Chat(ctx context.Context, sess *Session, message string, roleOverride *string, emit Emitter) (chat.Reply, error) {
	text := o.sanitizeInput(message)
	if text == "" {
		return chat.Reply{}, invalid(EmptyMessage)
	}

	sess.transition(StateAwaitingGeneration)
	defer sess.transition(StateReady)

	if roleOverride != nil {
		o.applyRole(ctx, sess, *roleOverride)
	}
	sess.prefs.AgentRole = persona.ResolveAgentRole(sess.prefs.UserRole)
	userRole, agentRole := sess.prefs.UserRole, sess.prefs.AgentRole

	mood := o.currentMood(ctx, sess)
	sess.prefs.MoodLevel = mood

	history, err := o.store.History(ctx, sess.userID, o.cfg.HistoryWindow)
	if err != nil {
		o.logger.Warn("failed to load history", zap.String("user_id", sess.userID), zap.Error(err))
		history = nil
	}

	o.logger.Info("processing message",
		zap.String("user_id", sess.userID),
		zap.String("user_role", userRole),
		zap.String("agent_role", agentRole),
		zap.Int("mood", mood),
		zap.Int("history", len(history)),
		zap.String("content", truncate(text, logContentRunes)))

	if emit != nil {
		emit(Frame{Status: StatusTyping, Message: TypingMessage})
	}

	reply := o.generate(ctx, sess.userID, ai.Request{
		UserText:  text,
		UserRole:  userRole,
		AgentRole: agentRole,
		MoodLevel: mood,
		History:   history,
	})

	if rep := o.monitor.Observe(reply.ChineseContent); rep.Violation() {
		o.logger.Error("reply content is not in the target script",
			zap.String("user_id", sess.userID),
			zap.String("reason", rep.Reason()),
			zap.String("user_role", userRole),
			zap.String("agent_role", agentRole),
			zap.String("content", truncate(reply.ChineseContent, logContentRunes)))
	}

	reply.AudioBase64 = o.synthesize(ctx, sess, reply)

	// Trailing writes must land even if the client hangs up now.
	persistCtx := context.WithoutCancel(ctx)
	at := o.now()
	o.appendTurn(persistCtx, sess.userID, chat.UserTurn(text, at))
	o.appendTurn(persistCtx, sess.userID, chat.AssistantTurn(reply.ChineseContent, reply.Emotion, o.now()))

	finalMood := o.adjustMood(persistCtx, sess, reply.Emotion, mood)
	o.recordJournal(persistCtx, sess.userID, userRole, text, reply, finalMood, at)

	reply.MoodLevel = mood
	reply.Timestamp = at.UTC().Format(timestampLayout)
	return reply, nil
}

func (o *Orchestrator) generate(ctx context.Context, userID string, req ai.Request) chat.Reply {
	if o.generator == nil {
		return o.catalog.Fallback(req.MoodLevel)
	}

	cfg := retry.Config{
		MaxAttempts:    o.cfg.RetryAttempts,
		Delay:          o.cfg.RetryDelay,
		AttemptTimeout: o.cfg.GenerationTimeout,
		Backoff:        retry.Linear,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			o.logger.Warn("generation attempt failed",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}

	reply, err := retry.Value(ctx, cfg, func(ctx context.Context) (chat.Reply, error) {
		return o.generator.Generate(ctx, req)
	})
	if err != nil {
		o.logger.Error("generation failed, using fallback reply",
			zap.String("user_id", userID),
			zap.Int("mood", req.MoodLevel),
			zap.Error(err))
		return o.catalog.Fallback(req.MoodLevel)
	}
	return reply
}

func (o *Orchestrator) synthesize(ctx context.Context, sess *Session, reply chat.Reply) *string {
	if o.synth == nil || strings.TrimSpace(reply.ChineseContent) == "" {
		return nil
	}

	if o.cfg.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.SynthesisTimeout)
		defer cancel()
	}

	audio, err := o.synth.Synthesize(ctx, reply.ChineseContent, reply.Emotion, sess.prefs.PreferredVoice)
	if err != nil || len(audio) == 0 {
		o.logger.Warn("synthesis failed, sending reply without audio",
			zap.String("user_id", sess.userID),
			zap.String("emotion", reply.Emotion),
			zap.Error(err))
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString(audio)
	return &encoded
}

func (o *Orchestrator) appendTurn(ctx context.Context, userID string, turn chat.Turn) {
	if err := o.store.AppendHistory(ctx, userID, turn, o.cfg.MaxRetained); err != nil {
		o.logger.Error("failed to append history",
			zap.String("user_id", userID),
			zap.String("role", string(turn.Role)),
			zap.Error(err))
	}
}

// adjustMood nudges the sulking level by the reply's emotion and returns the
// resulting level.
func (o *Orchestrator) adjustMood(ctx context.Context, sess *Session, emotionTag string, mood int) int {
	if !o.cfg.MoodAutoAdjust || !persona.MoodEnabled(sess.prefs.UserRole) {
		return mood
	}

	var (
		next int
		err  error
	)
	switch emotion.MoodDelta(emotionTag) {
	case 1:
		next, err = o.store.IncrementMood(ctx, sess.userID)
	case -1:
		next, err = o.store.DecrementMood(ctx, sess.userID)
	default:
		return mood
	}
	if err != nil {
		o.logger.Error("failed to adjust mood", zap.String("user_id", sess.userID), zap.Error(err))
		return mood
	}
	if next != mood {
		o.logger.Info("mood adjusted",
			zap.String("user_id", sess.userID),
			zap.String("emotion", emotionTag),
			zap.Int("from", mood),
			zap.Int("to", next))
	}
	return next
}

// recordJournal writes the turn to the journal in the background. Writes for
// the same user wait for the previous turn's write to finish.
func (o *Orchestrator) recordJournal(ctx context.Context, userID, userRole, text string, reply chat.Reply, mood int, at time.Time) {
	if o.journal == nil {
		return
	}

	done := make(chan struct{})
	o.journalMu.Lock()
	prev := o.journalTail[userID]
	o.journalTail[userID] = done
	o.journalMu.Unlock()

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		defer func() {
			close(done)
			o.journalMu.Lock()
			if o.journalTail[userID] == done {
				delete(o.journalTail, userID)
			}
			o.journalMu.Unlock()
		}()

		if prev != nil {
			<-prev
		}
		o.writeJournal(ctx, userID, userRole, text, reply, mood, at)
	}()
}

func (o *Orchestrator) writeJournal(ctx context.Context, userID, userRole, text string, reply chat.Reply, mood int, at time.Time) {
	log := o.logger.With(zap.String("user_id", userID))
	if _, err := o.journal.EnsureSession(ctx, userID, userRole); err != nil {
		log.Error("journal: failed to ensure session", zap.Error(err))
		return
	}
	messages := []journal.Message{
		{SessionID: userID, Role: chat.SpeakerUser, Content: text, CreatedAt: at},
		{SessionID: userID, Role: chat.SpeakerAssistant, Content: reply.ChineseContent, Emotion: reply.Emotion, CreatedAt: at},
	}
	for _, msg := range messages {
		if err := o.journal.AppendMessage(ctx, msg); err != nil {
			log.Error("journal: failed to append message", zap.Error(err))
			return
		}
	}
	if _, err := journal.RecordInteraction(ctx, o.journal, userID, userRole, mood); err != nil {
		log.Error("journal: failed to record interaction", zap.Error(err))
	}
}

// Reset picks the farewell by the mood that is about to be erased, then
// clears history and zeroes the mood.
func (o *Orchestrator) Reset(ctx context.Context, sess *Session, roleOverride *string) (chat.Reply, error) {
	if roleOverride != nil {
		o.applyRole(ctx, sess, *roleOverride)
	}

	mood, err := o.store.Mood(ctx, sess.userID)
	if err != nil {
		o.logger.Warn("failed to read mood before reset", zap.String("user_id", sess.userID), zap.Error(err))
		mood = 0
	}
	wasSulking := mood >= persona.SulkyThreshold
	reply := o.catalog.Reset(sess.prefs.UserRole, wasSulking)

	if err := o.store.ClearHistory(ctx, sess.userID); err != nil {
		return chat.Reply{}, err
	}
	if _, err := o.store.SetMood(ctx, sess.userID, 0); err != nil {
		return chat.Reply{}, err
	}
	sess.prefs.MoodLevel = 0

	o.logger.Info("conversation reset",
		zap.String("user_id", sess.userID),
		zap.String("user_role", sess.prefs.UserRole),
		zap.Bool("was_sulking", wasSulking))

	reply.MoodLevel = 0
	reply.Timestamp = o.now().UTC().Format(timestampLayout)
	return reply, nil
}

// State returns the session snapshot with a fresh mood read.
func (o *Orchestrator) State(ctx context.Context, sess *Session) (chat.Prefs, error) {
	mood, err := o.store.Mood(ctx, sess.userID)
	if err != nil {
		return chat.Prefs{}, err
	}
	sess.prefs.MoodLevel = mood
	return sess.prefs, nil
}

// SetMood writes a clamped level straight to the store.
func (o *Orchestrator) SetMood(ctx context.Context, sess *Session, level int) (int, error) {
	stored, err := o.store.SetMood(ctx, sess.userID, level)
	if err != nil {
		return 0, err
	}
	sess.prefs.MoodLevel = stored
	o.logger.Info("mood set", zap.String("user_id", sess.userID), zap.Int("requested", level), zap.Int("stored", stored))
	return stored, nil
}

// SetVoice stores the preferred synthesis voice.
func (o *Orchestrator) SetVoice(ctx context.Context, sess *Session, voice string) (chat.Prefs, error) {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return chat.Prefs{}, invalid("voice is required")
	}

	previous := sess.prefs.PreferredVoice
	sess.prefs.PreferredVoice = voice
	if err := o.store.SetSessionPrefs(ctx, sess.userID, sess.prefs); err != nil {
		sess.prefs.PreferredVoice = previous
		return chat.Prefs{}, err
	}
	return sess.prefs, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
