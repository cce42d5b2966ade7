package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 3
)

type Options struct {
	// Timeout bounds one dispatch turn, including retries.
	Timeout time.Duration
	// Retries is how many times a turn is replanned after ErrConcurrentModification.
	Retries int
	// Locker serializes turns per (contact, chatbot). Nil leaves ordering to
	// the session store's version check.
	Locker   Locker
	Notifier Notifier
	Now      func() time.Time
}

// Engine is the conversation dispatcher. It decides the one response path for
// each inbound message and drives the session through it.
type Engine struct {
	rules        RuleStore
	sessions     SessionStore
	interactions InteractionLog
	transport    Transport
	executor     *FlowExecutor
	logger       *zap.Logger
	opts         Options

	missingLogged atomic.Bool
}

func NewEngine(rules RuleStore, sessions SessionStore, interactions InteractionLog, transport Transport, logger *zap.Logger, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:        rules,
		sessions:     sessions,
		interactions: interactions,
		transport:    transport,
		executor:     NewFlowExecutor(),
		logger:       logger,
		opts:         opts,
	}
}

type eventIDKey struct{}

// WithEventID tags ctx with the id of the inbound event being handled.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

func eventIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey{}).(string)
	return id
}

// turn is the planned outcome of one inbound message. Nothing in it has been
// persisted or sent yet.
type turn struct {
	kind    InteractionKind
	replies []string
	// create asks for a new session; session is set when an existing one changes.
	create  bool
	session *Session
	flowID  *uint
}

// HandleInboundMessage runs one dispatch turn. It never panics and never
// returns an error: failures are logged and the contact gets no reply.
func (e *Engine) HandleInboundMessage(ctx context.Context, contactID, text string) {
	log := e.logger.With(zap.String("contact_id", contactID))
	if id := eventIDFrom(ctx); id != "" {
		log = log.With(zap.String("event_id", id))
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	bot, err := e.rules.ActiveChatbot(ctx)
	switch {
	case errors.Is(err, ErrNoActiveChatbot), errors.Is(err, ErrNotFound):
		if e.missingLogged.CompareAndSwap(false, true) {
			log.Warn("no active chatbot configured, inbound messages are ignored")
		}
		return
	case err != nil:
		log.Error("failed to load active chatbot", zap.Error(err))
		return
	}
	e.missingLogged.Store(false)
	log = log.With(zap.Uint("chatbot_id", bot.ID))

	if e.opts.Locker != nil {
		unlock, err := e.opts.Locker.Lock(ctx, fmt.Sprintf("%s:%d", contactID, bot.ID))
		if err != nil {
			log.Error("failed to acquire session lock", zap.Error(err))
			return
		}
		defer unlock()
	}

	var (
		t       *turn
		session *Session
	)
	for attempt := 1; ; attempt++ {
		t, session, err = e.planAndCommit(ctx, bot, contactID, text)
		if !errors.Is(err, ErrConcurrentModification) || attempt >= e.opts.Retries {
			break
		}
		log.Debug("session changed concurrently, replanning turn", zap.Int("attempt", attempt))
	}
	if err != nil {
		log.Error("dispatch turn aborted", zap.Error(err))
		return
	}
	if t == nil {
		log.Debug("no response path matched")
		return
	}
	if session != nil {
		log = log.With(zap.Uint("session_id", session.ID))
	}

	e.deliver(ctx, log, bot, contactID, text, t, session)
}

// planAndCommit reads the current state, plans the turn and persists the
// session change. The returned session is the stored one after the commit.
func (e *Engine) planAndCommit(ctx context.Context, bot *Chatbot, contactID, text string) (*turn, *Session, error) {
	now := e.opts.Now()
	t, err := e.plan(ctx, bot, contactID, text, now)
	if err != nil || t == nil {
		return t, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	switch {
	case t.create:
		s, err := e.sessions.CreateSession(ctx, contactID, bot.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("create session: %w", err)
		}
		return t, s, nil
	case t.session == nil:
		return t, nil, nil
	case t.session.Status == SessionCompleted:
		if err := e.sessions.CompleteSession(ctx, t.session); err != nil {
			return nil, nil, fmt.Errorf("complete session %d: %w", t.session.ID, err)
		}
	default:
		if err := e.sessions.UpdateSession(ctx, t.session); err != nil {
			return nil, nil, fmt.Errorf("update session %d: %w", t.session.ID, err)
		}
	}
	return t, t.session, nil
}

func (e *Engine) plan(ctx context.Context, bot *Chatbot, contactID, text string, now time.Time) (*turn, error) {
	norm := Normalize(text)

	current, err := e.sessions.ActiveSession(ctx, contactID, bot.ID)
	if errors.Is(err, ErrNotFound) {
		current = nil
	} else if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if current == nil {
		if IsGreeting(norm) {
			return &turn{kind: KindWelcome, replies: nonEmpty(bot.WelcomeMessage), create: true}, nil
		}
		return e.matchRules(ctx, bot, norm)
	}

	s := current.Clone()
	s.UpdatedAt = now

	if s.InFlow() {
		flowID := *s.FlowID
		g, err := e.rules.FlowGraph(ctx, flowID)
		if errors.Is(err, ErrNotFound) {
			complete(s, now)
			return &turn{kind: KindFlowStep, session: s, flowID: &flowID}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load flow %d: %w", flowID, err)
		}
		replies, err := e.executor.ContinueFlow(g, s, text, now)
		if err != nil {
			return nil, err
		}
		return &turn{kind: KindFlowStep, replies: replies, session: s, flowID: &flowID}, nil
	}

	flows, err := e.rules.Flows(ctx, bot.ID)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	if f := MatchFlow(flows, norm); f != nil {
		t, err := e.startFlow(ctx, s, f.ID, now)
		if err != nil && !errors.Is(err, ErrEmptyFlow) {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}

	t, err := e.matchRules(ctx, bot, norm)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = &turn{kind: KindFallback, replies: nonEmpty(bot.FallbackMessage)}
	}
	t.session = s
	return t, nil
}

func (e *Engine) startFlow(ctx context.Context, s *Session, flowID uint, now time.Time) (*turn, error) {
	g, err := e.rules.FlowGraph(ctx, flowID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load flow %d: %w", flowID, err)
	}
	replies, err := e.executor.StartFlow(g, s, now)
	if err != nil {
		return nil, err
	}
	return &turn{kind: KindFlowStart, replies: replies, session: s, flowID: &flowID}, nil
}

// matchRules runs the trigger matcher. A nil turn means no rule fired.
func (e *Engine) matchRules(ctx context.Context, bot *Chatbot, norm string) (*turn, error) {
	rules, err := e.rules.AutoResponses(ctx, bot.ID)
	if err != nil {
		return nil, fmt.Errorf("load auto responses: %w", err)
	}
	m := MatchTrigger(rules, norm)
	switch m.Kind {
	case MatchAutoResponse:
		return &turn{kind: KindAutoResponse, replies: nonEmpty(m.Rule.ResponseText)}, nil
	case MatchGreeting:
		return &turn{kind: KindGreeting, replies: nonEmpty(m.Rule.ResponseText)}, nil
	default:
		return nil, nil
	}
}

// deliver sends the planned replies and records the turn. The session is
// already committed, so a transport failure only loses the reply.
func (e *Engine) deliver(ctx context.Context, log *zap.Logger, bot *Chatbot, contactID, text string, t *turn, session *Session) {
	rec := Interaction{
		ContactID: contactID,
		ChatbotID: bot.ID,
		FlowID:    t.flowID,
		Kind:      t.kind,
		Input:     text,
		Response:  strings.Join(t.replies, "\n"),
		Success:   true,
	}
	if session != nil {
		id := session.ID
		rec.SessionID = &id
	}

	for _, reply := range t.replies {
		if err := ctx.Err(); err != nil {
			rec.Success, rec.Error = false, err.Error()
			log.Warn("dispatch deadline reached, remaining replies dropped", zap.Error(err))
			break
		}
		if _, err := e.transport.SendMessage(ctx, contactID, reply); err != nil {
			rec.Success, rec.Error = false, err.Error()
			log.Error("failed to send reply", zap.String("kind", string(t.kind)), zap.Error(err))
			break
		}
	}

	// The turn's deadline may have passed; the log row is still written.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeout)
	defer cancel()
	if err := e.interactions.LogInteraction(logCtx, rec); err != nil {
		log.Error("failed to log interaction", zap.Error(err))
	}

	if n := e.opts.Notifier; n != nil {
		if session != nil {
			n.NotifySession(session)
		}
		n.NotifyInteraction(rec)
	}
	log.Info("dispatch turn handled",
		zap.String("kind", string(t.kind)),
		zap.Int("replies", len(t.replies)),
		zap.Bool("success", rec.Success))
}
