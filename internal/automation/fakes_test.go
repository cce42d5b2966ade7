package automation

import (
	"context"
	"errors"
	"sync"
)

type fakeRules struct {
	mu        sync.Mutex
	bots      []Chatbot
	responses []AutoResponse
	flows     []Flow
	graphs    map[uint]*FlowGraph
	err       error
	calls     int
}

func (r *fakeRules) ActiveChatbot(ctx context.Context) (*Chatbot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	switch len(r.bots) {
	case 0:
		return nil, ErrNoActiveChatbot
	case 1:
		b := r.bots[0]
		return &b, nil
	default:
		return nil, ErrMultipleActiveChatbots
	}
}

func (r *fakeRules) AutoResponses(ctx context.Context, chatbotID uint) ([]AutoResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.responses, nil
}

func (r *fakeRules) Flows(ctx context.Context, chatbotID uint) ([]Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.flows, nil
}

func (r *fakeRules) FlowGraph(ctx context.Context, flowID uint) (*FlowGraph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	g, ok := r.graphs[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

// memSessions is an in-memory SessionStore with the same version check as the
// database adapter.
type memSessions struct {
	mu       sync.Mutex
	byID     map[uint]*Session
	nextID   uint
	writes   int
	failNext error
	// beforeWrite runs inside UpdateSession/CompleteSession before the
	// version check, without the lock held.
	beforeWrite func()
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[uint]*Session)}
}

func (m *memSessions) ActiveSession(ctx context.Context, contactID string, chatbotID uint) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.ContactID == contactID && s.ChatbotID == chatbotID && s.Status == SessionActive {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) CreateSession(ctx context.Context, contactID string, chatbotID uint) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	for _, s := range m.byID {
		if s.ContactID == contactID && s.ChatbotID == chatbotID && s.Status == SessionActive {
			return nil, ErrConcurrentModification
		}
	}
	m.nextID++
	m.writes++
	s := &Session{
		ID:        m.nextID,
		ContactID: contactID,
		ChatbotID: chatbotID,
		Status:    SessionActive,
		Data:      map[string]interface{}{},
		Version:   1,
	}
	m.byID[s.ID] = s
	return s.Clone(), nil
}

func (m *memSessions) UpdateSession(ctx context.Context, s *Session) error {
	return m.write(s)
}

func (m *memSessions) CompleteSession(ctx context.Context, s *Session) error {
	return m.write(s)
}

func (m *memSessions) write(s *Session) error {
	if m.beforeWrite != nil {
		hook := m.beforeWrite
		m.beforeWrite = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	stored, ok := m.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != s.Version {
		return ErrConcurrentModification
	}
	s.Version++
	m.writes++
	m.byID[s.ID] = s.Clone()
	return nil
}

func (m *memSessions) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memSessions) get(id uint) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		return s.Clone()
	}
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memSessions) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type memLog struct {
	mu   sync.Mutex
	rows []Interaction
}

func (l *memLog) LogInteraction(ctx context.Context, i Interaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, i)
	return nil
}

func (l *memLog) all() []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Interaction(nil), l.rows...)
}

type sentMessage struct {
	to, body string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeTransport) SendMessage(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return "wamid.test", nil
}

func (f *fakeTransport) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.body)
	}
	return out
}

type recordingNotifier struct {
	mu           sync.Mutex
	sessions     []*Session
	interactions []Interaction
}

func (n *recordingNotifier) NotifySession(s *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, s)
}

func (n *recordingNotifier) NotifyInteraction(i Interaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interactions = append(n.interactions, i)
}

type chanLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	keys  []string
}

func (l *chanLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]chan struct{})
	}
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errStoreDown = errors.New("store down")
