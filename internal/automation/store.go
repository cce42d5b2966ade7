package automation

import "context"

// RuleStore reads chatbot configuration. Listings return active rows only,
// in insertion order.
type RuleStore interface {
	ActiveChatbot(ctx context.Context) (*Chatbot, error)
	AutoResponses(ctx context.Context, chatbotID uint) ([]AutoResponse, error)
	Flows(ctx context.Context, chatbotID uint) ([]Flow, error)
	FlowGraph(ctx context.Context, flowID uint) (*FlowGraph, error)
}

// SessionStore persists conversation sessions. UpdateSession and
// CompleteSession compare the session's Version with the stored one and fail
// with ErrConcurrentModification on mismatch; on success they bump Version.
type SessionStore interface {
	ActiveSession(ctx context.Context, contactID string, chatbotID uint) (*Session, error)
	CreateSession(ctx context.Context, contactID string, chatbotID uint) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	CompleteSession(ctx context.Context, s *Session) error
}

type InteractionLog interface {
	LogInteraction(ctx context.Context, i Interaction) error
}

// Transport delivers outbound text and returns the provider message id.
type Transport interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
}

// Locker serializes turns for one key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Notifier receives the outcome of each turn, e.g. for a live dashboard.
type Notifier interface {
	NotifySession(s *Session)
	NotifyInteraction(i Interaction)
}
