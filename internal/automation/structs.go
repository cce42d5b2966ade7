package automation

import (
	"fmt"
	"sort"
	"time"
)

type TriggerType string

const (
	TriggerKeyword  TriggerType = "keyword"
	TriggerGreeting TriggerType = "greeting"
)

// Chatbot is the active configuration as seen by the engine.
type Chatbot struct {
	ID              uint
	Name            string
	WelcomeMessage  string
	FallbackMessage string
}

// AutoResponse is a keyword rule. For greeting rules TriggerValue holds
// comma separated synonyms.
type AutoResponse struct {
	ID           uint
	ChatbotID    uint
	TriggerType  TriggerType
	TriggerValue string
	ResponseText string
	ResponseType string
	Priority     int
	Active       bool
}

type Flow struct {
	ID              uint
	ChatbotID       uint
	Name            string
	TriggerKeywords []string
	Priority        int
	Active          bool
}

type StepKind string

const (
	StepMessage  StepKind = "message"
	StepQuestion StepKind = "question"
	StepAction   StepKind = "action"
)

// StepBody is one of MessageStep, QuestionStep or ActionStep.
type StepBody interface {
	Kind() StepKind
}

type MessageStep struct {
	Text string
}

type QuestionStep struct {
	Text    string
	Options []string
}

type ActionStep struct {
	Effects []Effect
}

func (MessageStep) Kind() StepKind  { return StepMessage }
func (QuestionStep) Kind() StepKind { return StepQuestion }
func (ActionStep) Kind() StepKind   { return StepAction }

type Effect string

const (
	EffectTransferToHuman  Effect = "transfer_to_human"
	EffectScheduleCallback Effect = "schedule_callback"
)

// knownEffects fixes the order acknowledgements are sent in.
var knownEffects = []Effect{EffectTransferToHuman, EffectScheduleCallback}

var effectAcks = map[Effect]string{
	EffectTransferToHuman:  "Você será transferido para um atendente humano em instantes.",
	EffectScheduleCallback: "Agendaremos um retorno em breve.",
}

// ParseEffects picks the known effect keys with a truthy value out of an
// action payload. Unknown keys are ignored.
func ParseEffects(payload map[string]interface{}) []Effect {
	var effects []Effect
	for _, e := range knownEffects {
		if truthy(payload[string(e)]) {
			effects = append(effects, e)
		}
	}
	return effects
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

// NewStepBody builds the typed body for a stored step.
func NewStepBody(kind, content string, options []string, payload map[string]interface{}) (StepBody, error) {
	switch StepKind(kind) {
	case StepMessage:
		return MessageStep{Text: content}, nil
	case StepQuestion:
		return QuestionStep{Text: content, Options: options}, nil
	case StepAction:
		return ActionStep{Effects: ParseEffects(payload)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidStep, kind)
	}
}

type Step struct {
	ID         uint
	FlowID     uint
	Order      int
	NextStepID *uint
	Body       StepBody
}

// FlowGraph is a flow with its steps indexed by id. It is read-only once built.
type FlowGraph struct {
	Flow  Flow
	steps map[uint]*Step
	first *Step
}

func NewFlowGraph(flow Flow, steps []Step) *FlowGraph {
	g := &FlowGraph{Flow: flow, steps: make(map[uint]*Step, len(steps))}
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	for i := range sorted {
		s := sorted[i]
		g.steps[s.ID] = &s
		if g.first == nil {
			g.first = &s
		}
	}
	return g
}

// FirstStep returns the step with the lowest order index.
func (g *FlowGraph) FirstStep() (*Step, bool) {
	return g.first, g.first != nil
}

func (g *FlowGraph) Step(id uint) (*Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Next follows NextStepID. A missing or dangling reference ends the flow.
func (g *FlowGraph) Next(s *Step) (*Step, bool) {
	if s.NextStepID == nil {
		return nil, false
	}
	return g.Step(*s.NextStepID)
}

func (g *FlowGraph) Len() int {
	return len(g.steps)
}

type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionTerminated SessionStatus = "terminated"
	SessionExpired    SessionStatus = "expired"
)

type Session struct {
	ID            uint
	ContactID     string
	ChatbotID     uint
	FlowID        *uint
	CurrentStepID *uint
	Data          map[string]interface{}
	Status        SessionStatus
	Version       int
	StartedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (s *Session) InFlow() bool {
	return s.FlowID != nil
}

// Clone copies the session so a turn can be planned without touching the
// loaded value. Data values are shared; the engine only stores strings.
func (s *Session) Clone() *Session {
	c := *s
	c.Data = make(map[string]interface{}, len(s.Data))
	for k, v := range s.Data {
		c.Data[k] = v
	}
	if s.FlowID != nil {
		id := *s.FlowID
		c.FlowID = &id
	}
	if s.CurrentStepID != nil {
		id := *s.CurrentStepID
		c.CurrentStepID = &id
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// StepResponseKey is the session data key holding the answer to a question step.
func StepResponseKey(stepID uint) string {
	return fmt.Sprintf("step_%d_response", stepID)
}

type InteractionKind string

const (
	KindWelcome      InteractionKind = "welcome"
	KindAutoResponse InteractionKind = "auto_response"
	KindGreeting     InteractionKind = "greeting"
	KindFlowStart    InteractionKind = "flow_start"
	KindFlowStep     InteractionKind = "flow_step"
	KindFallback     InteractionKind = "fallback"
)

// Interaction is one row of the append-only interaction log.
type Interaction struct {
	ContactID string
	ChatbotID uint
	SessionID *uint
	FlowID    *uint
	Kind      InteractionKind
	Input     string
	Response  string
	Success   bool
	Error     string
}
