package automation

import (
	"fmt"
	"strings"
	"time"
)

// FlowExecutor moves a session through a flow graph. It works on an in-memory
// session and returns the messages to send; persisting and sending are the
// caller's job, so a failed turn leaves nothing half written.
type FlowExecutor struct{}

func NewFlowExecutor() *FlowExecutor {
	return &FlowExecutor{}
}

// StartFlow enters the flow's first step.
func (x *FlowExecutor) StartFlow(g *FlowGraph, s *Session, now time.Time) ([]string, error) {
	first, ok := g.FirstStep()
	if !ok {
		return nil, fmt.Errorf("flow %d: %w", g.Flow.ID, ErrEmptyFlow)
	}
	flowID := g.Flow.ID
	s.FlowID = &flowID
	return x.enter(g, s, first, now)
}

// ContinueFlow handles a reply while the session waits on a step. Answers to
// question steps are merged into session data before advancing.
func (x *FlowExecutor) ContinueFlow(g *FlowGraph, s *Session, text string, now time.Time) ([]string, error) {
	if s.CurrentStepID == nil {
		complete(s, now)
		return nil, nil
	}
	current, ok := g.Step(*s.CurrentStepID)
	if !ok {
		complete(s, now)
		return nil, nil
	}

	if _, isQuestion := current.Body.(QuestionStep); isQuestion {
		if s.Data == nil {
			s.Data = make(map[string]interface{})
		}
		s.Data[StepResponseKey(current.ID)] = text
	}

	next, ok := g.Next(current)
	if !ok {
		complete(s, now)
		return nil, nil
	}
	return x.enter(g, s, next, now)
}

// enter executes step and keeps going through message and action steps until
// it reaches a question (the session then waits there) or runs out of steps.
func (x *FlowExecutor) enter(g *FlowGraph, s *Session, step *Step, now time.Time) ([]string, error) {
	visited := make(map[uint]bool)
	var out []string
	for {
		if visited[step.ID] {
			return nil, fmt.Errorf("flow %d step %d: %w", g.Flow.ID, step.ID, ErrCycleDetected)
		}
		visited[step.ID] = true

		out = append(out, RenderStep(step.Body)...)

		if _, isQuestion := step.Body.(QuestionStep); isQuestion {
			id := step.ID
			s.CurrentStepID = &id
			return out, nil
		}

		next, ok := g.Next(step)
		if !ok {
			complete(s, now)
			return out, nil
		}
		step = next
	}
}

// RenderStep returns the outbound messages for a step. Empty texts are dropped.
func RenderStep(body StepBody) []string {
	switch b := body.(type) {
	case MessageStep:
		return nonEmpty(b.Text)
	case QuestionStep:
		return nonEmpty(formatQuestion(b))
	case ActionStep:
		var out []string
		for _, e := range b.Effects {
			out = append(out, effectAcks[e])
		}
		return out
	default:
		return nil
	}
}

func formatQuestion(q QuestionStep) string {
	if len(q.Options) == 0 {
		return q.Text
	}
	var sb strings.Builder
	sb.WriteString(q.Text)
	sb.WriteString("\n\nOpções:")
	for i, opt := range q.Options {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, opt)
	}
	return sb.String()
}

func complete(s *Session, now time.Time) {
	s.Status = SessionCompleted
	s.CurrentStepID = nil
	t := now
	s.CompletedAt = &t
}

func nonEmpty(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []string{text}
}
