package automation

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrNoActiveChatbot        = errors.New("no active chatbot")
	ErrMultipleActiveChatbots = errors.New("more than one active chatbot")
	ErrConcurrentModification = errors.New("session modified concurrently")
	ErrCycleDetected          = errors.New("step cycle detected")
	ErrInvalidStep            = errors.New("invalid step")
	ErrEmptyFlow              = errors.New("flow has no steps")
	ErrTransportNotReady      = errors.New("transport not ready")
)
