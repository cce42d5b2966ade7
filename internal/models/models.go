package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session statuses
const (
	SessionActive     = "active"
	SessionCompleted  = "completed"
	SessionTerminated = "terminated"
	SessionExpired    = "expired"
)

// Message represents a WhatsApp message, inbound or outbound
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WaID       string    `gorm:"type:varchar(50);index;not null" json:"wa_id"` // contact the message belongs to
	ProviderID string    `gorm:"type:varchar(255);index" json:"provider_id"`   // wamid assigned by WhatsApp
	Sender     string    `gorm:"type:varchar(50);not null" json:"sender"`
	Content    string    `gorm:"type:text" json:"content"`
	Type       string    `gorm:"type:varchar(50)" json:"type"`
	Status     string    `gorm:"type:varchar(20)" json:"status"` // received, sent
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Contact represents a WhatsApp contact
type Contact struct {
	WaID      string    `gorm:"primaryKey;type:varchar(50)" json:"wa_id"` // WhatsApp ID (phone number)
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Tags      string    `gorm:"type:text" json:"tags"` // Comma separated tags
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Chatbot is the automation configuration. At most one row is active.
type Chatbot struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	WelcomeMessage  string    `gorm:"type:text" json:"welcome_message"`
	FallbackMessage string    `gorm:"type:text" json:"fallback_message"`
	Active          bool      `gorm:"not null;index" json:"active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

// AutoResponse is a keyword or greeting triggered canned reply
type AutoResponse struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ChatbotID    uint      `gorm:"not null;index" json:"chatbot_id"`
	TriggerType  string    `gorm:"type:varchar(20);not null" json:"trigger_type"` // keyword, greeting
	TriggerValue string    `gorm:"type:text;not null" json:"trigger_value"`       // keyword, or comma separated greetings
	ResponseText string    `gorm:"type:text" json:"response_text"`
	ResponseType string    `gorm:"type:varchar(20);default:'text'" json:"response_type"`
	Priority     int       `gorm:"not null;default:0" json:"priority"`
	Active       bool      `gorm:"not null" json:"active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutoResponse) TableName() string {
	return "auto_responses"
}

// Flow is a keyword triggered multi-step script
type Flow struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	ChatbotID       uint                        `gorm:"not null;index" json:"chatbot_id"`
	Name            string                      `gorm:"type:varchar(255);not null" json:"name"`
	Description     string                      `gorm:"type:text" json:"description"`
	TriggerKeywords datatypes.JSONSlice[string] `json:"trigger_keywords"`
	Priority        int                         `gorm:"not null;default:0" json:"priority"`
	Active          bool                        `gorm:"not null" json:"active"`
	Steps           []Step                      `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE;" json:"steps,omitempty"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Flow) TableName() string {
	return "flows"
}

// Step is one node of a flow. NextStepID nil ends the flow.
type Step struct {
	ID            uint                        `gorm:"primaryKey" json:"id"`
	FlowID        uint                        `gorm:"not null;uniqueIndex:idx_flow_step_order,priority:1" json:"flow_id"`
	Order         int                         `gorm:"column:step_order;not null;uniqueIndex:idx_flow_step_order,priority:2" json:"order"`
	Type          string                      `gorm:"type:varchar(20);not null" json:"type"` // message, question, action
	Content       string                      `gorm:"type:text" json:"content"`
	Options       datatypes.JSONSlice[string] `json:"options,omitempty"`
	NextStepID    *uint                       `json:"next_step_id"`
	ActionPayload datatypes.JSONMap           `json:"action_payload,omitempty"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Step) TableName() string {
	return "flow_steps"
}

// ConversationSession tracks one contact's progress with a chatbot.
// Version is bumped on every write and guards concurrent updates.
type ConversationSession struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	ContactID     string            `gorm:"type:varchar(50);not null;index;uniqueIndex:idx_session_active,where:status = 'active'" json:"contact_id"`
	ChatbotID     uint              `gorm:"not null;uniqueIndex:idx_session_active" json:"chatbot_id"`
	FlowID        *uint             `json:"flow_id"`
	CurrentStepID *uint             `json:"current_step_id"`
	Data          datatypes.JSONMap `json:"data"`
	Status        string            `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	Version       int               `gorm:"not null;default:0" json:"version"`
	StartedAt     time.Time         `gorm:"autoCreateTime" json:"started_at"`
	UpdatedAt     time.Time         `gorm:"index" json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at"`
}

func (ConversationSession) TableName() string {
	return "conversation_sessions"
}

// InteractionLog is an append-only record of every automated action
type InteractionLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ContactID    string    `gorm:"type:varchar(50);index" json:"contact_id"`
	ChatbotID    uint      `gorm:"index" json:"chatbot_id"`
	SessionID    *uint     `json:"session_id"`
	FlowID       *uint     `json:"flow_id"`
	ActionTaken  string    `gorm:"type:varchar(50);index" json:"action_taken"`
	InputText    string    `gorm:"type:text" json:"input_text"`
	ResponseText string    `gorm:"type:text" json:"response_text"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (InteractionLog) TableName() string {
	return "interaction_logs"
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&Contact{},
		&Message{},
		&Chatbot{},
		&AutoResponse{},
		&Flow{},
		&Step{},
		&ConversationSession{},
		&InteractionLog{},
	}
}
