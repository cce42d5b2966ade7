package database

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"gorm.io/gorm"
)

// RuleStore reads chatbot configuration for the engine.
type RuleStore struct {
	db *gorm.DB
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

func (r *RuleStore) ActiveChatbot(ctx context.Context) (*automation.Chatbot, error) {
	var bots []models.Chatbot
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id").Limit(2).Find(&bots).Error; err != nil {
		return nil, err
	}
	switch len(bots) {
	case 0:
		return nil, automation.ErrNoActiveChatbot
	case 1:
		b := bots[0]
		return &automation.Chatbot{
			ID:              b.ID,
			Name:            b.Name,
			WelcomeMessage:  b.WelcomeMessage,
			FallbackMessage: b.FallbackMessage,
		}, nil
	default:
		return nil, fmt.Errorf("%w: ids %d and %d", automation.ErrMultipleActiveChatbots, bots[0].ID, bots[1].ID)
	}
}

func (r *RuleStore) AutoResponses(ctx context.Context, chatbotID uint) ([]automation.AutoResponse, error) {
	var rows []models.AutoResponse
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ? AND active = ?", chatbotID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]automation.AutoResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, automation.AutoResponse{
			ID:           row.ID,
			ChatbotID:    row.ChatbotID,
			TriggerType:  automation.TriggerType(row.TriggerType),
			TriggerValue: row.TriggerValue,
			ResponseText: row.ResponseText,
			ResponseType: row.ResponseType,
			Priority:     row.Priority,
			Active:       row.Active,
		})
	}
	return out, nil
}

func (r *RuleStore) Flows(ctx context.Context, chatbotID uint) ([]automation.Flow, error) {
	var rows []models.Flow
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ? AND active = ?", chatbotID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]automation.Flow, 0, len(rows))
	for _, row := range rows {
		out = append(out, flowToDomain(row))
	}
	return out, nil
}

// FlowGraph loads a flow and all of its steps. Inactive flows still load so
// sessions already inside them can finish.
func (r *RuleStore) FlowGraph(ctx context.Context, flowID uint) (*automation.FlowGraph, error) {
	var flow models.Flow
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order") }).
		First(&flow, flowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("flow %d: %w", flowID, automation.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	steps := make([]automation.Step, 0, len(flow.Steps))
	for _, row := range flow.Steps {
		body, err := automation.NewStepBody(row.Type, row.Content, row.Options, row.ActionPayload)
		if err != nil {
			return nil, fmt.Errorf("flow %d step %d: %w", flowID, row.ID, err)
		}
		steps = append(steps, automation.Step{
			ID:         row.ID,
			FlowID:     row.FlowID,
			Order:      row.Order,
			NextStepID: row.NextStepID,
			Body:       body,
		})
	}
	return automation.NewFlowGraph(flowToDomain(flow), steps), nil
}

func flowToDomain(row models.Flow) automation.Flow {
	return automation.Flow{
		ID:              row.ID,
		ChatbotID:       row.ChatbotID,
		Name:            row.Name,
		TriggerKeywords: []string(row.TriggerKeywords),
		Priority:        row.Priority,
		Active:          row.Active,
	}
}
