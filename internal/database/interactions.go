package database

import (
	"context"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"gorm.io/gorm"
)

type InteractionStore struct {
	db *gorm.DB
}

func NewInteractionStore(db *gorm.DB) *InteractionStore {
	return &InteractionStore{db: db}
}

func (s *InteractionStore) LogInteraction(ctx context.Context, i automation.Interaction) error {
	row := models.InteractionLog{
		ContactID:    i.ContactID,
		ChatbotID:    i.ChatbotID,
		SessionID:    i.SessionID,
		FlowID:       i.FlowID,
		ActionTaken:  string(i.Kind),
		InputText:    i.Input,
		ResponseText: i.Response,
		Success:      i.Success,
		ErrorMessage: i.Error,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
