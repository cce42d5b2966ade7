package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Bundle is the import file format: one chatbot with its rules and flows.
// Steps reference their successor by a key local to the flow.
type Bundle struct {
	Chatbot struct {
		Name            string `json:"name"`
		WelcomeMessage  string `json:"welcome_message"`
		FallbackMessage string `json:"fallback_message"`
		Active          bool   `json:"active"`
	} `json:"chatbot"`
	AutoResponses []struct {
		TriggerType  string `json:"trigger_type"`
		TriggerValue string `json:"trigger_value"`
		ResponseText string `json:"response_text"`
		Priority     int    `json:"priority"`
	} `json:"auto_responses"`
	Flows []BundleFlow `json:"flows"`
}

type BundleFlow struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	TriggerKeywords []string     `json:"trigger_keywords"`
	Priority        int          `json:"priority"`
	Steps           []BundleStep `json:"steps"`
}

type BundleStep struct {
	Key           string                 `json:"key"`
	Type          string                 `json:"type"`
	Content       string                 `json:"content"`
	Options       []string               `json:"options"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Next          string                 `json:"next"`
}

func DecodeBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks step types and that every "next" names a step of the same flow.
func (b *Bundle) Validate() error {
	if b.Chatbot.Name == "" {
		return fmt.Errorf("bundle: chatbot name is required")
	}
	for _, f := range b.Flows {
		keys := make(map[string]bool, len(f.Steps))
		for _, s := range f.Steps {
			if s.Key == "" {
				return fmt.Errorf("flow %q: step without key", f.Name)
			}
			if keys[s.Key] {
				return fmt.Errorf("flow %q: duplicate step key %q", f.Name, s.Key)
			}
			keys[s.Key] = true
			if _, err := automation.NewStepBody(s.Type, s.Content, s.Options, s.ActionPayload); err != nil {
				return fmt.Errorf("flow %q step %q: %w", f.Name, s.Key, err)
			}
		}
		for _, s := range f.Steps {
			if s.Next != "" && !keys[s.Next] {
				return fmt.Errorf("flow %q step %q: unknown next %q", f.Name, s.Key, s.Next)
			}
		}
	}
	return nil
}

// ImportBundle writes the bundle in one transaction and returns the new
// chatbot id. Activating the imported chatbot deactivates every other one.
func ImportBundle(ctx context.Context, db *gorm.DB, b *Bundle) (uint, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	var botID uint
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if b.Chatbot.Active {
			if err := tx.Model(&models.Chatbot{}).Where("active = ?", true).Update("active", false).Error; err != nil {
				return err
			}
		}
		bot := models.Chatbot{
			Name:            b.Chatbot.Name,
			WelcomeMessage:  b.Chatbot.WelcomeMessage,
			FallbackMessage: b.Chatbot.FallbackMessage,
			Active:          b.Chatbot.Active,
		}
		if err := tx.Create(&bot).Error; err != nil {
			return err
		}
		botID = bot.ID

		for _, r := range b.AutoResponses {
			row := models.AutoResponse{
				ChatbotID:    bot.ID,
				TriggerType:  r.TriggerType,
				TriggerValue: r.TriggerValue,
				ResponseText: r.ResponseText,
				ResponseType: "text",
				Priority:     r.Priority,
				Active:       true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, f := range b.Flows {
			if err := importFlow(tx, bot.ID, f); err != nil {
				return fmt.Errorf("flow %q: %w", f.Name, err)
			}
		}
		return nil
	})
	return botID, err
}

func importFlow(tx *gorm.DB, botID uint, f BundleFlow) error {
	flow := models.Flow{
		ChatbotID:       botID,
		Name:            f.Name,
		Description:     f.Description,
		TriggerKeywords: datatypes.JSONSlice[string](f.TriggerKeywords),
		Priority:        f.Priority,
		Active:          true,
	}
	if err := tx.Create(&flow).Error; err != nil {
		return err
	}

	ids := make(map[string]uint, len(f.Steps))
	for i, s := range f.Steps {
		step := models.Step{
			FlowID:        flow.ID,
			Order:         i + 1,
			Type:          s.Type,
			Content:       s.Content,
			Options:       datatypes.JSONSlice[string](s.Options),
			ActionPayload: datatypes.JSONMap(s.ActionPayload),
		}
		if err := tx.Create(&step).Error; err != nil {
			return err
		}
		ids[s.Key] = step.ID
	}

	// Second pass: successors are known only once every step has an id.
	for _, s := range f.Steps {
		if s.Next == "" {
			continue
		}
		if err := tx.Model(&models.Step{}).Where("id = ?", ids[s.Key]).Update("next_step_id", ids[s.Next]).Error; err != nil {
			return err
		}
	}
	return nil
}
