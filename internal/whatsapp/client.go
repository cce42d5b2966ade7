package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Client sends messages through the WhatsApp Cloud API and records every
// outbound message in the messages table.
type Client struct {
	cfg    *config.Config
	db     *gorm.DB
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		db:     db,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("whatsapp"),
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	Text             *TextObj `json:"text,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.WhatsAppToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}
	return respBody, nil
}

// --- Messaging Methods ---

// SendMessage sends a text message and returns the provider message id.
func (c *Client) SendMessage(ctx context.Context, to, body string) (string, error) {
	if !c.cfg.WhatsAppReady() {
		return "", fmt.Errorf("whatsapp credentials missing: %w", automation.ErrTransportNotReady)
	}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.cfg.GraphAPIURL, c.cfg.GraphAPIVersion, c.cfg.PhoneNumberID)
	respBody, err := c.sendRequest(ctx, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	var providerID string
	if len(parsed.Messages) > 0 {
		providerID = parsed.Messages[0].ID
	}

	row := models.Message{
		WaID:       to,
		ProviderID: providerID,
		Sender:     "bot",
		Content:    body,
		Type:       msg.Type,
		Status:     "sent",
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		// the message is out; a missing history row is not a send failure
		c.logger.Warn("failed to record outbound message", zap.String("to", to), zap.Error(err))
	}
	return providerID, nil
}
