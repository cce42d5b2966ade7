package webhook

import (
	"errors"
	"net/http"
	"time"

	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/models"
	"whatsapp-chatbot/internal/queue"
	payload "whatsapp-chatbot/pkg/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Submitter accepts inbound events for dispatch.
type Submitter interface {
	Submit(ev queue.Event) error
}

// MessageFeed is told about every stored inbound message.
type MessageFeed interface {
	NotifyMessage(msg models.Message)
}

type Handler struct {
	cfg    *config.Config
	db     *gorm.DB
	queue  Submitter
	feed   MessageFeed
	logger *zap.Logger
}

func NewHandler(cfg *config.Config, db *gorm.DB, q Submitter, feed MessageFeed, logger *zap.Logger) *Handler {
	return &Handler{cfg: cfg, db: db, queue: q, feed: feed, logger: logger.Named("webhook")}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && token == h.cfg.VerifyToken {
			h.logger.Info("webhook verified")
			c.String(http.StatusOK, challenge)
		} else {
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

// HandleMessage stores every inbound message and queues text for the
// automation engine. A full queue answers 503 so WhatsApp redelivers.
func (h *Handler) HandleMessage(c *gin.Context) {
	var body payload.WebhookPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warn("invalid webhook payload", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, ct := range change.Value.Contacts {
				names[ct.WaID] = ct.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				log := h.logger.With(zap.String("contact_id", msg.From), zap.String("provider_id", msg.ID))

				var seen int64
				if err := h.db.WithContext(ctx).Model(&models.Message{}).Where("provider_id = ?", msg.ID).Count(&seen).Error; err != nil {
					log.Error("failed to check message history", zap.Error(err))
					c.Status(http.StatusInternalServerError)
					return
				}
				if seen > 0 {
					log.Debug("duplicate delivery ignored")
					continue
				}

				h.saveContact(c, msg.From, names[msg.From])

				content, text, dispatch := describe(msg)
				if dispatch && h.queue != nil {
					err := h.queue.Submit(queue.Event{
						ID:         msg.ID,
						ContactID:  msg.From,
						Text:       text,
						ReceivedAt: time.Now(),
					})
					if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrClosed) {
						log.Warn("dispatch queue unavailable, asking for redelivery", zap.Error(err))
						c.Status(http.StatusServiceUnavailable)
						return
					}
					if err != nil {
						log.Error("failed to queue message", zap.Error(err))
					}
				}

				row := models.Message{
					WaID:       msg.From,
					ProviderID: msg.ID,
					Sender:     msg.From,
					Content:    content,
					Type:       msg.Type,
					Status:     "received",
				}
				if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
					log.Error("failed to store message", zap.Error(err))
				} else if h.feed != nil {
					h.feed.NotifyMessage(row)
				}
				log.Info("received message", zap.String("type", msg.Type))
			}
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) saveContact(c *gin.Context, waID, name string) {
	contact := models.Contact{WaID: waID, Name: name}
	if contact.Name == "" {
		contact.Name = waID
	}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "wa_id"}}, DoNothing: true}
	if name != "" {
		onConflict = clause.OnConflict{Columns: []clause.Column{{Name: "wa_id"}}, DoUpdates: clause.AssignmentColumns([]string{"name"})}
	}
	if err := h.db.WithContext(c.Request.Context()).Clauses(onConflict).Create(&contact).Error; err != nil {
		h.logger.Error("failed to save contact", zap.String("contact_id", waID), zap.Error(err))
	}
}

// describe returns the stored content for a message and, for text and
// interactive replies, the text handed to the automation engine.
func describe(msg payload.InboundMessage) (content, text string, dispatch bool) {
	switch msg.Type {
	case "text":
		return msg.Text.Body, msg.Text.Body, true
	case "interactive":
		if i := msg.Interactive; i != nil {
			if i.ButtonReply != nil {
				return i.ButtonReply.Title, i.ButtonReply.Title, true
			}
			if i.ListReply != nil {
				return i.ListReply.Title, i.ListReply.Title, true
			}
		}
		return "[interactive]", "", false
	case "image", "video", "audio", "document":
		m := media(msg)
		if m == nil {
			return "[" + msg.Type + "]", "", false
		}
		content = "[" + msg.Type + "]:" + m.ID
		if m.Caption != "" {
			content += ":" + m.Caption
		} else if m.Filename != "" {
			content += ":" + m.Filename
		}
		return content, "", false
	default:
		return "[" + msg.Type + "]", "", false
	}
}

func media(msg payload.InboundMessage) *payload.MediaMessage {
	switch msg.Type {
	case "image":
		return msg.Image
	case "video":
		return msg.Video
	case "audio":
		return msg.Audio
	default:
		return msg.Document
	}
}
