package api

import (
	"errors"
	"net/http"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	db     *gorm.DB
	sender MessageSender
}

func NewDashboardHandler(db *gorm.DB, sender MessageSender) *DashboardHandler {
	return &DashboardHandler{db: db, sender: sender}
}

func (h *DashboardHandler) GetMessages(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Limit(limitQuery(c, 200, 1000))
	if waID := c.Query("wa_id"); waID != "" {
		query = query.Where("wa_id = ?", waID)
	}
	messages := []models.Message{}
	if err := query.Find(&messages).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type SendRequest struct {
	To      string `json:"to" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// SendMessage sends a manual reply from the dashboard
func (h *DashboardHandler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.sender == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": automation.ErrTransportNotReady.Error()})
		return
	}

	id, err := h.sender.SendMessage(c.Request.Context(), req.To, req.Content)
	if errors.Is(err, automation.ErrTransportNotReady) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Message sent", "id": id})
}
