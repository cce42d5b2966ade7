package api

import (
	"net/http"

	"whatsapp-chatbot/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SessionHandler struct {
	db       *gorm.DB
	sessions SessionTerminator
}

func NewSessionHandler(db *gorm.DB, sessions SessionTerminator) *SessionHandler {
	return &SessionHandler{db: db, sessions: sessions}
}

type sessionView struct {
	models.ConversationSession
	ContactName string `json:"contact_name"`
	FlowName    string `json:"flow_name"`
}

func (h *SessionHandler) views(c *gin.Context) *gorm.DB {
	return h.db.WithContext(c.Request.Context()).
		Table("conversation_sessions AS s").
		Select("s.*, COALESCE(contacts.name, '') AS contact_name, COALESCE(flows.name, '') AS flow_name").
		Joins("LEFT JOIN contacts ON contacts.wa_id = s.contact_id").
		Joins("LEFT JOIN flows ON flows.id = s.flow_id")
}

// GetSessions lists sessions by status, active by default. status=all lists
// every session.
func (h *SessionHandler) GetSessions(c *gin.Context) {
	query := h.views(c).Order("s.updated_at DESC").Limit(limitQuery(c, 100, 1000))
	if status := c.DefaultQuery("status", models.SessionActive); status != "all" {
		query = query.Where("s.status = ?", status)
	}
	if contactID := c.Query("contact_id"); contactID != "" {
		query = query.Where("s.contact_id = ?", contactID)
	}
	sessions := []sessionView{}
	if err := query.Scan(&sessions).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var sessions []sessionView
	if err := h.views(c).Where("s.id = ?", id).Limit(1).Scan(&sessions).Error; err != nil {
		respondError(c, err)
		return
	}
	if len(sessions) == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	c.JSON(http.StatusOK, sessions[0])
}

// GetSessionMessages returns the contact's messages since the session began
func (h *SessionHandler) GetSessionMessages(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var session models.ConversationSession
	if err := h.db.WithContext(ctx).First(&session, id).Error; err != nil {
		respondError(c, err)
		return
	}

	query := h.db.WithContext(ctx).
		Where("wa_id = ? AND created_at >= ?", session.ContactID, session.StartedAt).
		Order("created_at ASC")
	if session.CompletedAt != nil {
		query = query.Where("created_at <= ?", *session.CompletedAt)
	}
	messages := []models.Message{}
	if err := query.Find(&messages).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// TerminateSession ends an active session from the dashboard. The contact's
// next message starts over.
func (h *SessionHandler) TerminateSession(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.sessions.TerminateSession(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session terminated"})
}
