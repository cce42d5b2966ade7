package api

import (
	"net/http"

	"whatsapp-chatbot/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AutomationHandler struct {
	db    *gorm.DB
	cache RuleCache
}

func NewAutomationHandler(db *gorm.DB, cache RuleCache) *AutomationHandler {
	return &AutomationHandler{db: db, cache: cache}
}

func (h *AutomationHandler) invalidate() {
	if h.cache != nil {
		h.cache.Invalidate()
	}
}

// --- Chatbots ---

func (h *AutomationHandler) GetChatbots(c *gin.Context) {
	var bots []models.Chatbot
	if err := h.db.WithContext(c.Request.Context()).Order("id").Find(&bots).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bots)
}

func (h *AutomationHandler) GetChatbot(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var bot models.Chatbot
	if err := h.db.WithContext(c.Request.Context()).First(&bot, id).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

// CreateChatbot creates a chatbot. Creating it active deactivates the others.
func (h *AutomationHandler) CreateChatbot(c *gin.Context) {
	var req struct {
		Name            string `json:"name" binding:"required"`
		WelcomeMessage  string `json:"welcome_message"`
		FallbackMessage string `json:"fallback_message"`
		Active          bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bot := models.Chatbot{
		Name:            req.Name,
		WelcomeMessage:  req.WelcomeMessage,
		FallbackMessage: req.FallbackMessage,
		Active:          req.Active,
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if bot.Active {
			if err := tx.Model(&models.Chatbot{}).Where("active = ?", true).Update("active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&bot).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusCreated, bot)
}

func (h *AutomationHandler) UpdateChatbot(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Name            *string `json:"name"`
		WelcomeMessage  *string `json:"welcome_message"`
		FallbackMessage *string `json:"fallback_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updateData := map[string]interface{}{}
	if req.Name != nil {
		updateData["name"] = *req.Name
	}
	if req.WelcomeMessage != nil {
		updateData["welcome_message"] = *req.WelcomeMessage
	}
	if req.FallbackMessage != nil {
		updateData["fallback_message"] = *req.FallbackMessage
	}
	if len(updateData) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Chatbot{}).Where("id = ?", id).Updates(updateData)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Chatbot updated successfully"})
}

// DeleteChatbot removes a chatbot with its rules and flows.
func (h *AutomationHandler) DeleteChatbot(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Chatbot{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("chatbot_id = ?", id).Delete(&models.AutoResponse{}).Error; err != nil {
			return err
		}
		var flowIDs []uint
		if err := tx.Model(&models.Flow{}).Where("chatbot_id = ?", id).Pluck("id", &flowIDs).Error; err != nil {
			return err
		}
		if len(flowIDs) > 0 {
			if err := tx.Where("flow_id IN ?", flowIDs).Delete(&models.Step{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Flow{}, flowIDs).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Chatbot deleted successfully"})
}

// ActivateChatbot makes id the only active chatbot.
func (h *AutomationHandler) ActivateChatbot(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Chatbot{}).Where("id <> ? AND active = ?", id, true).Update("active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Chatbot{}).Where("id = ?", id).Update("active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Chatbot activated"})
}

func (h *AutomationHandler) DeactivateChatbot(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.Chatbot{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Chatbot deactivated"})
}

// --- Auto responses ---

// GetRules returns auto responses, optionally for one chatbot
func (h *AutomationHandler) GetRules(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("priority DESC, id ASC")
	if botID := c.Query("chatbot_id"); botID != "" {
		query = query.Where("chatbot_id = ?", botID)
	}
	var rules []models.AutoResponse
	if err := query.Find(&rules).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req struct {
		ChatbotID    uint   `json:"chatbot_id" binding:"required"`
		TriggerType  string `json:"trigger_type" binding:"required,oneof=keyword greeting"`
		TriggerValue string `json:"trigger_value" binding:"required"`
		ResponseText string `json:"response_text" binding:"required"`
		ResponseType string `json:"response_type"`
		Priority     int    `json:"priority"`
		Active       *bool  `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := models.AutoResponse{
		ChatbotID:    req.ChatbotID,
		TriggerType:  req.TriggerType,
		TriggerValue: req.TriggerValue,
		ResponseText: req.ResponseText,
		ResponseType: req.ResponseType,
		Priority:     req.Priority,
		Active:       req.Active == nil || *req.Active,
	}
	if rule.ResponseType == "" {
		rule.ResponseType = "text"
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&rule).Error; err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusCreated, gin.H{"id": rule.ID, "message": "Rule created successfully"})
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		TriggerType  *string `json:"trigger_type" binding:"omitempty,oneof=keyword greeting"`
		TriggerValue *string `json:"trigger_value"`
		ResponseText *string `json:"response_text"`
		Priority     *int    `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updateData := map[string]interface{}{}
	if req.TriggerType != nil {
		updateData["trigger_type"] = *req.TriggerType
	}
	if req.TriggerValue != nil {
		updateData["trigger_value"] = *req.TriggerValue
	}
	if req.ResponseText != nil {
		updateData["response_text"] = *req.ResponseText
	}
	if req.Priority != nil {
		updateData["priority"] = *req.Priority
	}
	if len(updateData) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.AutoResponse{}).Where("id = ?", id).Updates(updateData)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully"})
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.AutoResponse{}, id)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// ToggleRule enables or disables a rule
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.AutoResponse{}).Where("id = ?", id).Update("active", req.Active)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Rule toggled successfully"})
}

// --- Reporting ---

// GetInteractions returns the latest interaction log rows
func (h *AutomationHandler) GetInteractions(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("id DESC").Limit(limitQuery(c, 50, 500))
	if contactID := c.Query("contact_id"); contactID != "" {
		query = query.Where("contact_id = ?", contactID)
	}
	var logs []models.InteractionLog
	if err := query.Find(&logs).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetAnalytics returns automation analytics
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	type actionCount struct {
		ActionTaken string `json:"action_taken"`
		Count       int64  `json:"count"`
	}
	var stats struct {
		TotalRules        int64         `json:"total_rules"`
		ActiveRules       int64         `json:"active_rules"`
		TotalFlows        int64         `json:"total_flows"`
		ActiveSessions    int64         `json:"active_sessions"`
		CompletedSessions int64         `json:"completed_sessions"`
		TotalInteractions int64         `json:"total_interactions"`
		Successful        int64         `json:"successful_interactions"`
		Failed            int64         `json:"failed_interactions"`
		ByAction          []actionCount `json:"by_action"`
	}

	db := h.db.WithContext(c.Request.Context())
	db.Model(&models.AutoResponse{}).Count(&stats.TotalRules)
	db.Model(&models.AutoResponse{}).Where("active = ?", true).Count(&stats.ActiveRules)
	db.Model(&models.Flow{}).Count(&stats.TotalFlows)
	db.Model(&models.ConversationSession{}).Where("status = ?", models.SessionActive).Count(&stats.ActiveSessions)
	db.Model(&models.ConversationSession{}).Where("status = ?", models.SessionCompleted).Count(&stats.CompletedSessions)
	db.Model(&models.InteractionLog{}).Count(&stats.TotalInteractions)
	db.Model(&models.InteractionLog{}).Where("success = ?", true).Count(&stats.Successful)
	db.Model(&models.InteractionLog{}).Where("success = ?", false).Count(&stats.Failed)
	if err := db.Model(&models.InteractionLog{}).
		Select("action_taken, count(*) as count").
		Group("action_taken").
		Order("action_taken").
		Scan(&stats.ByAction).Error; err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
