package api

import (
	"errors"
	"fmt"
	"net/http"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errInvalidReference = errors.New("next_step_id must reference a step of the same flow")

type FlowHandler struct {
	db    *gorm.DB
	cache RuleCache
}

func NewFlowHandler(db *gorm.DB, cache RuleCache) *FlowHandler {
	return &FlowHandler{db: db, cache: cache}
}

func (h *FlowHandler) invalidate() {
	if h.cache != nil {
		h.cache.Invalidate()
	}
}

func (h *FlowHandler) GetFlows(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("priority DESC, id ASC")
	if botID := c.Query("chatbot_id"); botID != "" {
		query = query.Where("chatbot_id = ?", botID)
	}
	var flows []models.Flow
	if err := query.Find(&flows).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flows)
}

// GetFlow returns a flow with its steps in order
func (h *FlowHandler) GetFlow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var flow models.Flow
	err := h.db.WithContext(c.Request.Context()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order") }).
		First(&flow, id).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (h *FlowHandler) CreateFlow(c *gin.Context) {
	var req struct {
		ChatbotID       uint     `json:"chatbot_id" binding:"required"`
		Name            string   `json:"name" binding:"required"`
		Description     string   `json:"description"`
		TriggerKeywords []string `json:"trigger_keywords" binding:"required,min=1"`
		Priority        int      `json:"priority"`
		Active          *bool    `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flow := models.Flow{
		ChatbotID:       req.ChatbotID,
		Name:            req.Name,
		Description:     req.Description,
		TriggerKeywords: datatypes.JSONSlice[string](req.TriggerKeywords),
		Priority:        req.Priority,
		Active:          req.Active == nil || *req.Active,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&flow).Error; err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusCreated, flow)
}

func (h *FlowHandler) UpdateFlow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Name            *string  `json:"name"`
		Description     *string  `json:"description"`
		TriggerKeywords []string `json:"trigger_keywords"`
		Priority        *int     `json:"priority"`
		Active          *bool    `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updateData := map[string]interface{}{}
	if req.Name != nil {
		updateData["name"] = *req.Name
	}
	if req.Description != nil {
		updateData["description"] = *req.Description
	}
	if req.TriggerKeywords != nil {
		updateData["trigger_keywords"] = datatypes.JSONSlice[string](req.TriggerKeywords)
	}
	if req.Priority != nil {
		updateData["priority"] = *req.Priority
	}
	if req.Active != nil {
		updateData["active"] = *req.Active
	}
	if len(updateData) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Flow{}).Where("id = ?", id).Updates(updateData)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Flow updated successfully"})
}

// DeleteFlow removes the flow and its steps. Sessions inside it complete on
// their next message.
func (h *FlowHandler) DeleteFlow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flow_id = ?", id).Delete(&models.Step{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Flow{}, id)
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
	c.JSON(http.StatusOK, gin.H{"message": "Flow deleted successfully"})
}

type stepRequest struct {
	Order         *int                   `json:"order"`
	Type          *string                `json:"type" binding:"omitempty,oneof=message question action"`
	Content       *string                `json:"content"`
	Options       []string               `json:"options"`
	NextStepID    *uint                  `json:"next_step_id"`
	ClearNext     bool                   `json:"clear_next"`
	ActionPayload map[string]interface{} `json:"action_payload"`
}

// CreateStep appends a step to a flow
func (h *FlowHandler) CreateStep(c *gin.Context) {
	flowID, ok := idParam(c)
	if !ok {
		return
	}
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Order == nil || req.Type == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order and type are required"})
		return
	}

	step := models.Step{
		FlowID:        flowID,
		Order:         *req.Order,
		Type:          *req.Type,
		Options:       datatypes.JSONSlice[string](req.Options),
		NextStepID:    req.NextStepID,
		ActionPayload: datatypes.JSONMap(req.ActionPayload),
	}
	if req.Content != nil {
		step.Content = *req.Content
	}
	if _, err := automation.NewStepBody(step.Type, step.Content, step.Options, step.ActionPayload); err != nil {
		respondError(c, err)
		return
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var flow models.Flow
		if err := tx.First(&flow, flowID).Error; err != nil {
			return err
		}
		if err := checkNextStep(tx, flowID, step.NextStepID); err != nil {
			return err
		}
		return tx.Create(&step).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusCreated, step)
}

func (h *FlowHandler) UpdateStep(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var step models.Step
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&step, id).Error; err != nil {
			return err
		}
		if req.Order != nil {
			step.Order = *req.Order
		}
		if req.Type != nil {
			step.Type = *req.Type
		}
		if req.Content != nil {
			step.Content = *req.Content
		}
		if req.Options != nil {
			step.Options = datatypes.JSONSlice[string](req.Options)
		}
		if req.ActionPayload != nil {
			step.ActionPayload = datatypes.JSONMap(req.ActionPayload)
		}
		switch {
		case req.ClearNext:
			step.NextStepID = nil
		case req.NextStepID != nil:
			if *req.NextStepID == step.ID {
				return fmt.Errorf("step %d: %w", step.ID, errInvalidReference)
			}
			step.NextStepID = req.NextStepID
		}
		if _, err := automation.NewStepBody(step.Type, step.Content, step.Options, step.ActionPayload); err != nil {
			return err
		}
		if err := checkNextStep(tx, step.FlowID, step.NextStepID); err != nil {
			return err
		}
		return tx.Save(&step).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, step)
}

// DeleteStep removes a step and unlinks every step pointing at it
func (h *FlowHandler) DeleteStep(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Step{}).Where("next_step_id = ?", id).Update("next_step_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Step{}, id)
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
	c.JSON(http.StatusOK, gin.H{"message": "Step deleted successfully"})
}

func checkNextStep(tx *gorm.DB, flowID uint, next *uint) error {
	if next == nil {
		return nil
	}
	var count int64
	if err := tx.Model(&models.Step{}).Where("id = ? AND flow_id = ?", *next, flowID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("step %d: %w", *next, errInvalidReference)
	}
	return nil
}
