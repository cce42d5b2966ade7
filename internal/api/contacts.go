package api

import (
	"encoding/csv"
	"net/http"
	"time"

	"whatsapp-chatbot/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactHandler struct {
	db *gorm.DB
}

func NewContactHandler(db *gorm.DB) *ContactHandler {
	return &ContactHandler{db: db}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	contacts := []models.Contact{}
	if err := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Find(&contacts).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

type UpdateContactRequest struct {
	Name string `json:"name"`
	Tags string `json:"tags"` // comma separated
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	waID := c.Param("waId")
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Contact{}).
		Where("wa_id = ?", waID).
		Updates(map[string]interface{}{"name": req.Name, "tags": req.Tags})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update contact"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Contact updated"})
}

// CreateContactRequest for adding new contacts
type CreateContactRequest struct {
	WaID string `json:"wa_id" binding:"required"`
	Name string `json:"name"`
	Tags string `json:"tags"`
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact := models.Contact{WaID: req.WaID, Name: req.Name, Tags: req.Tags}
	err := h.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wa_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tags", "updated_at"}),
	}).Create(&contact).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contact"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "Contact created", "wa_id": req.WaID})
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	waID := c.Param("waId")

	res := h.db.WithContext(c.Request.Context()).Where("wa_id = ?", waID).Delete(&models.Contact{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contact"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Contact deleted"})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	var contacts []models.Contact
	if err := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Find(&contacts).Error; err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"WhatsApp ID", "Name", "Tags", "Created At"})
	for _, ct := range contacts {
		_ = w.Write([]string{ct.WaID, ct.Name, ct.Tags, ct.CreatedAt.Format(time.RFC3339)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = c.Error(err)
	}
}
