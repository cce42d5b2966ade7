package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStore persists conversation sessions with a version check on every
// write.
type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) ActiveSession(ctx context.Context, contactID string, chatbotID uint) (*automation.Session, error) {
	var row models.ConversationSession
	err := s.db.WithContext(ctx).
		Where("contact_id = ? AND chatbot_id = ? AND status = ?", contactID, chatbotID, models.SessionActive).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, automation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sessionToDomain(row), nil
}

// CreateSession inserts a fresh active session. A concurrent insert for the
// same pair hits the partial unique index and reports ErrConcurrentModification.
func (s *SessionStore) CreateSession(ctx context.Context, contactID string, chatbotID uint) (*automation.Session, error) {
	now := s.now()
	row := models.ConversationSession{
		ContactID: contactID,
		ChatbotID: chatbotID,
		Data:      datatypes.JSONMap{},
		Status:    models.SessionActive,
		Version:   1,
		StartedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("session for %s: %w", contactID, automation.ErrConcurrentModification)
	}
	if err != nil {
		return nil, err
	}
	return sessionToDomain(row), nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, sess *automation.Session) error {
	return s.write(ctx, sess)
}

func (s *SessionStore) CompleteSession(ctx context.Context, sess *automation.Session) error {
	sess.Status = automation.SessionCompleted
	sess.CurrentStepID = nil
	if sess.CompletedAt == nil {
		t := s.now()
		sess.CompletedAt = &t
	}
	return s.write(ctx, sess)
}

func (s *SessionStore) write(ctx context.Context, sess *automation.Session) error {
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	res := s.db.WithContext(ctx).
		Model(&models.ConversationSession{}).
		Where("id = ? AND version = ?", sess.ID, sess.Version).
		Updates(map[string]interface{}{
			"flow_id":         sess.FlowID,
			"current_step_id": sess.CurrentStepID,
			"data":            datatypes.JSONMap(sess.Data),
			"status":          string(sess.Status),
			"version":         sess.Version + 1,
			"updated_at":      updatedAt,
			"completed_at":    sess.CompletedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %d version %d: %w", sess.ID, sess.Version, automation.ErrConcurrentModification)
	}
	sess.Version++
	sess.UpdatedAt = updatedAt
	return nil
}

// TerminateSession ends an active session from the admin side.
func (s *SessionStore) TerminateSession(ctx context.Context, id uint) error {
	now := s.now()
	res := s.db.WithContext(ctx).
		Model(&models.ConversationSession{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Updates(map[string]interface{}{
			"status":          models.SessionTerminated,
			"current_step_id": nil,
			"completed_at":    now,
			"updated_at":      now,
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("active session %d: %w", id, automation.ErrNotFound)
	}
	return nil
}

// ExpireIdleSessions marks active sessions untouched since before as expired.
func (s *SessionStore) ExpireIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).
		Model(&models.ConversationSession{}).
		Where("status = ? AND updated_at < ?", models.SessionActive, before).
		Updates(map[string]interface{}{
			"status":       models.SessionExpired,
			"completed_at": now,
			"updated_at":   now,
			"version":      gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

func sessionToDomain(row models.ConversationSession) *automation.Session {
	data := make(map[string]interface{}, len(row.Data))
	for k, v := range row.Data {
		data[k] = v
	}
	return &automation.Session{
		ID:            row.ID,
		ContactID:     row.ContactID,
		ChatbotID:     row.ChatbotID,
		FlowID:        row.FlowID,
		CurrentStepID: row.CurrentStepID,
		Data:          data,
		Status:        automation.SessionStatus(row.Status),
		Version:       row.Version,
		StartedAt:     row.StartedAt,
		UpdatedAt:     row.UpdatedAt,
		CompletedAt:   row.CompletedAt,
	}
}
