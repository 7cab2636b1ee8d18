package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tiendabot/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.ChatSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

// Get returns nil without error when the session does not exist.
func (r *SessionRepository) Get(id string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) GetByPhoneAndChannel(phone, channel string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.Where("phone_number = ? AND channel = ?", phone, channel).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by phone failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) Delete(id string) (bool, error) {
	result := r.db.Where("id = ?", id).Delete(&model.ChatSession{})
	if result.Error != nil {
		return false, fmt.Errorf("delete session failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// List returns session summaries newest first, each with its last message
// preview (truncated to 50 chars) and message count.
func (r *SessionRepository) List() ([]model.SessionSummary, error) {
	var sessions []model.ChatSession
	if err := r.db.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}

	summaries := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		var last model.ChatMessage
		preview := ""
		err := r.db.Where("session_id = ?", s.ID).Order("id DESC").First(&last).Error
		if err == nil {
			preview = last.Content
			if len([]rune(preview)) > 50 {
				preview = string([]rune(preview)[:50])
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("last message lookup failed: %w", err)
		}

		var count int64
		if err := r.db.Model(&model.ChatMessage{}).Where("session_id = ?", s.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count messages failed: %w", err)
		}

		summaries = append(summaries, model.SessionSummary{
			ID:           s.ID,
			PhoneNumber:  s.PhoneNumber,
			Channel:      s.Channel,
			SenderName:   s.SenderName,
			Mode:         s.Mode,
			LastMessage:  preview,
			MessageCount: count,
		})
	}
	return summaries, nil
}

func (r *SessionRepository) UpdatePromptContext(id, promptContext string) error {
	if err := r.db.Model(&model.ChatSession{}).Where("id = ?", id).
		Update("prompt_context", promptContext).Error; err != nil {
		return fmt.Errorf("update prompt context failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) UpdateMode(id, mode, reason string, at *time.Time) error {
	updates := map[string]interface{}{
		"mode":           mode,
		"handoff_reason": reason,
		"handoff_at":     at,
	}
	if err := r.db.Model(&model.ChatSession{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update session mode failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) TouchActivity(id string, at time.Time) error {
	if err := r.db.Model(&model.ChatSession{}).Where("id = ?", id).
		Update("last_activity", at).Error; err != nil {
		return fmt.Errorf("touch session activity failed: %w", err)
	}
	return nil
}
