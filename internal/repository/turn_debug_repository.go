package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tiendabot/internal/model"
)

type TurnDebugRepository struct {
	db *gorm.DB
}

func NewTurnDebugRepository(db *gorm.DB) *TurnDebugRepository {
	return &TurnDebugRepository{db: db}
}

func (r *TurnDebugRepository) Create(record *model.TurnDebug) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create turn debug failed: %w", err)
	}
	return nil
}

// LatestBySessionID returns the newest snapshot for a session, nil when none
// has been recorded yet.
func (r *TurnDebugRepository) LatestBySessionID(sessionID string) (*model.TurnDebug, error) {
	var record model.TurnDebug
	if err := r.db.Where("session_id = ?", sessionID).Order("id DESC").First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest turn debug failed: %w", err)
	}
	return &record, nil
}
