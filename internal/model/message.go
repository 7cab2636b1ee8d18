package model

import "time"

// Message sources. Empty means legacy rows written before the field existed.
const (
	SourceBot    = "bot"
	SourceHuman  = "human"
	SourceSystem = "system"
)

// ChatMessage is append-only; rows are never mutated after creation and
// ordering is insertion order.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:16;not null;index" json:"session_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Source    string    `gorm:"size:16;not null;default:''" json:"source"`
	CreatedAt time.Time `json:"timestamp"`
}
