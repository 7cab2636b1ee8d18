package model

import "time"

// TurnDebug is the persisted audit trail of one agent turn. Snapshot holds
// the full agent.Debug JSON; it must be complete enough to reconstruct why
// the model replied as it did.
type TurnDebug struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"size:16;not null;index" json:"session_id"`
	UserMessage string    `gorm:"type:text;not null" json:"user_message"`
	AgentReply  string    `gorm:"type:text;not null" json:"agent_reply"`
	Snapshot    string    `gorm:"type:mediumtext;not null" json:"snapshot"`
	CreatedAt   time.Time `json:"created_at"`
}
