package model

import "time"

// Session modes. Transitions are driven by the agent ([HANDOFF] marker) or by
// explicit operator actions, never reverted silently.
const (
	ModeBot            = "bot"
	ModeHandoffPending = "handoff_pending"
	ModeHuman          = "human"
)

// Channel identifiers stored on a session.
const (
	ChannelSimulator = "simulator"
	ChannelWhatsApp  = "whatsapp"
)

// ChatSession is one conversation with a customer. Non-simulated traffic has
// one session per (phone_number, channel) pair.
type ChatSession struct {
	ID            string     `gorm:"primaryKey;size:16" json:"id"`
	PhoneNumber   string     `gorm:"size:32;not null;index:idx_phone_channel" json:"phone_number"`
	Channel       string     `gorm:"size:16;not null;default:simulator;index:idx_phone_channel" json:"channel"`
	SenderName    string     `gorm:"size:128;not null;default:''" json:"sender_name"`
	PromptContext string     `gorm:"type:text" json:"prompt_context"`
	Mode          string     `gorm:"size:24;not null;default:bot" json:"mode"`
	HandoffReason string     `gorm:"size:256" json:"handoff_reason,omitempty"`
	HandoffAt     *time.Time `json:"handoff_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActivity  time.Time  `json:"last_activity"`
}

// SessionSummary is the list view: session fields plus transcript stats.
type SessionSummary struct {
	ID           string `json:"id"`
	PhoneNumber  string `json:"phone_number"`
	Channel      string `json:"channel"`
	SenderName   string `json:"sender_name"`
	Mode         string `json:"mode"`
	LastMessage  string `json:"last_message"`
	MessageCount int64  `json:"message_count"`
}
