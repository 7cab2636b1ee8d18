// Package channel abstracts the delivery transports a conversation can run
// over. The built-in simulator channel is virtual (operators chat through the
// admin API); WhatsApp goes through an Evolution API gateway.
package channel

import (
	"context"
	"fmt"
	"time"
)

type Type string

const (
	TypeSimulator Type = "simulator"
	TypeWhatsApp  Type = "whatsapp"
)

var ErrUnknownChannel = fmt.Errorf("unknown channel")

// Incoming is one normalized inbound message regardless of transport.
type Incoming struct {
	Channel     Type      `json:"channel"`
	PhoneNumber string    `json:"phone_number"`
	SenderName  string    `json:"sender_name"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"message_id"`
}

type Outgoing struct {
	PhoneNumber string `json:"phone_number"`
	Text        string `json:"text"`
}

type Status struct {
	Channel   Type   `json:"channel"`
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// Channel is one outbound transport. ParseInbound turns a raw webhook body
// into zero or more normalized messages; non-message events yield none.
type Channel interface {
	Type() Type
	Send(ctx context.Context, out Outgoing) error
	Status(ctx context.Context) Status
	Connect(ctx context.Context) (map[string]any, error)
	Disconnect(ctx context.Context) error
	ParseInbound(body []byte) ([]Incoming, error)
}
