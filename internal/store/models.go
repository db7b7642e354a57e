package store

import "time"

// Cursor is the persisted change-log position. At most one cursor is
// current; Load returns the row with the newest UpdatedAt.
type Cursor struct {
	Token     string
	UpdatedAt time.Time
}

// Email is a materialized message row. ReceivedAt is nil when the Date
// header was missing or unparseable.
type Email struct {
	ID         string     `json:"id"`
	Sender     string     `json:"from"`
	Recipient  string     `json:"to"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body,omitempty"`
	ReceivedAt *time.Time `json:"date"`
}

// OutboxEvent describes the event row written alongside a new message.
type OutboxEvent struct {
	Subject   string
	EventType string
	Payload   []byte
	MsgID     string
}

// OutboxMessage is a pending outbox row handed to the dispatcher.
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}

// Order selects scan direction for ListMessages.
type Order int

const (
	// Desc orders newest first (nil receipt times last).
	Desc Order = iota
	// Asc orders oldest first (nil receipt times last).
	Asc
)
