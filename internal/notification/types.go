package notification

import (
	"time"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is an outgoing email.
type Message struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`

	// Kind labels the message for logs, e.g. "password_reset".
	Kind string `json:"kind,omitempty"`

	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// Stats counts delivery outcomes since the service started.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Retried int64 `json:"retried"`
	Dropped int64 `json:"dropped"`
}
