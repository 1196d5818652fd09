package store

import "time"

type EchoInsert struct {
	ID        string
	UserID    string
	DeliverAt time.Time
	Parts     []PartInsert
	Now       time.Time
}

type PartInsert struct {
	ID         string
	Type       string
	Content    string
	OrderIndex int
}

type EchoSummary struct {
	ID         string
	UserID     string
	DeliverAt  time.Time
	PartsCount int
	CreatedAt  time.Time
}

type DeviceUpsert struct {
	UserID      string
	DeviceToken string
	DeviceID    string
	DeviceType  string
	Now         time.Time
}

// AuditRecord is the best-effort notification log row written after every
// delivery execution.
type AuditRecord struct {
	EchoID           string
	UserID           string
	NotificationType string
	Status           string
	TokensTargeted   int
	TokensSuccessful int
	ErrorDetails     string
	SentAt           time.Time
}

const (
	AuditStatusSent   = "sent"
	AuditStatusFailed = "failed"
)
