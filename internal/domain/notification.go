package domain

import (
	"time"
)

// QueueStatus is the lifecycle state of a queued notification.
// Transitions: pending → in_flight → {sent | failed | dead_lettered};
// failed → pending via the retry sweep while retries remain.
type QueueStatus string

const (
	StatusPending      QueueStatus = "pending"
	StatusInFlight     QueueStatus = "in_flight"
	StatusSent         QueueStatus = "sent"
	StatusFailed       QueueStatus = "failed"
	StatusDeadLettered QueueStatus = "dead_lettered"
)

// Notification categories accepted on enqueue.
const (
	TypeReminder = "reminder"
	TypeSRS      = "srs"
	TypeSummary  = "summary"
	TypeSystem   = "system"
)

// ValidNotificationType reports whether t is one of the known categories.
func ValidNotificationType(t string) bool {
	switch t {
	case TypeReminder, TypeSRS, TypeSummary, TypeSystem:
		return true
	}
	return false
}

// NotificationQueueItem is one pending push notification for one recipient.
type NotificationQueueItem struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	NotificationType string            `json:"notification_type"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	Data             map[string]string `json:"data,omitempty"`
	Priority         int               `json:"priority"`
	Status           QueueStatus       `json:"status"`
	RetryCount       int               `json:"retry_count"`
	MaxRetries       int               `json:"max_retries"`
	NextRetryAt      *time.Time        `json:"next_retry_at,omitempty"`
	LastError        *string           `json:"last_error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DeliveryRecord is one row of the append-only send-attempt log.
// A record is never mutated after insert; the queue item's status is the
// only mutable summary of delivery state.
type DeliveryRecord struct {
	ID               string            `json:"id"`
	QueueItemID      string            `json:"queue_item_id"`
	UserID           string            `json:"user_id"`
	NotificationType string            `json:"notification_type"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	DeviceToken      string            `json:"device_token"`
	Attempt          int               `json:"attempt"`
	Outcome          string            `json:"outcome"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SentAt           time.Time         `json:"sent_at"`
}

// Delivery record outcomes.
const (
	RecordOutcomeOK    = "ok"
	RecordOutcomeError = "error"
)

// DeviceToken is one registered push target for a user.
type DeviceToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnqueueRequest is the producer-side contract: any upstream feature
// inserts a pending item through this shape.
type EnqueueRequest struct {
	UserID           string            `json:"user_id"`
	NotificationType string            `json:"notification_type"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	Data             map[string]string `json:"data,omitempty"`
	Priority         *int              `json:"priority,omitempty"`
	MaxRetries       *int              `json:"max_retries,omitempty"`
}

// RegisterDeviceRequest registers or refreshes a device token.
type RegisterDeviceRequest struct {
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}
