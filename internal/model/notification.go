package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Channel is the delivery channel of a notification.
type Channel string

const ChannelEmail Channel = "email"

// NotificationStatus is a state of the notification queue machine.
type NotificationStatus string

const (
	StatusPending    NotificationStatus = "pending"
	StatusProcessing NotificationStatus = "processing"
	StatusSent       NotificationStatus = "sent"
	StatusFailed     NotificationStatus = "failed"
)

// AllStatuses lists the statuses in lifecycle order.
var AllStatuses = []NotificationStatus{StatusPending, StatusProcessing, StatusSent, StatusFailed}

var validTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSent, StatusFailed},
	StatusFailed:     {StatusPending},
	StatusSent:       {},
}

// ParseStatus converts a stored string to a NotificationStatus.
func ParseStatus(s string) (NotificationStatus, error) {
	st := NotificationStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("unknown notification status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from → to is an edge of the queue machine.
func CanTransition(from, to NotificationStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a record in this status will never move again
// given the retry budget.
func (r NotificationRecord) Terminal(maxRetries int) bool {
	switch r.Status {
	case StatusSent:
		return true
	case StatusFailed:
		return r.RetryCount >= maxRetries
	default:
		return false
	}
}

// Content is the rendered message of a notification.
type Content struct {
	Subject string
	Body    string // HTML
}

// NotificationRecord is one queued delivery.
type NotificationRecord struct {
	ID                  int64
	Channel             Channel
	Recipient           string
	Content             Content
	Status              NotificationStatus
	PostingID           *int64
	RetryCount          int
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	SentAt              *time.Time
	ProcessingStartedAt *time.Time
}

// ClaimParams bounds one claim of pending notifications.
type ClaimParams struct {
	Limit       int
	StaleBefore time.Time // processing_started_at must be older than this
	Now         time.Time
}

// NotificationStore is the durable queue behind the dispatcher.
type NotificationStore interface {
	Enqueue(ctx context.Context, records []NotificationRecord) error
	// ClaimPending atomically moves up to Limit claimable records to
	// processing, oldest first, and returns them.
	ClaimPending(ctx context.Context, p ClaimParams) ([]NotificationRecord, error)
	// MarkSent and MarkFailed only apply to records still in processing.
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error)
	// ResetFailed moves failed records with retry budget left back to pending.
	ResetFailed(ctx context.Context, maxRetries int, at time.Time) (int, error)
}
