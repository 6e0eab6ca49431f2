package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

type Type string

const (
	TypeWelcome             Type = "welcome"
	TypeBorrowConfirmation  Type = "borrow_confirmation"
	TypeReturnConfirmation  Type = "return_confirmation"
	TypeRenewalConfirmation Type = "renewal_confirmation"
	TypePreDueReminder      Type = "pre_due_reminder"
	TypeOverdueNotice       Type = "overdue_notice"
	TypeLostNotice          Type = "lost_notice"
	TypeCreditScoreUpdate   Type = "credit_score_update"
	TypeCreditWarning       Type = "credit_warning"
	TypeAccountSuspended    Type = "account_suspended"
	TypeLowInventory        Type = "low_inventory"
	TypeNewsletter          Type = "newsletter"
)

// Priority orders due items; higher is dispatched first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = [...]string{"low", "normal", "high", "urgent"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityUrgent {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

func ParsePriority(s string) (Priority, error) {
	for i, n := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Outcome records how a processed item left the queue.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
)

// Item is one queued notification.
type Item struct {
	ID           string           `db:"id" json:"id"`
	UserID       int64            `db:"user_id" json:"user_id"`
	Type         Type             `db:"notification_type" json:"notification_type"`
	ScheduledFor time.Time        `db:"scheduled_for" json:"scheduled_for"`
	Priority     Priority         `db:"priority" json:"priority"`
	Payload      database.JSONMap `db:"payload" json:"payload"`
	Attempts     int              `db:"attempts" json:"attempts"`
	MaxAttempts  int              `db:"max_attempts" json:"max_attempts"`
	IsProcessed  bool             `db:"is_processed" json:"is_processed"`
	ProcessedAt  *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	ErrorMessage string           `db:"error_message" json:"error_message,omitempty"`
	Outcome      Outcome          `db:"outcome" json:"outcome,omitempty"`
	// LeasedUntil marks an item claimed by a dispatcher run.
	LeasedUntil *time.Time `db:"leased_until" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// QueueStats summarizes the queue for the admin view.
type QueueStats struct {
	Pending    int `db:"pending" json:"pending"`
	Due        int `db:"due" json:"due"`
	Sent       int `db:"sent" json:"sent"`
	Failed     int `db:"failed" json:"failed"`
	Suppressed int `db:"suppressed" json:"suppressed"`
}
