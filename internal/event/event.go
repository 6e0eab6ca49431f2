// Package event carries domain events between the ledger, scoring,
// catalog statistics, notifications and the activity log.
package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	BookBorrowed      Type = "ledger.borrowed"
	BookReturned      Type = "ledger.returned"
	BookRenewed       Type = "ledger.renewed"
	RecordOverdue     Type = "ledger.overdue"
	RecordLost        Type = "ledger.lost"
	ScoreChanged      Type = "scoring.changed"
	AccountRestricted Type = "scoring.restricted"
	UserAtRisk        Type = "scoring.at_risk"
	UserRegistered    Type = "user.registered"
	UserLoggedIn      Type = "user.logged_in"
)

// Event is published after the producing transaction commits.
type Event struct {
	ID         uuid.UUID
	Type       Type
	OccurredAt time.Time
	UserID     int64

	Record *RecordPayload
	Score  *ScorePayload
}

// RecordPayload describes a borrowing record at the time of the event.
type RecordPayload struct {
	RecordID     string
	BookID       string
	BookTitle    string
	BorrowDate   time.Time
	DueDate      time.Time
	ReturnDate   *time.Time
	Status       string
	RenewalCount int
	MaxRenewals  int
	DaysOverdue  int
	LateFee      decimal.Decimal
	// ReminderClaimed is set on overdue events when this sweep flipped
	// reminder_sent and is responsible for the overdue notice.
	ReminderClaimed bool
}

// ScorePayload describes a credit score change.
type ScorePayload struct {
	Previous     float64
	Current      float64
	Rating       string
	OverdueCount int
	Risk         string
}

// New stamps a fresh event.
func New(t Type, userID int64, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, OccurredAt: at, UserID: userID}
}
