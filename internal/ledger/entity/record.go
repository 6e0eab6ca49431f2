package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusBorrowed Status = "borrowed"
	StatusReturned Status = "returned"
	StatusOverdue  Status = "overdue"
	StatusRenewed  Status = "renewed"
	StatusLost     Status = "lost"
)

// ActiveStatuses are the statuses that hold a copy and count against the
// borrowing limit.
var ActiveStatuses = []Status{StatusBorrowed, StatusOverdue, StatusRenewed}

var transitions = map[Status][]Status{
	StatusBorrowed: {StatusOverdue, StatusRenewed, StatusReturned},
	StatusOverdue:  {StatusReturned, StatusLost},
	StatusRenewed:  {StatusRenewed, StatusOverdue, StatusReturned},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether s holds a copy.
func (s Status) IsActive() bool {
	return s == StatusBorrowed || s == StatusOverdue || s == StatusRenewed
}

// Record is one loan of one copy. Rows are never deleted.
type Record struct {
	ID           string          `db:"id" json:"id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	BookID       string          `db:"book_id" json:"book_id"`
	BookTitle    string          `db:"book_title" json:"book_title,omitempty"`
	BorrowDate   time.Time       `db:"borrow_date" json:"borrow_date"`
	DueDate      time.Time       `db:"due_date" json:"due_date"`
	ReturnDate   *time.Time      `db:"return_date" json:"return_date,omitempty"`
	Status       Status          `db:"status" json:"status"`
	LateFees     decimal.Decimal `db:"late_fees" json:"late_fees"`
	RenewalCount int             `db:"renewal_count" json:"renewal_count"`
	MaxRenewals  int             `db:"max_renewals" json:"max_renewals"`
	ReminderSent bool            `db:"reminder_sent" json:"reminder_sent"`
	Notes        string          `db:"notes" json:"notes"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// IsOverdueAt reports whether the record is overdue at t, either by status
// or because the due date has passed.
func (r *Record) IsOverdueAt(t time.Time) bool {
	if r.Status == StatusOverdue {
		return true
	}
	return r.Status.IsActive() && t.After(r.DueDate)
}

// DaysOverdue is the number of whole days between due and at, never negative.
func DaysOverdue(due, at time.Time) int {
	if !at.After(due) {
		return 0
	}
	return int(at.Sub(due) / (24 * time.Hour))
}

// LateFee is min(daysOverdue, maxDays) * perDay rounded to cents; zero when
// not overdue.
func LateFee(daysOverdue, maxDays int, perDay decimal.Decimal) decimal.Decimal {
	if daysOverdue <= 0 {
		return decimal.Zero
	}
	if maxDays > 0 && daysOverdue > maxDays {
		daysOverdue = maxDays
	}
	return perDay.Mul(decimal.NewFromInt(int64(daysOverdue))).Round(2)
}

// BookRef is the slice of a book row the ledger locks and updates.
type BookRef struct {
	ID              string `db:"id"`
	Title           string `db:"title"`
	TotalCopies     int    `db:"total_copies"`
	AvailableCopies int    `db:"available_copies"`
	IsActive        bool   `db:"is_active"`
}
