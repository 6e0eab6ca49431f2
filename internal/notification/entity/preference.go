package entity

import (
	"fmt"
	"time"
)

const (
	DefaultQuietStart = "22:00"
	DefaultQuietEnd   = "08:00"
)

// Preference is a user's notification settings. Users without a stored
// row get DefaultPreference.
type Preference struct {
	UserID             int64     `db:"user_id" json:"user_id"`
	EmailEnabled       bool      `db:"email_enabled" json:"email_enabled"`
	Welcome            bool      `db:"welcome" json:"welcome"`
	BorrowConfirmation bool      `db:"borrow_confirmation" json:"borrow_confirmation"`
	ReturnConfirmation bool      `db:"return_confirmation" json:"return_confirmation"`
	PreDueReminder     bool      `db:"pre_due_reminder" json:"pre_due_reminder"`
	OverdueNotice      bool      `db:"overdue_notice" json:"overdue_notice"`
	CreditScoreUpdates bool      `db:"credit_score_updates" json:"credit_score_updates"`
	Newsletter         bool      `db:"newsletter" json:"newsletter"`
	ReminderDaysBefore int       `db:"reminder_days_before" json:"reminder_days_before"`
	QuietHoursStart    string    `db:"quiet_hours_start" json:"quiet_hours_start"`
	QuietHoursEnd      string    `db:"quiet_hours_end" json:"quiet_hours_end"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

func DefaultPreference(userID int64, reminderDays int) *Preference {
	return &Preference{
		UserID:             userID,
		EmailEnabled:       true,
		Welcome:            true,
		BorrowConfirmation: true,
		ReturnConfirmation: true,
		PreDueReminder:     true,
		OverdueNotice:      true,
		CreditScoreUpdates: true,
		ReminderDaysBefore: reminderDays,
		QuietHoursStart:    DefaultQuietStart,
		QuietHoursEnd:      DefaultQuietEnd,
	}
}

// Allows reports whether t may be delivered. Types without a toggle are
// always allowed while email is enabled.
func (p *Preference) Allows(t Type) bool {
	if !p.EmailEnabled {
		return false
	}
	switch t {
	case TypeWelcome:
		return p.Welcome
	case TypeBorrowConfirmation:
		return p.BorrowConfirmation
	case TypeReturnConfirmation:
		return p.ReturnConfirmation
	case TypePreDueReminder:
		return p.PreDueReminder
	case TypeOverdueNotice:
		return p.OverdueNotice
	case TypeCreditScoreUpdate:
		return p.CreditScoreUpdates
	case TypeNewsletter:
		return p.Newsletter
	default:
		return true
	}
}

// Validate checks the quiet hour bounds and reminder lead time.
func (p *Preference) Validate() error {
	if _, err := ParseClock(p.QuietHoursStart); err != nil {
		return fmt.Errorf("quiet_hours_start: %w", err)
	}
	if _, err := ParseClock(p.QuietHoursEnd); err != nil {
		return fmt.Errorf("quiet_hours_end: %w", err)
	}
	if p.ReminderDaysBefore < 0 || p.ReminderDaysBefore > 30 {
		return fmt.Errorf("reminder_days_before must be between 0 and 30")
	}
	return nil
}

// InQuietHours reports whether now, read in its own location, falls in
// the quiet window. A window whose start is after its end spans midnight.
// Malformed bounds disable the window.
func (p *Preference) InQuietHours(now time.Time) bool {
	start, err := ParseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}
	cur := sinceMidnight(now)
	if start > end {
		return cur >= start || cur <= end
	}
	return start <= cur && cur <= end
}

// QuietEnd is the end of the quiet window on now's date, or the next day
// when that moment has already passed.
func (p *Preference) QuietEnd(now time.Time) time.Time {
	end, err := ParseClock(p.QuietHoursEnd)
	if err != nil {
		return now
	}
	y, m, d := now.Date()
	at := time.Date(y, m, d, int(end/time.Hour), int(end%time.Hour/time.Minute), 0, 0, now.Location())
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// ParseClock parses an HH:MM time of day into its offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}
