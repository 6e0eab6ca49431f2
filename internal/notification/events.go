package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
)

const dateLayout = "2006-01-02"

// RegisterHandlers queues notifications for ledger, scoring and account
// events. releaser may be nil, in which case failed overdue notices keep
// their reminder claim.
func (s *Service) RegisterHandlers(bus *event.Bus, releaser ReminderReleaser) {
	const name = "notification.enqueue"
	bus.Subscribe(event.BookBorrowed, name, s.onBorrowed)
	bus.Subscribe(event.BookReturned, name, s.onReturned)
	bus.Subscribe(event.BookRenewed, name, s.onRenewed)
	bus.Subscribe(event.RecordOverdue, name, func(ctx context.Context, ev event.Event) error {
		return s.onOverdue(ctx, ev, releaser)
	})
	bus.Subscribe(event.RecordLost, name, s.onLost)
	bus.Subscribe(event.ScoreChanged, name, s.onScoreChanged)
	bus.Subscribe(event.AccountRestricted, name, s.onRestricted)
	bus.Subscribe(event.UserAtRisk, name, s.onAtRisk)
	bus.Subscribe(event.UserRegistered, name, s.onRegistered)
}

func recordPayload(r *event.RecordPayload) map[string]any {
	return map[string]any{
		"record_id":  r.RecordID,
		"book_id":    r.BookID,
		"book_title": r.BookTitle,
		"due_date":   r.DueDate.Format(dateLayout),
	}
}

func (s *Service) onBorrowed(ctx context.Context, ev event.Event) error {
	if ev.Record == nil {
		return nil
	}
	if _, err := s.Enqueue(ctx, ev.UserID, entity.TypeBorrowConfirmation, ev.OccurredAt, entity.PriorityHigh, recordPayload(ev.Record)); err != nil {
		return err
	}
	return s.schedulePreDue(ctx, ev)
}

// schedulePreDue queues the reminder ahead of the record's due date using
// the user's lead time. Nothing is queued when that moment has passed.
func (s *Service) schedulePreDue(ctx context.Context, ev event.Event) error {
	pref, err := s.Preferences(ctx, ev.UserID)
	if err != nil {
		return err
	}
	lead := time.Duration(pref.ReminderDaysBefore) * 24 * time.Hour
	at := ev.Record.DueDate.Add(-lead)
	if !at.After(ev.OccurredAt) {
		return nil
	}
	p := recordPayload(ev.Record)
	p["days_until_due"] = pref.ReminderDaysBefore
	_, err = s.Enqueue(ctx, ev.UserID, entity.TypePreDueReminder, at, entity.PriorityNormal, p)
	return err
}

func (s *Service) onReturned(ctx context.Context, ev event.Event) error {
	if ev.Record == nil {
		return nil
	}
	if _, err := s.store.Supersede(ctx, ev.UserID, entity.TypePreDueReminder, ev.Record.RecordID, ev.OccurredAt); err != nil {
		return fmt.Errorf("supersede reminder: %w", err)
	}
	p := recordPayload(ev.Record)
	p["days_overdue"] = ev.Record.DaysOverdue
	p["late_fee"] = ev.Record.LateFee.StringFixed(2)
	if ev.Record.ReturnDate != nil {
		p["return_date"] = ev.Record.ReturnDate.Format(dateLayout)
	}
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeReturnConfirmation, ev.OccurredAt, entity.PriorityNormal, p)
	return err
}

func (s *Service) onRenewed(ctx context.Context, ev event.Event) error {
	if ev.Record == nil {
		return nil
	}
	if _, err := s.store.Supersede(ctx, ev.UserID, entity.TypePreDueReminder, ev.Record.RecordID, ev.OccurredAt); err != nil {
		return fmt.Errorf("supersede reminder: %w", err)
	}
	p := recordPayload(ev.Record)
	p["renewal_count"] = ev.Record.RenewalCount
	p["renewals_left"] = ev.Record.MaxRenewals - ev.Record.RenewalCount
	if _, err := s.Enqueue(ctx, ev.UserID, entity.TypeRenewalConfirmation, ev.OccurredAt, entity.PriorityNormal, p); err != nil {
		return err
	}
	return s.schedulePreDue(ctx, ev)
}

// onOverdue queues the notice for the sweep that claimed the reminder and
// hands the claim back when queueing fails.
func (s *Service) onOverdue(ctx context.Context, ev event.Event, releaser ReminderReleaser) error {
	if ev.Record == nil || !ev.Record.ReminderClaimed {
		return nil
	}
	p := recordPayload(ev.Record)
	p["days_overdue"] = ev.Record.DaysOverdue
	p["late_fee"] = ev.Record.LateFee.StringFixed(2)
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeOverdueNotice, ev.OccurredAt, entity.PriorityHigh, p)
	if err == nil || releaser == nil {
		return err
	}
	if relErr := releaser.ReleaseReminder(ctx, ev.Record.RecordID); relErr != nil {
		return errors.Join(err, fmt.Errorf("release reminder: %w", relErr))
	}
	return err
}

func (s *Service) onLost(ctx context.Context, ev event.Event) error {
	if ev.Record == nil {
		return nil
	}
	p := recordPayload(ev.Record)
	p["days_overdue"] = ev.Record.DaysOverdue
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeLostNotice, ev.OccurredAt, entity.PriorityHigh, p)
	return err
}

func scorePayload(p *event.ScorePayload) map[string]any {
	return map[string]any{
		"previous_score": p.Previous,
		"current_score":  p.Current,
		"rating":         p.Rating,
	}
}

func (s *Service) onScoreChanged(ctx context.Context, ev event.Event) error {
	if ev.Score == nil {
		return nil
	}
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeCreditScoreUpdate, ev.OccurredAt, entity.PriorityNormal, scorePayload(ev.Score))
	return err
}

func (s *Service) onRestricted(ctx context.Context, ev event.Event) error {
	if ev.Score == nil {
		return nil
	}
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeAccountSuspended, ev.OccurredAt, entity.PriorityUrgent, scorePayload(ev.Score))
	return err
}

func (s *Service) onAtRisk(ctx context.Context, ev event.Event) error {
	if ev.Score == nil {
		return nil
	}
	p := map[string]any{
		"current_score": ev.Score.Current,
		"overdue_books": ev.Score.OverdueCount,
		"risk_level":    ev.Score.Risk,
	}
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeCreditWarning, ev.OccurredAt, entity.PriorityNormal, p)
	return err
}

func (s *Service) onRegistered(ctx context.Context, ev event.Event) error {
	_, err := s.Enqueue(ctx, ev.UserID, entity.TypeWelcome, ev.OccurredAt, entity.PriorityNormal, nil)
	return err
}
