package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// SweepOverdue flips borrowed and renewed records past their due date to
// overdue. The overdue reminder is claimed in the same row update; the
// published event says whether this run owns the notice.
func (s *Service) SweepOverdue(ctx context.Context) (SweepResult, error) {
	now := s.Clock()
	fetch := func(after string, limit int) ([]string, error) {
		return s.store.OverdueCandidates(ctx, now, after, limit)
	}
	res, err := s.drain(ctx, "overdue", fetch, func(id string) (bool, error) {
		rec, claimed, err := s.markOverdue(ctx, id, now)
		if err != nil || rec == nil {
			return false, err
		}
		s.publish(ctx, event.RecordOverdue, rec, claimed)
		return true, nil
	})
	s.logger.Infow("overdue sweep finished", "scanned", res.Scanned, "updated", res.Updated, "failed", res.Failed)
	return res, err
}

func (s *Service) markOverdue(ctx context.Context, recordID string, now time.Time) (*entity.Record, bool, error) {
	var (
		out     *entity.Record
		claimed bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		rec, err := tx.LockRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("lock record: %w", err)
		}
		changed := false
		switch rec.Status {
		case entity.StatusBorrowed, entity.StatusRenewed:
			if !now.After(rec.DueDate) {
				return nil
			}
			if !entity.CanTransition(rec.Status, entity.StatusOverdue) {
				return ErrInvalidTransition
			}
			rec.Status = entity.StatusOverdue
			changed = true
		case entity.StatusOverdue:
		default:
			return nil
		}
		if !rec.ReminderSent {
			rec.ReminderSent = true
			claimed = true
			changed = true
		}
		if !changed {
			return nil
		}
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, claimed, nil
}

// ReleaseReminder clears a reminder claim so the next overdue sweep retries
// the notice.
func (s *Service) ReleaseReminder(ctx context.Context, recordID string) error {
	if err := s.store.SetReminderSent(ctx, recordID, false); err != nil {
		return fmt.Errorf("release reminder: %w", err)
	}
	return nil
}

// SweepLost marks overdue records older than the lost threshold as lost and
// removes the copy from the book's stock.
func (s *Service) SweepLost(ctx context.Context) (SweepResult, error) {
	now := s.Clock()
	cutoff := now.AddDate(0, 0, -s.policy.LostAfterDays)
	fetch := func(after string, limit int) ([]string, error) {
		return s.store.LostCandidates(ctx, cutoff, after, limit)
	}
	res, err := s.drain(ctx, "lost", fetch, func(id string) (bool, error) {
		rec, err := s.markLost(ctx, id, cutoff, now)
		if err != nil || rec == nil {
			return false, err
		}
		s.publish(ctx, event.RecordLost, rec, false)
		return true, nil
	})
	s.logger.Infow("lost sweep finished", "scanned", res.Scanned, "updated", res.Updated, "failed", res.Failed)
	return res, err
}

func (s *Service) markLost(ctx context.Context, recordID string, cutoff, now time.Time) (*entity.Record, error) {
	var out *entity.Record
	err := s.store.InTx(ctx, func(tx Tx) error {
		rec, err := tx.LockRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("lock record: %w", err)
		}
		if rec.Status != entity.StatusOverdue || !rec.DueDate.Before(cutoff) {
			return nil
		}
		if !entity.CanTransition(rec.Status, entity.StatusLost) {
			return ErrInvalidTransition
		}
		rec.Status = entity.StatusLost
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		book, err := tx.LockBook(ctx, rec.BookID)
		if err != nil {
			return fmt.Errorf("lock book: %w", err)
		}
		total := book.TotalCopies - 1
		if total < 0 {
			total = 0
		}
		available := book.AvailableCopies
		if available > total {
			available = total
		}
		if err := tx.SetBookCopies(ctx, book.ID, available, total); err != nil {
			return fmt.Errorf("update stock: %w", err)
		}
		out = rec
		return nil
	})
	return out, err
}

// drain pages through candidates by id and feeds each to apply. Paging
// moves past failed ids, so one bad record cannot hide the ones after it.
func (s *Service) drain(ctx context.Context, sweep string, fetch func(after string, limit int) ([]string, error), apply func(id string) (bool, error)) (SweepResult, error) {
	var res SweepResult
	batch := s.policy.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ids, err := fetch(after, batch)
		if err != nil {
			return res, fmt.Errorf("%s sweep candidates: %w", sweep, err)
		}
		for _, id := range ids {
			res.Scanned++
			updated, err := apply(id)
			if err != nil {
				res.Failed++
				sweepRecordsTotal.WithLabelValues(sweep, "failed").Inc()
				s.logger.Warnw("sweep record failed", "sweep", sweep, "record_id", id, "error", err)
				continue
			}
			if !updated {
				continue
			}
			res.Updated++
			sweepRecordsTotal.WithLabelValues(sweep, "updated").Inc()
		}
		if len(ids) < batch {
			return res, nil
		}
		after = ids[len(ids)-1]
	}
}
