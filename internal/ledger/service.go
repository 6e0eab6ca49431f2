package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

var (
	ErrNotFound          = errors.New("borrowing record not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrBookNotFound      = errors.New("book not found")
	ErrUnavailable       = errors.New("book is not available")
	ErrDuplicateBorrow   = errors.New("book already borrowed by this user")
	ErrLimitExceeded     = errors.New("borrowing limit reached")
	ErrMaxRenewals       = errors.New("maximum renewals reached")
	ErrOverdue           = errors.New("overdue books cannot be renewed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
)

// activeBorrowIndex backs ErrDuplicateBorrow when two requests race past HasActive.
const activeBorrowIndex = "uq_borrowing_records_active"

// Service owns the borrowing lifecycle. Every mutation runs in one Store
// transaction; events are published only after it commits.
type Service struct {
	store  Store
	limits LimitPolicy
	events Publisher
	policy config.Circulation
	logger *zap.SugaredLogger

	Clock func() time.Time
	NewID func() string
}

func NewService(store Store, limits LimitPolicy, events Publisher, policy config.Circulation, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  store,
		limits: limits,
		events: events,
		policy: policy,
		logger: logger,
		Clock:  func() time.Time { return time.Now().UTC() },
		NewID:  utilities.NewKSUID,
	}
}

// Borrow lends one copy of bookID to userID.
func (s *Service) Borrow(ctx context.Context, userID int64, bookID, notes string) (*entity.Record, error) {
	recs, err := s.borrow(ctx, userID, []string{bookID}, notes)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// BorrowMany lends every book in bookIDs or none of them.
func (s *Service) BorrowMany(ctx context.Context, userID int64, bookIDs []string, notes string) ([]*entity.Record, error) {
	if len(bookIDs) == 0 || (s.policy.MaxBulkItems > 0 && len(bookIDs) > s.policy.MaxBulkItems) {
		return nil, fmt.Errorf("%w: between 1 and %d books per request", ErrInvalidInput, s.policy.MaxBulkItems)
	}
	return s.borrow(ctx, userID, bookIDs, notes)
}

func (s *Service) borrow(ctx context.Context, userID int64, bookIDs []string, notes string) ([]*entity.Record, error) {
	now := s.Clock()
	var out []*entity.Record
	err := s.store.InTx(ctx, func(tx Tx) error {
		out = out[:0]
		base, err := tx.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		limit, err := s.borrowingLimit(ctx, userID, base)
		if err != nil {
			return err
		}
		active, err := tx.CountActive(ctx, userID)
		if err != nil {
			return fmt.Errorf("count active: %w", err)
		}
		for _, bookID := range bookIDs {
			rec, err := s.borrowOne(ctx, tx, userID, bookID, notes, now, active, limit)
			if err != nil {
				if len(bookIDs) > 1 {
					return fmt.Errorf("book %s: %w", bookID, err)
				}
				return err
			}
			active++
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		operationsTotal.WithLabelValues("borrow", outcome(err)).Inc()
		return nil, err
	}
	for _, rec := range out {
		operationsTotal.WithLabelValues("borrow", "ok").Inc()
		s.logger.Infow("book borrowed", "record_id", rec.ID, "user_id", userID, "book_id", rec.BookID, "due_date", rec.DueDate)
		s.publish(ctx, event.BookBorrowed, rec, false)
	}
	return out, nil
}

func (s *Service) borrowOne(ctx context.Context, tx Tx, userID int64, bookID, notes string, now time.Time, active, limit int) (*entity.Record, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return nil, fmt.Errorf("%w: book id is required", ErrInvalidInput)
	}
	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("lock book: %w", err)
	}
	if !book.IsActive || book.AvailableCopies <= 0 {
		return nil, ErrUnavailable
	}
	dup, err := tx.HasActive(ctx, userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("check active: %w", err)
	}
	if dup {
		return nil, ErrDuplicateBorrow
	}
	if active >= limit {
		return nil, ErrLimitExceeded
	}
	rec := &entity.Record{
		ID:          s.NewID(),
		UserID:      userID,
		BookID:      book.ID,
		BookTitle:   book.Title,
		BorrowDate:  now,
		DueDate:     now.Add(s.policy.LoanPeriod()),
		Status:      entity.StatusBorrowed,
		LateFees:    decimal.Zero,
		MaxRenewals: s.policy.MaxRenewals,
		Notes:       strings.TrimSpace(notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertRecord(ctx, rec); err != nil {
		if database.IsUniqueViolation(err, activeBorrowIndex) {
			return nil, ErrDuplicateBorrow
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}
	if err := tx.SetBookCopies(ctx, book.ID, book.AvailableCopies-1, book.TotalCopies); err != nil {
		return nil, fmt.Errorf("update availability: %w", err)
	}
	return rec, nil
}

func (s *Service) borrowingLimit(ctx context.Context, userID int64, base int) (int, error) {
	if base <= 0 {
		base = s.policy.DefaultBorrowLimit
	}
	if s.limits == nil {
		return base, nil
	}
	limit, err := s.limits.BorrowingLimit(ctx, userID, base)
	if err != nil {
		return 0, fmt.Errorf("borrowing limit: %w", err)
	}
	return limit, nil
}

// Return closes an active record owned by userID and charges any late fee.
func (s *Service) Return(ctx context.Context, recordID string, userID int64, conditionNotes string) (*entity.Record, error) {
	now := s.Clock()
	var rec *entity.Record
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		rec, err = s.returnOne(ctx, tx, recordID, userID, conditionNotes, now)
		return err
	})
	operationsTotal.WithLabelValues("return", outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.logger.Infow("book returned", "record_id", rec.ID, "user_id", userID, "late_fees", rec.LateFees.StringFixed(2))
	s.publish(ctx, event.BookReturned, rec, false)
	return rec, nil
}

// ReturnMany returns each record in its own transaction, skipping records
// that are not active for the user. It fails only when nothing was returned.
func (s *Service) ReturnMany(ctx context.Context, userID int64, recordIDs []string, conditionNotes string) ([]*entity.Record, error) {
	if len(recordIDs) == 0 || (s.policy.MaxBulkItems > 0 && len(recordIDs) > s.policy.MaxBulkItems) {
		return nil, fmt.Errorf("%w: between 1 and %d records per request", ErrInvalidInput, s.policy.MaxBulkItems)
	}
	out := []*entity.Record{}
	for _, id := range recordIDs {
		rec, err := s.Return(ctx, id, userID, conditionNotes)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Warnw("bulk return item failed", "record_id", id, "user_id", userID, "error", err)
			}
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *Service) returnOne(ctx context.Context, tx Tx, recordID string, userID int64, notes string, now time.Time) (*entity.Record, error) {
	rec, err := s.lockOwned(ctx, tx, recordID, userID)
	if err != nil {
		return nil, err
	}
	if !entity.CanTransition(rec.Status, entity.StatusReturned) {
		return nil, ErrInvalidTransition
	}
	days := entity.DaysOverdue(rec.DueDate, now)
	rec.LateFees = entity.LateFee(days, s.policy.MaxFeeDays, s.policy.LateFeePerDay)
	rec.ReturnDate = &now
	rec.Status = entity.StatusReturned
	rec.Notes = appendNote(rec.Notes, "Return notes: ", notes)
	rec.UpdatedAt = now

	book, err := tx.LockBook(ctx, rec.BookID)
	if err != nil {
		return nil, fmt.Errorf("lock book: %w", err)
	}
	available := book.AvailableCopies + 1
	if available > book.TotalCopies {
		available = book.TotalCopies
	}
	if err := tx.UpdateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if err := tx.SetBookCopies(ctx, book.ID, available, book.TotalCopies); err != nil {
		return nil, fmt.Errorf("update availability: %w", err)
	}
	return rec, nil
}

// Renew extends an active record that is neither overdue nor out of renewals.
func (s *Service) Renew(ctx context.Context, recordID string, userID int64) (*entity.Record, error) {
	now := s.Clock()
	var rec *entity.Record
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := s.lockOwned(ctx, tx, recordID, userID)
		if err != nil {
			return err
		}
		if r.RenewalCount >= r.MaxRenewals {
			return ErrMaxRenewals
		}
		if r.IsOverdueAt(now) {
			return ErrOverdue
		}
		if !entity.CanTransition(r.Status, entity.StatusRenewed) {
			return ErrInvalidTransition
		}
		r.DueDate = now.Add(s.policy.LoanPeriod())
		r.RenewalCount++
		r.Status = entity.StatusRenewed
		r.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, r); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		rec = r
		return nil
	})
	operationsTotal.WithLabelValues("renew", outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.logger.Infow("book renewed", "record_id", rec.ID, "user_id", userID, "renewal_count", rec.RenewalCount, "due_date", rec.DueDate)
	s.publish(ctx, event.BookRenewed, rec, false)
	return rec, nil
}

// lockOwned locks recordID and checks it is an active record of userID.
func (s *Service) lockOwned(ctx context.Context, tx Tx, recordID string, userID int64) (*entity.Record, error) {
	rec, err := tx.LockRecord(ctx, strings.TrimSpace(recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock record: %w", err)
	}
	if rec.UserID != userID || !rec.Status.IsActive() {
		return nil, ErrNotFound
	}
	return rec, nil
}

// CurrentBorrowed lists the user's active records by due date.
func (s *Service) CurrentBorrowed(ctx context.Context, userID int64) ([]*entity.Record, error) {
	return s.store.List(ctx, ListFilter{UserID: userID, Statuses: entity.ActiveStatuses})
}

// History lists all of the user's records, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]*entity.Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, ListFilter{UserID: userID, Limit: limit, Offset: offset, NewestFirst: true})
}

// Overdue lists the user's active records whose due date has passed.
func (s *Service) Overdue(ctx context.Context, userID int64) ([]*entity.Record, error) {
	now := s.Clock()
	return s.store.List(ctx, ListFilter{UserID: userID, Statuses: entity.ActiveStatuses, DueBefore: &now})
}

func (s *Service) publish(ctx context.Context, t event.Type, rec *entity.Record, reminderClaimed bool) {
	if s.events == nil {
		return
	}
	now := s.Clock()
	ev := event.New(t, rec.UserID, now)
	at := now
	if rec.ReturnDate != nil {
		at = *rec.ReturnDate
	}
	ev.Record = &event.RecordPayload{
		RecordID:        rec.ID,
		BookID:          rec.BookID,
		BookTitle:       rec.BookTitle,
		BorrowDate:      rec.BorrowDate,
		DueDate:         rec.DueDate,
		ReturnDate:      rec.ReturnDate,
		Status:          string(rec.Status),
		RenewalCount:    rec.RenewalCount,
		MaxRenewals:     rec.MaxRenewals,
		DaysOverdue:     entity.DaysOverdue(rec.DueDate, at),
		LateFee:         rec.LateFees,
		ReminderClaimed: reminderClaimed,
	}
	// handler failures are logged by the bus
	_ = s.events.Publish(ctx, ev)
}

func appendNote(existing, prefix, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return prefix + note
	}
	return existing + "\n" + prefix + note
}
