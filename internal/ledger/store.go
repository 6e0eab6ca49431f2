package ledger

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
)

// Tx is the unit of work for one ledger mutation. Lock* methods take row
// locks held until the transaction ends and return sql.ErrNoRows for
// missing rows.
type Tx interface {
	// LockUser locks the user row and returns the user's base borrowing limit.
	LockUser(ctx context.Context, userID int64) (baseLimit int, err error)
	LockBook(ctx context.Context, bookID string) (*entity.BookRef, error)
	LockRecord(ctx context.Context, recordID string) (*entity.Record, error)
	CountActive(ctx context.Context, userID int64) (int, error)
	HasActive(ctx context.Context, userID int64, bookID string) (bool, error)
	InsertRecord(ctx context.Context, r *entity.Record) error
	UpdateRecord(ctx context.Context, r *entity.Record) error
	SetBookCopies(ctx context.Context, bookID string, available, total int) error
}

// ListFilter selects a user's records.
type ListFilter struct {
	UserID    int64
	Statuses  []entity.Status
	DueBefore *time.Time
	Limit     int
	Offset    int
	// NewestFirst orders by borrow date descending; otherwise due date ascending.
	NewestFirst bool
}

// Store persists the ledger.
type Store interface {
	// InTx runs fn in one transaction, rolling back when fn fails.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, recordID string) (*entity.Record, error)
	List(ctx context.Context, f ListFilter) ([]*entity.Record, error)
	// OverdueCandidates returns ids greater than after, in id order, of
	// borrowed or renewed records due before now plus overdue records whose
	// reminder has not been sent.
	OverdueCandidates(ctx context.Context, now time.Time, after string, limit int) ([]string, error)
	// LostCandidates returns ids greater than after, in id order, of overdue
	// records due before cutoff.
	LostCandidates(ctx context.Context, cutoff time.Time, after string, limit int) ([]string, error)
	SetReminderSent(ctx context.Context, recordID string, sent bool) error
}

// LimitPolicy resolves a user's effective borrowing limit.
type LimitPolicy interface {
	BorrowingLimit(ctx context.Context, userID int64, baseLimit int) (int, error)
}

// Publisher receives ledger events after commit.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}
