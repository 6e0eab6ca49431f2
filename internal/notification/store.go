package notification

import (
	"context"
	"time"

	catalogentity "github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
)

// Store persists the queue and preferences.
type Store interface {
	Enqueue(ctx context.Context, it *entity.Item) error
	// ClaimDue leases up to limit unprocessed items scheduled at or before
	// now, skipping rows locked or leased by another dispatcher. Items come
	// back ordered by scheduled_for ascending then priority descending.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*entity.Item, error)
	// Save writes the item's dispatch state and clears its lease. It only
	// writes while the stored lease still equals it.LeasedUntil and returns
	// ErrLeaseLost otherwise.
	Save(ctx context.Context, it *entity.Item) error
	// Supersede closes the user's pending items of type t for recordID.
	Supersede(ctx context.Context, userID int64, t entity.Type, recordID string, at time.Time) (int, error)
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*entity.Item, error)
	Stats(ctx context.Context, now time.Time) (*entity.QueueStats, error)

	// GetPreference returns sql.ErrNoRows when the user has no row.
	GetPreference(ctx context.Context, userID int64) (*entity.Preference, error)
	UpsertPreference(ctx context.Context, p *entity.Preference) error
}

// Contact is where a user's notifications go.
type Contact struct {
	Email string
	Name  string
}

// Directory resolves recipients.
type Directory interface {
	Contact(ctx context.Context, userID int64) (Contact, error)
	AdminIDs(ctx context.Context) ([]int64, error)
}

// ReminderReleaser gives an overdue reminder claim back to the ledger.
type ReminderReleaser interface {
	ReleaseReminder(ctx context.Context, recordID string) error
}

// Inventory lists books running short on shelf copies.
type Inventory interface {
	LowInventory(ctx context.Context, ratio float64) ([]*catalogentity.Book, error)
}
