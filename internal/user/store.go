package user

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user/entity"
)

// ListFilter selects users for the admin listing.
type ListFilter struct {
	UserType string
	Status   string
	// Query matches username, email or name.
	Query  string
	Limit  int
	Offset int
}

// Store persists users. Getters return sql.ErrNoRows for missing rows.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error)
	List(ctx context.Context, f ListFilter) ([]*entity.User, error)
	AdminIDs(ctx context.Context) ([]int64, error)

	IncrementFailedLogin(ctx context.Context, id int64) (int, error)
	// LockIfThreshold locks an active user whose failure count reached threshold.
	LockIfThreshold(ctx context.Context, id int64, threshold int, until time.Time) (bool, error)
	UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error)
	ResetLoginSuccess(ctx context.Context, id int64, at time.Time) error
	BumpVersion(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, hash, algo string, bumpVersion bool) error
	UpdateProfile(ctx context.Context, u *entity.User) error
	SetBorrowingLimit(ctx context.Context, id int64, limit int) error
	Deactivate(ctx context.Context, id int64) error
	Reactivate(ctx context.Context, id int64) error
}

// Publisher receives user lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}
