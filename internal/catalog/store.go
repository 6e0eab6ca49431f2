package catalog

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
)

// Filter narrows a book search. Empty fields are ignored.
type Filter struct {
	Query         string
	Title         string
	Author        string
	ISBN          string
	CategoryID    *int64
	AvailableOnly bool
	Limit         int
	Offset        int
}

// Store is the persistence the catalog service needs. Lookups of missing
// rows return sql.ErrNoRows.
type Store interface {
	CreateBook(ctx context.Context, b *entity.Book) error
	GetBook(ctx context.Context, id string) (*entity.Book, error)
	// UpdateBook locks the book row while fn edits it, then saves the row.
	// An error from fn leaves the row unchanged.
	UpdateBook(ctx context.Context, id string, fn func(b *entity.Book) error) (*entity.Book, error)
	// DeactivateBook clears is_active without touching the copy counts.
	DeactivateBook(ctx context.Context, id string, at time.Time) error
	SearchBooks(ctx context.Context, f Filter) ([]*entity.Book, error)
	ListBookIDs(ctx context.Context) ([]string, error)

	CreateCategory(ctx context.Context, c *entity.Category) error
	ListCategories(ctx context.Context) ([]*entity.Category, error)

	BorrowWindows(ctx context.Context, bookID string) ([]BorrowWindow, error)
	UpsertStatistics(ctx context.Context, st *entity.Statistics) error
	GetStatistics(ctx context.Context, bookID string) (*entity.Statistics, error)
	Popular(ctx context.Context, limit int) ([]*entity.PopularBook, error)
	// LowInventory lists active books whose available share is below ratio.
	LowInventory(ctx context.Context, ratio float64) ([]*entity.Book, error)
}
