package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

var (
	ErrNotFound      = errors.New("book not found")
	ErrInvalidISBN   = errors.New("invalid isbn")
	ErrDuplicateISBN = errors.New("isbn already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDuplicateName = errors.New("category already exists")
)

type Service struct {
	store  Store
	logger *zap.SugaredLogger

	Clock func() time.Time
	NewID func() string
}

func NewService(store Store, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  store,
		logger: logger,
		Clock:  func() time.Time { return time.Now().UTC() },
		NewID:  utilities.NewKSUID,
	}
}

// CreateBook validates and stores a new title. A zero AvailableCopies means
// every copy is on the shelf.
func (s *Service) CreateBook(ctx context.Context, b *entity.Book) (*entity.Book, error) {
	b.ISBN = entity.NormalizeISBN(b.ISBN)
	if !entity.ValidISBN(b.ISBN) {
		return nil, ErrInvalidISBN
	}
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	if b.Title == "" || b.Author == "" {
		return nil, fmt.Errorf("%w: title and author are required", ErrInvalidInput)
	}
	if b.AvailableCopies == 0 {
		b.AvailableCopies = b.TotalCopies
	}
	b.ClampCopies()
	now := s.Clock()
	b.ID = s.NewID()
	b.IsActive = true
	b.CreatedAt, b.UpdatedAt = now, now
	if err := s.store.CreateBook(ctx, b); err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, ErrDuplicateISBN
		}
		return nil, fmt.Errorf("create book: %w", err)
	}
	return b, nil
}

func (s *Service) GetBook(ctx context.Context, id string) (*entity.Book, error) {
	b, err := s.store.GetBook(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// BookUpdate carries the editable fields; nil means unchanged.
type BookUpdate struct {
	Title           *string
	Author          *string
	CategoryID      *int64
	Publisher       *string
	PublicationYear *int
	Description     *string
	Location        *string
	TotalCopies     *int
	AvailableCopies *int
}

// UpdateBook applies u to the locked row and clamps the copy counts. Copy
// counts u leaves nil keep whatever the ledger last wrote.
func (s *Service) UpdateBook(ctx context.Context, id string, u BookUpdate) (*entity.Book, error) {
	b, err := s.store.UpdateBook(ctx, id, func(b *entity.Book) error {
		if u.Title != nil {
			b.Title = strings.TrimSpace(*u.Title)
		}
		if u.Author != nil {
			b.Author = strings.TrimSpace(*u.Author)
		}
		if u.CategoryID != nil {
			b.CategoryID = u.CategoryID
		}
		if u.Publisher != nil {
			b.Publisher = *u.Publisher
		}
		if u.PublicationYear != nil {
			b.PublicationYear = u.PublicationYear
		}
		if u.Description != nil {
			b.Description = *u.Description
		}
		if u.Location != nil {
			b.Location = *u.Location
		}
		if u.TotalCopies != nil {
			b.TotalCopies = *u.TotalCopies
		}
		if u.AvailableCopies != nil {
			b.AvailableCopies = *u.AvailableCopies
		}
		if b.Title == "" || b.Author == "" {
			return fmt.Errorf("%w: title and author are required", ErrInvalidInput)
		}
		b.ClampCopies()
		b.UpdatedAt = s.Clock()
		return nil
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case errors.Is(err, ErrInvalidInput):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("update book: %w", err)
	}
	return b, nil
}

// DeactivateBook hides a title from lending. Existing records and copy
// counts are untouched.
func (s *Service) DeactivateBook(ctx context.Context, id string) error {
	if err := s.store.DeactivateBook(ctx, id, s.Clock()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("deactivate book: %w", err)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, f Filter) ([]*entity.Book, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.ISBN != "" {
		f.ISBN = entity.NormalizeISBN(f.ISBN)
	}
	books, err := s.store.SearchBooks(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

func (s *Service) CreateCategory(ctx context.Context, c *entity.Category) (*entity.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	c.IsActive = true
	c.CreatedAt = s.Clock()
	if err := s.store.CreateCategory(ctx, c); err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

func (s *Service) Categories(ctx context.Context) ([]*entity.Category, error) {
	return s.store.ListCategories(ctx)
}

// Popular returns books ordered by popularity score.
func (s *Service) Popular(ctx context.Context, limit int) ([]*entity.PopularBook, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.store.Popular(ctx, limit)
}

// LowInventory lists active books with fewer than ratio of their copies
// on the shelf.
func (s *Service) LowInventory(ctx context.Context, ratio float64) ([]*entity.Book, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("%w: ratio must be in (0, 1]", ErrInvalidInput)
	}
	return s.store.LowInventory(ctx, ratio)
}

// Statistics returns the stored statistics, or zeroes for a never-refreshed book.
func (s *Service) Statistics(ctx context.Context, bookID string) (*entity.Statistics, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	st, err := s.store.GetStatistics(ctx, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return &entity.Statistics{BookID: bookID}, nil
	}
	return st, err
}

// RefreshStatistics recomputes and stores one book's statistics.
func (s *Service) RefreshStatistics(ctx context.Context, bookID string) (*entity.Statistics, error) {
	b, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	windows, err := s.store.BorrowWindows(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("load borrow windows: %w", err)
	}
	st := ComputeStatistics(bookID, windows, b.AvailableCopies, s.Clock())
	if err := s.store.UpsertStatistics(ctx, &st); err != nil {
		return nil, fmt.Errorf("store statistics: %w", err)
	}
	return &st, nil
}

// RefreshAllStatistics refreshes every book, logging and skipping failures.
func (s *Service) RefreshAllStatistics(ctx context.Context) (int, error) {
	ids, err := s.store.ListBookIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list books: %w", err)
	}
	refreshed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.RefreshStatistics(ctx, id); err != nil {
			s.logger.Warnw("refresh statistics failed", "book_id", id, "error", err)
			continue
		}
		refreshed++
	}
	s.logger.Infow("statistics refreshed", "books", refreshed, "total", len(ids))
	return refreshed, nil
}
