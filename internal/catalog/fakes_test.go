package catalog

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
)

type memStore struct {
	mu         sync.Mutex
	waiting    atomic.Int32
	onUpdate   func()
	books      map[string]*entity.Book
	categories []*entity.Category
	windows    map[string][]BorrowWindow
	stats      map[string]*entity.Statistics
}

func newMemStore() *memStore {
	return &memStore{
		books:   map[string]*entity.Book{},
		windows: map[string][]BorrowWindow{},
		stats:   map[string]*entity.Statistics{},
	}
}

func (m *memStore) CreateBook(ctx context.Context, b *entity.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.books {
		if other.ISBN == b.ISBN {
			return &pq.Error{Code: "23505", Constraint: "books_isbn_key"}
		}
	}
	cp := *b
	m.books[b.ID] = &cp
	return nil
}

func (m *memStore) GetBook(ctx context.Context, id string) (*entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) UpdateBook(ctx context.Context, id string, fn func(b *entity.Book) error) (*entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.books[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	b := *stored
	if m.onUpdate != nil {
		m.onUpdate()
	}
	if err := fn(&b); err != nil {
		return nil, err
	}
	cp := b
	m.books[id] = &cp
	return &b, nil
}

func (m *memStore) DeactivateBook(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return sql.ErrNoRows
	}
	b.IsActive = false
	b.UpdatedAt = at
	return nil
}

// lendCopy takes one copy off the shelf the way a ledger borrow does,
// waiting for any update holding the row.
func (m *memStore) lendCopy(id string) {
	m.waiting.Add(1)
	m.mu.Lock()
	m.waiting.Add(-1)
	defer m.mu.Unlock()
	if b := m.books[id]; b != nil && b.AvailableCopies > 0 {
		b.AvailableCopies--
	}
}

func (m *memStore) SearchBooks(ctx context.Context, f Filter) ([]*entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.Book{}
	for _, b := range m.books {
		if !b.IsActive {
			continue
		}
		if f.Title != "" && !strings.Contains(strings.ToLower(b.Title), strings.ToLower(f.Title)) {
			continue
		}
		if f.ISBN != "" && b.ISBN != f.ISBN {
			continue
		}
		if f.AvailableOnly && b.AvailableCopies == 0 {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memStore) ListBookIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id := range m.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) CreateCategory(ctx context.Context, c *entity.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.categories {
		if other.Name == c.Name {
			return &pq.Error{Code: "23505"}
		}
	}
	c.ID = int64(len(m.categories) + 1)
	m.categories = append(m.categories, c)
	return nil
}

func (m *memStore) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.Category(nil), m.categories...), nil
}

func (m *memStore) BorrowWindows(ctx context.Context, bookID string) ([]BorrowWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows[bookID], nil
}

func (m *memStore) UpsertStatistics(ctx context.Context, st *entity.Statistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.stats[st.BookID] = &cp
	return nil
}

func (m *memStore) GetStatistics(ctx context.Context, bookID string) (*entity.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[bookID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *st
	return &cp, nil
}

func (m *memStore) LowInventory(ctx context.Context, ratio float64) ([]*entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.Book{}
	for _, b := range m.books {
		if b.IsActive && b.TotalCopies > 0 && float64(b.AvailableCopies)/float64(b.TotalCopies) < ratio {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Popular(ctx context.Context, limit int) ([]*entity.PopularBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.PopularBook{}
	for id, st := range m.stats {
		b, ok := m.books[id]
		if !ok || !b.IsActive {
			continue
		}
		out = append(out, &entity.PopularBook{Book: *b, TotalBorrowedCount: st.TotalBorrowedCount, PopularityScore: st.PopularityScore})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PopularityScore > out[j].PopularityScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
