package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
)

// memStore serializes transactions behind one mutex, which gives the same
// outcome as the row locks for the cases under test, and restores a
// snapshot when fn fails.
type memStore struct {
	mu      sync.Mutex
	users   map[int64]int
	books   map[string]entity.BookRef
	records map[string]entity.Record

	// failLock makes LockRecord fail for these ids.
	failLock map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[int64]int{},
		books:   map[string]entity.BookRef{},
		records: map[string]entity.Record{},
	}
}

func (m *memStore) addUser(id int64, base int) { m.users[id] = base }

func (m *memStore) addBook(id string, total, available int) {
	m.books[id] = entity.BookRef{ID: id, Title: "Title " + id, TotalCopies: total, AvailableCopies: available, IsActive: true}
}

func (m *memStore) book(id string) entity.BookRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[id]
}

func (m *memStore) record(id string) entity.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *memStore) putRecord(rec entity.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	books := make(map[string]entity.BookRef, len(m.books))
	for k, v := range m.books {
		books[k] = v
	}
	records := make(map[string]entity.Record, len(m.records))
	for k, v := range m.records {
		records[k] = v
	}
	if err := fn(&memTx{m: m}); err != nil {
		m.books, m.records = books, records
		return err
	}
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*entity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}

func (m *memStore) List(ctx context.Context, f ListFilter) ([]*entity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.Record{}
	for _, rec := range m.records {
		if rec.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, rec.Status) {
			continue
		}
		if f.DueBefore != nil && !rec.DueDate.Before(*f.DueBefore) {
			continue
		}
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.NewestFirst {
			return out[i].BorrowDate.After(out[j].BorrowDate)
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*entity.Record{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) OverdueCandidates(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id, rec := range m.records {
		if id <= after {
			continue
		}
		active := (rec.Status == entity.StatusBorrowed || rec.Status == entity.StatusRenewed) && rec.DueDate.Before(now)
		unsent := rec.Status == entity.StatusOverdue && !rec.ReminderSent
		if active || unsent {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) LostCandidates(ctx context.Context, cutoff time.Time, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id, rec := range m.records {
		if id > after && rec.Status == entity.StatusOverdue && rec.DueDate.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) SetReminderSent(ctx context.Context, id string, sent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	rec.ReminderSent = sent
	m.records[id] = rec
	return nil
}

// memTx runs with memStore.mu already held.
type memTx struct {
	m *memStore
}

func (t *memTx) LockUser(ctx context.Context, userID int64) (int, error) {
	base, ok := t.m.users[userID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return base, nil
}

func (t *memTx) LockBook(ctx context.Context, bookID string) (*entity.BookRef, error) {
	b, ok := t.m.books[bookID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &b, nil
}

func (t *memTx) LockRecord(ctx context.Context, id string) (*entity.Record, error) {
	if t.m.failLock[id] {
		return nil, errors.New("record locked elsewhere")
	}
	rec, ok := t.m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}

func (t *memTx) CountActive(ctx context.Context, userID int64) (int, error) {
	n := 0
	for _, rec := range t.m.records {
		if rec.UserID == userID && rec.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasActive(ctx context.Context, userID int64, bookID string) (bool, error) {
	for _, rec := range t.m.records {
		if rec.UserID == userID && rec.BookID == bookID && rec.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertRecord(ctx context.Context, rec *entity.Record) error {
	t.m.records[rec.ID] = *rec
	return nil
}

func (t *memTx) UpdateRecord(ctx context.Context, rec *entity.Record) error {
	t.m.records[rec.ID] = *rec
	return nil
}

func (t *memTx) SetBookCopies(ctx context.Context, bookID string, available, total int) error {
	b := t.m.books[bookID]
	b.AvailableCopies, b.TotalCopies = available, total
	t.m.books[bookID] = b
	return nil
}

func hasStatus(list []entity.Status, s entity.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t event.Type) []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixedLimit struct{ bonus int }

func (f fixedLimit) BorrowingLimit(ctx context.Context, userID int64, base int) (int, error) {
	return base + f.bonus, nil
}
