package notification

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	catalogentity "github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
)

type memStore struct {
	mu         sync.Mutex
	items      map[string]*entity.Item
	prefs      map[int64]*entity.Preference
	enqueueErr error
	saveCount  int
}

func newMemStore() *memStore {
	return &memStore{items: map[string]*entity.Item{}, prefs: map[int64]*entity.Preference{}}
}

func (m *memStore) Enqueue(ctx context.Context, it *entity.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *memStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*entity.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*entity.Item{}
	for _, it := range m.items {
		if it.IsProcessed || it.ScheduledFor.After(now) {
			continue
		}
		if it.LeasedUntil != nil && !it.LeasedUntil.Before(now) {
			continue
		}
		due = append(due, it)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*entity.Item, 0, len(due))
	for _, it := range due {
		lease := leaseUntil
		it.LeasedUntil = &lease
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Save(ctx context.Context, it *entity.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.items[it.ID]; ok && !sameLease(cur.LeasedUntil, it.LeasedUntil) {
		return ErrLeaseLost
	}
	cp := *it
	cp.LeasedUntil = nil
	m.items[it.ID] = &cp
	m.saveCount++
	return nil
}

func sameLease(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (m *memStore) Supersede(ctx context.Context, userID int64, t entity.Type, recordID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.UserID == userID && it.Type == t && !it.IsProcessed && it.Payload["record_id"] == recordID {
			it.IsProcessed = true
			it.ProcessedAt = &at
			it.Outcome = entity.OutcomeSuperseded
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*entity.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.Item{}
	for _, it := range m.items {
		if it.UserID == userID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })
	if offset >= len(out) {
		return []*entity.Item{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Stats(ctx context.Context, now time.Time) (*entity.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st entity.QueueStats
	for _, it := range m.items {
		if !it.IsProcessed {
			st.Pending++
			if !it.ScheduledFor.After(now) {
				st.Due++
			}
		}
		switch it.Outcome {
		case entity.OutcomeSent:
			st.Sent++
		case entity.OutcomeFailed:
			st.Failed++
		case entity.OutcomeSuppressed:
			st.Suppressed++
		}
	}
	return &st, nil
}

func (m *memStore) GetPreference(ctx context.Context, userID int64) (*entity.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpsertPreference(ctx context.Context, p *entity.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prefs[p.UserID] = &cp
	return nil
}

func (m *memStore) get(id string) *entity.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.items[id]
	return &cp
}

func (m *memStore) ofType(t entity.Type) []*entity.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.Item{}
	for _, it := range m.items {
		if it.Type == t {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []Message
	err  error

	// onSend runs at the start of every Send.
	onSend func()
}

func (c *fakeChannel) Send(ctx context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onSend != nil {
		c.onSend()
	}
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m)
	return nil
}

type fakeDirectory struct {
	admins []int64
}

func (d fakeDirectory) Contact(ctx context.Context, userID int64) (Contact, error) {
	if userID == 404 {
		return Contact{}, errors.New("user not found")
	}
	return Contact{Email: "reader@example.com", Name: "Reader"}, nil
}

func (d fakeDirectory) AdminIDs(ctx context.Context) ([]int64, error) {
	return d.admins, nil
}

type fakeInventory []*catalogentity.Book

func (f fakeInventory) LowInventory(ctx context.Context, ratio float64) ([]*catalogentity.Book, error) {
	return f, nil
}

type releaseRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *releaseRecorder) ReleaseReminder(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, recordID)
	return nil
}
