package scoring

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
)

type memStore struct {
	// rowMu stands in for the row lock Update holds.
	rowMu   sync.Mutex
	waiting atomic.Int32

	// onReturnWindows runs before ReturnWindows reads.
	onReturnWindows func()

	mu      sync.Mutex
	scores  map[int64]*entity.CreditScore
	returns map[int64][]ReturnWindow
	overdue map[int64]int
}

func newMemStore() *memStore {
	return &memStore{
		scores:  map[int64]*entity.CreditScore{},
		returns: map[int64][]ReturnWindow{},
		overdue: map[int64]int{},
	}
}

func (m *memStore) Get(ctx context.Context, userID int64) (*entity.CreditScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.scores[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *cs
	cp.ExternalScores = entity.ExternalScores{}
	for k, v := range cs.ExternalScores {
		cp.ExternalScores[k] = v
	}
	return &cp, nil
}

func (m *memStore) Update(ctx context.Context, userID int64, fn func(cs *entity.CreditScore) error) (*entity.CreditScore, error) {
	m.waiting.Add(1)
	m.rowMu.Lock()
	m.waiting.Add(-1)
	defer m.rowMu.Unlock()

	cs, err := m.Get(ctx, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cs = &entity.CreditScore{UserID: userID, ExternalScores: entity.ExternalScores{}}
	case err != nil:
		return nil, err
	default:
		cs.Persisted = true
	}
	if err := fn(cs); err != nil {
		return nil, err
	}
	cp := *cs
	cp.Persisted = false
	cp.ExternalScores = entity.ExternalScores{}
	for k, v := range cs.ExternalScores {
		cp.ExternalScores[k] = v
	}
	m.mu.Lock()
	m.scores[userID] = &cp
	m.mu.Unlock()
	return cs, nil
}

func (m *memStore) ReturnWindows(ctx context.Context, userID int64) ([]ReturnWindow, error) {
	if m.onReturnWindows != nil {
		m.onReturnWindows()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReturnWindow(nil), m.returns[userID]...), nil
}

func (m *memStore) ScoredUserIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]bool{}
	for id := range m.scores {
		seen[id] = true
	}
	for id := range m.returns {
		seen[id] = true
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) AtRiskCandidates(ctx context.Context, lo, hi float64) ([]AtRiskCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []AtRiskCandidate{}
	for id, cs := range m.scores {
		if cs.Score > lo && cs.Score < hi && m.overdue[id] > 0 {
			out = append(out, AtRiskCandidate{UserID: id, Score: cs.Score, OverdueCount: m.overdue[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) setScore(userID int64, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[userID] = &entity.CreditScore{UserID: userID, Score: score, ExternalScores: entity.ExternalScores{}}
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
