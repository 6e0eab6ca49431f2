package user

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user/entity"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*entity.User
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]*entity.User{}}
}

func (m *memStore) get(id int64) entity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memStore) Create(ctx context.Context, u *entity.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if sameOptional(existing.Username, u.Username) || sameOptional(existing.Email, u.Email) {
			return 0, &pq.Error{Code: "23505", Constraint: "users_username_key"}
		}
	}
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	m.users[cp.ID] = &cp
	return cp.ID, nil
}

func sameOptional(a, b *string) bool {
	return a != nil && b != nil && strings.EqualFold(*a, *b)
}

func (m *memStore) find(match func(u *entity.User) bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Email != nil && strings.EqualFold(*u.Email, email) })
}

func (m *memStore) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Username != nil && *u.Username == username })
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.ID == id })
}

func (m *memStore) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entity.MinimalAuthView{ID: u.ID, UserType: u.UserType, Version: u.Version, Email: u.Email, EmailVerified: u.EmailVerified}, nil
}

func (m *memStore) List(ctx context.Context, f ListFilter) ([]*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.User
	for _, u := range m.users {
		if f.UserType != "" && u.UserType != f.UserType {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) AdminIDs(ctx context.Context) ([]int64, error) {
	users, _ := m.List(ctx, ListFilter{UserType: entity.TypeAdmin, Status: entity.StatusActive})
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (m *memStore) update(id int64, fn func(u *entity.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		fn(u)
	}
}

func (m *memStore) IncrementFailedLogin(ctx context.Context, id int64) (int, error) {
	var n int
	m.update(id, func(u *entity.User) {
		u.LoginFailedAttempts++
		n = u.LoginFailedAttempts
	})
	return n, nil
}

func (m *memStore) LockIfThreshold(ctx context.Context, id int64, threshold int, until time.Time) (bool, error) {
	locked := false
	m.update(id, func(u *entity.User) {
		if u.Status == entity.StatusActive && u.LoginFailedAttempts >= threshold {
			u.Status = entity.StatusLocked
			u.LockedUntil = &until
			locked = true
		}
	})
	return locked, nil
}

func (m *memStore) UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	unlocked := false
	m.update(id, func(u *entity.User) {
		if u.Status == entity.StatusLocked && u.LockedUntil != nil && u.LockedUntil.Before(now) {
			u.Status = entity.StatusActive
			u.LockedUntil = nil
			u.LoginFailedAttempts = 0
			unlocked = true
		}
	})
	return unlocked, nil
}

func (m *memStore) ResetLoginSuccess(ctx context.Context, id int64, at time.Time) error {
	m.update(id, func(u *entity.User) {
		u.LoginFailedAttempts = 0
		u.LastLoginAt = &at
		u.LockedUntil = nil
	})
	return nil
}

func (m *memStore) BumpVersion(ctx context.Context, id int64) error {
	m.update(id, func(u *entity.User) { u.Version++ })
	return nil
}

func (m *memStore) UpdatePassword(ctx context.Context, id int64, hash, algo string, bumpVersion bool) error {
	m.update(id, func(u *entity.User) {
		u.PasswordHash = &hash
		u.PasswordAlgo = &algo
		u.MustResetPassword = false
		if bumpVersion {
			u.Version++
		}
	})
	return nil
}

func (m *memStore) UpdateProfile(ctx context.Context, in *entity.User) error {
	m.update(in.ID, func(u *entity.User) {
		u.FirstName = in.FirstName
		u.LastName = in.LastName
		u.PhoneNumber = in.PhoneNumber
	})
	return nil
}

func (m *memStore) SetBorrowingLimit(ctx context.Context, id int64, limit int) error {
	m.update(id, func(u *entity.User) { u.MaxBooksAllowed = limit })
	return nil
}

func (m *memStore) Deactivate(ctx context.Context, id int64) error {
	m.update(id, func(u *entity.User) { u.Status = entity.StatusDisabled })
	return nil
}

func (m *memStore) Reactivate(ctx context.Context, id int64) error {
	m.update(id, func(u *entity.User) { u.Status = entity.StatusActive })
	return nil
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
