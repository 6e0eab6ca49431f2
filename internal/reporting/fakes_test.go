package reporting

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
	scoringentity "github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
)

// fakeStore returns canned aggregates and records writes.
type fakeStore struct {
	mu sync.Mutex

	users     map[int64]*entity.UserSummary
	borrowing entity.BorrowingSummary
	loans     []*entity.Loan
	overview  entity.Overview
	popular   []*entity.PopularBook
	cats      []entity.RankItem
	inventory []*entity.InventoryRow
	trend     []entity.TrendPoint
	counts    entity.DailyAnalytics

	loanFilters []LoanFilter
	windows     [][2]time.Time
	daily       map[time.Time]*entity.DailyAnalytics
	activity    []*entity.Activity
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[int64]*entity.UserSummary{},
		daily: map[time.Time]*entity.DailyAnalytics{},
	}
}

func (f *fakeStore) UserSummary(ctx context.Context, userID int64) (*entity.UserSummary, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) BorrowingSummary(ctx context.Context, userID int64, now, soon time.Time) (*entity.BorrowingSummary, error) {
	cp := f.borrowing
	return &cp, nil
}

func (f *fakeStore) Loans(ctx context.Context, flt LoanFilter) ([]*entity.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loanFilters = append(f.loanFilters, flt)
	var out []*entity.Loan
	for _, l := range f.loans {
		if flt.UserID > 0 && l.UserID != flt.UserID {
			continue
		}
		if len(flt.Statuses) > 0 && !contains(flt.Statuses, l.Status) {
			continue
		}
		if flt.DueBefore != nil && !l.DueDate.Before(*flt.DueBefore) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeStore) Overview(ctx context.Context, now, dayStart time.Time) (*entity.Overview, error) {
	cp := f.overview
	return &cp, nil
}

func (f *fakeStore) RecentActivity(ctx context.Context, limit int) ([]*entity.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*entity.Activity(nil), f.activity...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) PopularBooks(ctx context.Context, from, to time.Time, limit int) ([]*entity.PopularBook, error) {
	f.mu.Lock()
	f.windows = append(f.windows, [2]time.Time{from, to})
	f.mu.Unlock()
	out := f.popular
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CategoryCounts(ctx context.Context, from, to time.Time, limit int) ([]entity.RankItem, error) {
	out := f.cats
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Inventory(ctx context.Context) ([]*entity.InventoryRow, error) {
	out := make([]*entity.InventoryRow, 0, len(f.inventory))
	for _, r := range f.inventory {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) DailyBorrows(ctx context.Context, from, to time.Time) ([]entity.TrendPoint, error) {
	return f.trend, nil
}

func (f *fakeStore) ActiveBorrowers(ctx context.Context, from, to time.Time) (int, error) {
	return 4, nil
}

func (f *fakeStore) AverageDuration(ctx context.Context, from, to time.Time) (float64, error) {
	return 9.5, nil
}

func (f *fakeStore) DailyCounts(ctx context.Context, from, to, now time.Time) (*entity.DailyAnalytics, error) {
	cp := f.counts
	return &cp, nil
}

func (f *fakeStore) UpsertDaily(ctx context.Context, d *entity.DailyAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.daily[d.Date] = &cp
	return nil
}

func (f *fakeStore) ListDaily(ctx context.Context, from, to time.Time) ([]*entity.DailyAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.DailyAnalytics
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if row, ok := f.daily[d]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordActivity(ctx context.Context, a *entity.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = int64(len(f.activity) + 1)
	f.activity = append(f.activity, a)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeScores struct {
	score float64
	bonus int
}

func (f fakeScores) Get(ctx context.Context, userID int64) (*scoringentity.CreditScore, error) {
	return &scoringentity.CreditScore{UserID: userID, Score: f.score, ReliabilityRating: scoringentity.RatingGood}, nil
}

func (f fakeScores) BorrowingLimit(ctx context.Context, userID int64, baseLimit int) (int, error) {
	return baseLimit + f.bonus, nil
}

func loan(id string, userID int64, status string, due time.Time) *entity.Loan {
	return &entity.Loan{
		RecordID:    id,
		UserID:      userID,
		Username:    "user",
		BookID:      "book-" + id,
		Title:       "Title " + id,
		Status:      status,
		BorrowDate:  due.AddDate(0, 0, -14),
		DueDate:     due,
		LateFees:    decimal.Zero,
		MaxRenewals: 2,
	}
}
