// Package reporting builds dashboards, admin reports and the daily
// analytics snapshot from the ledger and catalog tables.
package reporting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	ledgerentity "github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	dashboardRows    = 10
	dueSoonDays      = 3
	topN             = 10
	lowInventoryMax  = 2
	overdueAlertOver = 10
)

var activeStatuses = []string{
	string(ledgerentity.StatusBorrowed),
	string(ledgerentity.StatusOverdue),
	string(ledgerentity.StatusRenewed),
}

// Service composes Store aggregates into reports.
type Service struct {
	store  Store
	scores ScoreReader
	policy config.Circulation
	logger *zap.SugaredLogger

	Clock func() time.Time
}

func NewService(store Store, scores ScoreReader, policy config.Circulation, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  store,
		scores: scores,
		policy: policy,
		logger: logger,
		Clock:  func() time.Time { return time.Now().UTC() },
	}
}

// UserDashboard summarizes one user's account and loans.
func (s *Service) UserDashboard(ctx context.Context, userID int64) (*entity.UserDashboard, error) {
	now := s.Clock()
	summary, err := s.store.UserSummary(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user summary: %w", err)
	}
	cs, err := s.scores.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credit score: %w", err)
	}
	summary.CreditScore = cs.Score
	summary.Rating = cs.ReliabilityRating
	if summary.BorrowingLimit, err = s.scores.BorrowingLimit(ctx, userID, summary.BaseLimit); err != nil {
		return nil, fmt.Errorf("borrowing limit: %w", err)
	}

	borrowing, err := s.store.BorrowingSummary(ctx, userID, now, now.AddDate(0, 0, dueSoonDays))
	if err != nil {
		return nil, fmt.Errorf("borrowing summary: %w", err)
	}
	current, err := s.store.Loans(ctx, LoanFilter{UserID: userID, Statuses: activeStatuses})
	if err != nil {
		return nil, fmt.Errorf("current loans: %w", err)
	}
	history, err := s.store.Loans(ctx, LoanFilter{
		UserID:      userID,
		Statuses:    []string{string(ledgerentity.StatusReturned)},
		RecentFirst: true,
		Limit:       dashboardRows,
	})
	if err != nil {
		return nil, fmt.Errorf("loan history: %w", err)
	}

	borrowing.OutstandingFees = decimal.Zero
	for _, l := range current {
		s.annotate(l, now)
		if l.IsOverdue {
			fee := ledgerentity.LateFee(ledgerentity.DaysOverdue(l.DueDate, now), s.policy.MaxFeeDays, s.policy.LateFeePerDay)
			borrowing.OutstandingFees = borrowing.OutstandingFees.Add(fee)
		}
	}
	borrowing.CanBorrowMore = borrowing.CurrentBorrowed < summary.BorrowingLimit
	if len(current) > dashboardRows {
		current = current[:dashboardRows]
	}
	return &entity.UserDashboard{
		User:         *summary,
		Borrowing:    *borrowing,
		CurrentBooks: nonNil(current),
		History:      nonNil(history),
	}, nil
}

func (s *Service) annotate(l *entity.Loan, now time.Time) {
	l.DaysRemaining = calendarDays(now, l.DueDate)
	l.IsOverdue = l.Status == string(ledgerentity.StatusOverdue) || now.After(l.DueDate)
	l.CanRenew = !l.IsOverdue && l.RenewalCount < l.MaxRenewals
}

// AdminDashboard is the system overview with alerts and top books.
func (s *Service) AdminDashboard(ctx context.Context) (*entity.AdminDashboard, error) {
	now := s.Clock()
	dayStart := startOfDay(now)
	ov, err := s.store.Overview(ctx, now, dayStart)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	recent, err := s.store.RecentActivity(ctx, dashboardRows)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	top, err := s.store.PopularBooks(ctx, now.AddDate(0, 0, -30), now, 5)
	if err != nil {
		return nil, fmt.Errorf("top books: %w", err)
	}
	inv, err := s.store.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	totals := summarizeInventory(inv)
	return &entity.AdminDashboard{
		Overview:       *ov,
		Utilization:    totals.Utilization,
		RecentActivity: nonNil(recent),
		Alerts:         Alerts(*ov),
		TopBooks:       nonNil(top),
	}, nil
}

// Alerts flags inventory and overdue conditions worth an admin's attention.
func Alerts(ov entity.Overview) []entity.Alert {
	alerts := []entity.Alert{}
	if ov.LowInventory > 0 {
		alerts = append(alerts, entity.Alert{
			Type:     "warning",
			Message:  fmt.Sprintf("%d books have low inventory (<=%d copies)", ov.LowInventory, lowInventoryMax),
			Priority: "medium",
		})
	}
	if ov.OutOfStock > 0 {
		alerts = append(alerts, entity.Alert{
			Type:     "info",
			Message:  fmt.Sprintf("%d books are out of stock", ov.OutOfStock),
			Priority: "low",
		})
	}
	if ov.OverdueBooks > overdueAlertOver {
		alerts = append(alerts, entity.Alert{
			Type:     "error",
			Message:  fmt.Sprintf("%d books are overdue", ov.OverdueBooks),
			Priority: "high",
		})
	}
	return alerts
}

// PopularReport ranks books borrowed in the last days.
func (s *Service) PopularReport(ctx context.Context, days, limit int) (*entity.PopularReport, error) {
	if days <= 0 || days > 3650 || limit <= 0 || limit > 100 {
		return nil, fmt.Errorf("%w: days in 1..3650, limit in 1..100", ErrInvalidInput)
	}
	now := s.Clock()
	from := startOfDay(now).AddDate(0, 0, -days)
	books, err := s.store.PopularBooks(ctx, from, now, limit)
	if err != nil {
		return nil, fmt.Errorf("popular books: %w", err)
	}
	cats, err := s.store.CategoryCounts(ctx, from, now, 0)
	if err != nil {
		return nil, fmt.Errorf("category distribution: %w", err)
	}
	return &entity.PopularReport{
		Period:      entity.Period{Start: from, End: now, Days: days},
		Books:       nonNil(books),
		Categories:  nonNil(cats),
		GeneratedAt: now,
	}, nil
}

// InventoryReport lists copies per active book with utilization.
func (s *Service) InventoryReport(ctx context.Context) (*entity.InventoryReport, error) {
	rows, err := s.store.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	return &entity.InventoryReport{Totals: summarizeInventory(rows), Books: nonNil(rows), GeneratedAt: s.Clock()}, nil
}

// summarizeInventory fills the derived columns of rows and returns totals.
func summarizeInventory(rows []*entity.InventoryRow) entity.InventoryTotals {
	var t entity.InventoryTotals
	for _, r := range rows {
		r.BorrowedCopies = max(0, r.TotalCopies-r.AvailableCopies)
		r.OutOfStock = r.AvailableCopies == 0
		r.Utilization = percent(r.BorrowedCopies, r.TotalCopies)
		t.Books++
		t.TotalCopies += r.TotalCopies
		t.AvailableCopies += r.AvailableCopies
		t.BorrowedCopies += r.BorrowedCopies
		if r.OutOfStock {
			t.OutOfStock++
		}
	}
	t.Utilization = percent(t.BorrowedCopies, t.TotalCopies)
	return t
}

// OverdueReport groups every overdue loan by how late it is.
func (s *Service) OverdueReport(ctx context.Context) (*entity.OverdueReport, error) {
	now := s.Clock()
	loans, err := s.store.Loans(ctx, LoanFilter{Statuses: activeStatuses, DueBefore: &now})
	if err != nil {
		return nil, fmt.Errorf("overdue loans: %w", err)
	}
	rep := BuildOverdueReport(loans, now, s.policy)
	return rep, nil
}

var overdueBuckets = []string{"1-7_days", "8-14_days", "15-30_days", "over_30_days"}

func bucketFor(days int) string {
	switch {
	case days <= 7:
		return overdueBuckets[0]
	case days <= 14:
		return overdueBuckets[1]
	case days <= 30:
		return overdueBuckets[2]
	default:
		return overdueBuckets[3]
	}
}

// BuildOverdueReport computes fees as of now and ranks the ten users with
// the most overdue books.
func BuildOverdueReport(loans []*entity.Loan, now time.Time, policy config.Circulation) *entity.OverdueReport {
	rep := &entity.OverdueReport{
		Summary: entity.OverdueSummary{
			TotalLateFees: decimal.Zero,
			Buckets:       map[string]int{},
		},
		ByBucket:        map[string][]*entity.OverdueLoan{},
		RepeatOffenders: []entity.Offender{},
		GeneratedAt:     now,
	}
	for _, b := range overdueBuckets {
		rep.Summary.Buckets[b] = 0
		rep.ByBucket[b] = []*entity.OverdueLoan{}
	}
	offenders := map[int64]*entity.Offender{}
	for _, l := range loans {
		days := ledgerentity.DaysOverdue(l.DueDate, now)
		ol := &entity.OverdueLoan{
			Loan:        *l,
			DaysOverdue: days,
			LateFee:     ledgerentity.LateFee(days, policy.MaxFeeDays, policy.LateFeePerDay),
		}
		b := bucketFor(days)
		rep.ByBucket[b] = append(rep.ByBucket[b], ol)
		rep.Summary.Buckets[b]++
		rep.Summary.TotalOverdue++
		rep.Summary.TotalLateFees = rep.Summary.TotalLateFees.Add(ol.LateFee)

		o, ok := offenders[l.UserID]
		if !ok {
			o = &entity.Offender{UserID: l.UserID, Username: l.Username, Email: l.Email}
			offenders[l.UserID] = o
		}
		o.OverdueCount++
		o.TotalDaysOverdue += days
	}
	for _, o := range offenders {
		rep.RepeatOffenders = append(rep.RepeatOffenders, *o)
	}
	sort.Slice(rep.RepeatOffenders, func(i, j int) bool {
		a, b := rep.RepeatOffenders[i], rep.RepeatOffenders[j]
		if a.OverdueCount != b.OverdueCount {
			return a.OverdueCount > b.OverdueCount
		}
		if a.TotalDaysOverdue != b.TotalDaysOverdue {
			return a.TotalDaysOverdue > b.TotalDaysOverdue
		}
		return a.UserID < b.UserID
	})
	if len(rep.RepeatOffenders) > topN {
		rep.RepeatOffenders = rep.RepeatOffenders[:topN]
	}
	return rep
}

// PeriodDays maps a trend period name to its length in days.
func PeriodDays(period string) (int, error) {
	switch period {
	case "week":
		return 7, nil
	case "", "month":
		return 30, nil
	case "quarter":
		return 90, nil
	case "year":
		return 365, nil
	}
	return 0, fmt.Errorf("%w: period must be week, month, quarter or year", ErrInvalidInput)
}

// TrendReport shows daily borrowing and top titles for the period.
func (s *Service) TrendReport(ctx context.Context, period string) (*entity.TrendReport, error) {
	days, err := PeriodDays(period)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = "month"
	}
	now := s.Clock()
	from := startOfDay(now).AddDate(0, 0, -days)
	rep := &entity.TrendReport{Period: period, Range: entity.Period{Start: from, End: now, Days: days}}

	points, err := s.store.DailyBorrows(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("daily borrows: %w", err)
	}
	rep.Daily = FillDays(points, from, now)
	for _, p := range rep.Daily {
		rep.TotalBorrows += p.Count
	}
	if rep.Categories, err = s.store.CategoryCounts(ctx, from, now, topN); err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	rep.Categories = nonNil(rep.Categories)
	books, err := s.store.PopularBooks(ctx, from, now, topN)
	if err != nil {
		return nil, fmt.Errorf("books: %w", err)
	}
	rep.Books = nonNil(books)
	if rep.ActiveUsers, err = s.store.ActiveBorrowers(ctx, from, now); err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	if rep.AvgDurationDays, err = s.store.AverageDuration(ctx, from, now); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	return rep, nil
}

// FillDays returns one point per UTC day in [from, to], zero where points
// has no entry.
func FillDays(points []entity.TrendPoint, from, to time.Time) []entity.TrendPoint {
	counts := make(map[time.Time]int, len(points))
	for _, p := range points {
		counts[startOfDay(p.Day)] += p.Count
	}
	out := []entity.TrendPoint{}
	for d := startOfDay(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, entity.TrendPoint{Day: d, Count: counts[d]})
	}
	return out
}

// GenerateDailyAnalytics computes and stores the snapshot for date's UTC day.
func (s *Service) GenerateDailyAnalytics(ctx context.Context, date time.Time) (*entity.DailyAnalytics, error) {
	from := startOfDay(date)
	to := from.AddDate(0, 0, 1)
	d, err := s.store.DailyCounts(ctx, from, to, s.Clock())
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	d.Date = from
	d.TotalTransactions = d.BooksBorrowed + d.BooksReturned

	cats, err := s.store.CategoryCounts(ctx, from, to, topN)
	if err != nil {
		return nil, fmt.Errorf("daily categories: %w", err)
	}
	d.PopularCategories = entity.RankList(nonNil(cats))
	books, err := s.store.PopularBooks(ctx, from, to, topN)
	if err != nil {
		return nil, fmt.Errorf("daily books: %w", err)
	}
	d.PopularBooks = entity.RankList{}
	for _, b := range books {
		d.PopularBooks = append(d.PopularBooks, entity.RankItem{Name: b.Title, Author: b.Author, Count: b.BorrowCount})
	}
	d.UpdatedAt = s.Clock()
	if err := s.store.UpsertDaily(ctx, d); err != nil {
		return nil, fmt.Errorf("save daily analytics: %w", err)
	}
	s.logger.Infow("daily analytics generated",
		"date", from.Format(time.DateOnly),
		"borrowed", d.BooksBorrowed,
		"returned", d.BooksReturned,
		"active_users", d.ActiveUsers,
	)
	return d, nil
}

// DailyReport lists stored snapshots between two dates inclusive.
func (s *Service) DailyReport(ctx context.Context, from, to time.Time) ([]*entity.DailyAnalytics, error) {
	from, to = startOfDay(from), startOfDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from is after to", ErrInvalidInput)
	}
	out, err := s.store.ListDaily(ctx, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// calendarDays counts UTC day boundaries from a to b; negative when b is earlier.
func calendarDays(a, b time.Time) int {
	return int(startOfDay(b).Sub(startOfDay(a)) / (24 * time.Hour))
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
