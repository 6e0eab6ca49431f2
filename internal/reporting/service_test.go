package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(store *fakeStore) *Service {
	svc := NewService(store, fakeScores{score: 700, bonus: 2}, config.DefaultCirculation(), nil)
	svc.Clock = func() time.Time { return testNow }
	return svc
}

func TestBuildOverdueReport(t *testing.T) {
	day := 24 * time.Hour
	loans := []*entity.Loan{
		loan("a", 1, "overdue", testNow.Add(-3*day)),
		loan("b", 1, "overdue", testNow.Add(-10*day)),
		loan("c", 2, "borrowed", testNow.Add(-20*day)),
		loan("d", 1, "renewed", testNow.Add(-40*day)),
	}
	rep := BuildOverdueReport(loans, testNow, config.DefaultCirculation())

	assert.Equal(t, 4, rep.Summary.TotalOverdue)
	assert.True(t, decimal.RequireFromString("31.50").Equal(rep.Summary.TotalLateFees), rep.Summary.TotalLateFees.String())
	assert.Equal(t, map[string]int{"1-7_days": 1, "8-14_days": 1, "15-30_days": 1, "over_30_days": 1}, rep.Summary.Buckets)

	over := rep.ByBucket["over_30_days"]
	require.Len(t, over, 1)
	assert.Equal(t, 40, over[0].DaysOverdue)
	assert.Equal(t, "15.00", over[0].LateFee.StringFixed(2))

	require.Len(t, rep.RepeatOffenders, 2)
	assert.Equal(t, int64(1), rep.RepeatOffenders[0].UserID)
	assert.Equal(t, 3, rep.RepeatOffenders[0].OverdueCount)
	assert.Equal(t, 53, rep.RepeatOffenders[0].TotalDaysOverdue)
	assert.Equal(t, int64(2), rep.RepeatOffenders[1].UserID)
}

func TestBuildOverdueReportEmpty(t *testing.T) {
	rep := BuildOverdueReport(nil, testNow, config.DefaultCirculation())
	assert.Zero(t, rep.Summary.TotalOverdue)
	assert.Len(t, rep.ByBucket, 4)
	assert.NotNil(t, rep.RepeatOffenders)
}

func TestOverdueReportFiltersByDueDate(t *testing.T) {
	store := newFakeStore()
	store.loans = []*entity.Loan{
		loan("late", 1, "overdue", testNow.AddDate(0, 0, -2)),
		loan("fine", 1, "borrowed", testNow.AddDate(0, 0, 2)),
		loan("done", 1, "returned", testNow.AddDate(0, 0, -9)),
	}
	rep, err := newTestService(store).OverdueReport(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summary.TotalOverdue)
	assert.Equal(t, "late", rep.ByBucket["1-7_days"][0].RecordID)
}

func TestUserDashboard(t *testing.T) {
	store := newFakeStore()
	store.users[7] = &entity.UserSummary{UserID: 7, Name: "Ada Lovelace", UserType: "student", BaseLimit: 5}
	store.borrowing = entity.BorrowingSummary{CurrentBorrowed: 2, TotalBorrowed: 3, TotalLateFees: decimal.Zero}
	store.loans = []*entity.Loan{
		loan("soon", 7, "borrowed", testNow.AddDate(0, 0, 2)),
		loan("late", 7, "overdue", testNow.AddDate(0, 0, -5)),
		loan("old", 7, "returned", testNow.AddDate(0, 0, -30)),
		loan("other", 8, "borrowed", testNow.AddDate(0, 0, 2)),
	}

	d, err := newTestService(store).UserDashboard(t.Context(), 7)
	require.NoError(t, err)

	assert.Equal(t, 700.0, d.User.CreditScore)
	assert.Equal(t, 7, d.User.BorrowingLimit)
	assert.True(t, d.Borrowing.CanBorrowMore)
	assert.Equal(t, "2.50", d.Borrowing.OutstandingFees.StringFixed(2))

	require.Len(t, d.CurrentBooks, 2)
	assert.Equal(t, 2, d.CurrentBooks[0].DaysRemaining)
	assert.True(t, d.CurrentBooks[0].CanRenew)
	assert.True(t, d.CurrentBooks[1].IsOverdue)
	assert.False(t, d.CurrentBooks[1].CanRenew)

	require.Len(t, d.History, 1)
	assert.Equal(t, "old", d.History[0].RecordID)
	last := store.loanFilters[len(store.loanFilters)-1]
	assert.True(t, last.RecentFirst)
	assert.Equal(t, dashboardRows, last.Limit)
}

func TestUserDashboardAtLimit(t *testing.T) {
	store := newFakeStore()
	store.users[7] = &entity.UserSummary{UserID: 7, BaseLimit: 1}
	store.borrowing = entity.BorrowingSummary{CurrentBorrowed: 3}
	d, err := newTestService(store).UserDashboard(t.Context(), 7)
	require.NoError(t, err)
	assert.False(t, d.Borrowing.CanBorrowMore)
	assert.NotNil(t, d.CurrentBooks)
	assert.NotNil(t, d.History)
}

func TestUserDashboardUnknownUser(t *testing.T) {
	_, err := newTestService(newFakeStore()).UserDashboard(t.Context(), 99)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAlerts(t *testing.T) {
	assert.Empty(t, Alerts(entity.Overview{OverdueBooks: overdueAlertOver}))

	alerts := Alerts(entity.Overview{LowInventory: 3, OverdueBooks: 11})
	require.Len(t, alerts, 2)
	assert.Equal(t, "warning", alerts[0].Type)
	assert.Equal(t, "high", alerts[1].Priority)

	alerts = Alerts(entity.Overview{OutOfStock: 1})
	require.Len(t, alerts, 1)
	assert.Equal(t, "low", alerts[0].Priority)
}

func TestAdminDashboard(t *testing.T) {
	store := newFakeStore()
	store.overview = entity.Overview{TotalBooks: 2, LowInventory: 1}
	store.inventory = []*entity.InventoryRow{
		{BookID: "a", TotalCopies: 4, AvailableCopies: 1},
		{BookID: "b", TotalCopies: 1, AvailableCopies: 1},
	}
	store.popular = []*entity.PopularBook{{BookID: "a", BorrowCount: 3}}

	d, err := newTestService(store).AdminDashboard(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 60.0, d.Utilization)
	assert.Len(t, d.Alerts, 1)
	assert.Len(t, d.TopBooks, 1)
	assert.NotNil(t, d.RecentActivity)
	assert.Equal(t, testNow.AddDate(0, 0, -30), store.windows[0][0])
}

func TestSummarizeInventory(t *testing.T) {
	rows := []*entity.InventoryRow{
		{BookID: "a", TotalCopies: 10, AvailableCopies: 4},
		{BookID: "b", TotalCopies: 2, AvailableCopies: 0},
	}
	totals := summarizeInventory(rows)

	assert.Equal(t, entity.InventoryTotals{
		Books:           2,
		TotalCopies:     12,
		AvailableCopies: 4,
		BorrowedCopies:  8,
		OutOfStock:      1,
		Utilization:     66.67,
	}, totals)
	assert.Equal(t, 6, rows[0].BorrowedCopies)
	assert.Equal(t, 60.0, rows[0].Utilization)
	assert.True(t, rows[1].OutOfStock)
	assert.Equal(t, 100.0, rows[1].Utilization)
}

func TestSummarizeInventoryEmpty(t *testing.T) {
	assert.Zero(t, summarizeInventory(nil).Utilization)
}

func TestPopularReportValidation(t *testing.T) {
	svc := newTestService(newFakeStore())
	for _, tc := range []struct{ days, limit int }{{0, 10}, {3651, 10}, {30, 0}, {30, 101}} {
		_, err := svc.PopularReport(t.Context(), tc.days, tc.limit)
		assert.ErrorIs(t, err, ErrInvalidInput, "days=%d limit=%d", tc.days, tc.limit)
	}
}

func TestPopularReport(t *testing.T) {
	store := newFakeStore()
	store.popular = []*entity.PopularBook{{BookID: "a"}, {BookID: "b"}, {BookID: "c"}}
	rep, err := newTestService(store).PopularReport(t.Context(), 7, 2)
	require.NoError(t, err)
	assert.Len(t, rep.Books, 2)
	assert.NotNil(t, rep.Categories)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), rep.Period.Start)
	assert.Equal(t, 7, rep.Period.Days)
}

func TestPeriodDays(t *testing.T) {
	cases := map[string]int{"week": 7, "": 30, "month": 30, "quarter": 90, "year": 365}
	for period, want := range cases {
		got, err := PeriodDays(period)
		require.NoError(t, err)
		assert.Equal(t, want, got, period)
	}
	_, err := PeriodDays("decade")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFillDays(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	points := []entity.TrendPoint{
		{Day: from.AddDate(0, 0, 1), Count: 3},
		{Day: from.AddDate(0, 0, 3).In(time.FixedZone("", 0)), Count: 2},
	}
	out := FillDays(points, from, to)
	require.Len(t, out, 5)
	counts := make([]int, len(out))
	for i, p := range out {
		counts[i] = p.Count
	}
	assert.Equal(t, []int{0, 3, 0, 2, 0}, counts)
	assert.Equal(t, from, out[0].Day)
}

func TestTrendReport(t *testing.T) {
	store := newFakeStore()
	store.trend = []entity.TrendPoint{
		{Day: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Count: 2},
		{Day: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), Count: 5},
	}
	rep, err := newTestService(store).TrendReport(t.Context(), "week")
	require.NoError(t, err)
	assert.Equal(t, "week", rep.Period)
	assert.Len(t, rep.Daily, 8)
	assert.Equal(t, 7, rep.TotalBorrows)
	assert.Equal(t, 4, rep.ActiveUsers)
	assert.Equal(t, 9.5, rep.AvgDurationDays)

	rep, err = newTestService(store).TrendReport(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, "month", rep.Period)

	_, err = newTestService(store).TrendReport(t.Context(), "hour")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGenerateDailyAnalytics(t *testing.T) {
	store := newFakeStore()
	store.counts = entity.DailyAnalytics{BooksBorrowed: 4, BooksReturned: 3, ActiveUsers: 2, LateFeesCollected: decimal.RequireFromString("1.50")}
	store.cats = []entity.RankItem{{Name: "Science", Count: 4}}
	store.popular = []*entity.PopularBook{{BookID: "a", Title: "Dune", Author: "Herbert", BorrowCount: 2}}
	svc := newTestService(store)

	d, err := svc.GenerateDailyAnalytics(t.Context(), time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day, d.Date)
	assert.Equal(t, 7, d.TotalTransactions)
	assert.Equal(t, entity.RankList{{Name: "Dune", Author: "Herbert", Count: 2}}, d.PopularBooks)
	assert.Equal(t, entity.RankList{{Name: "Science", Count: 4}}, d.PopularCategories)

	// regenerating the same day overwrites the snapshot
	store.counts.BooksBorrowed = 6
	_, err = svc.GenerateDailyAnalytics(t.Context(), day)
	require.NoError(t, err)

	rows, err := svc.DailyReport(t.Context(), day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 6, rows[0].BooksBorrowed)
	assert.Equal(t, 9, rows[0].TotalTransactions)
}

func TestDailyReportRange(t *testing.T) {
	svc := newTestService(newFakeStore())
	rows, err := svc.DailyReport(t.Context(), testNow.AddDate(0, 0, -3), testNow)
	require.NoError(t, err)
	assert.NotNil(t, rows)

	_, err = svc.DailyReport(t.Context(), testNow, testNow.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestActivityRecordedFromEvents(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	bus := event.NewBus(nil)
	svc.RegisterHandlers(bus)

	ev := event.New(event.BookReturned, 9, testNow)
	ev.Record = &event.RecordPayload{
		RecordID:    "r1",
		BookID:      "b1",
		BookTitle:   "Dune",
		DueDate:     testNow.AddDate(0, 0, -2),
		DaysOverdue: 2,
		LateFee:     decimal.RequireFromString("1"),
	}
	require.NoError(t, bus.Publish(t.Context(), ev))
	require.NoError(t, bus.Publish(t.Context(), event.New(event.UserLoggedIn, 9, testNow)))
	require.NoError(t, bus.Publish(t.Context(), event.New(event.ScoreChanged, 9, testNow)))

	require.Len(t, store.activity, 2)
	ret := store.activity[0]
	assert.Equal(t, entity.ActionReturn, ret.Action)
	assert.Equal(t, int64(9), ret.UserID)
	assert.Equal(t, "1.00", ret.Details["late_fee"])
	assert.Equal(t, 2, ret.Details["days_overdue"])
	assert.Equal(t, "Dune", ret.Details["book_title"])
	assert.Equal(t, entity.ActionLogin, store.activity[1].Action)
	assert.Empty(t, store.activity[1].Details)
}
