package reporting

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
	scoringentity "github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
)

// LoanFilter selects borrowing records for dashboards and reports.
type LoanFilter struct {
	UserID   int64
	Statuses []string
	// DueBefore keeps records due strictly before the time.
	DueBefore *time.Time
	// RecentFirst orders by return date, then borrow date, descending;
	// otherwise by due date ascending.
	RecentFirst bool
	Limit       int
}

// Store runs the read-side aggregates. Windows are [from, to).
type Store interface {
	// UserSummary returns sql.ErrNoRows for unknown users.
	UserSummary(ctx context.Context, userID int64) (*entity.UserSummary, error)
	BorrowingSummary(ctx context.Context, userID int64, now, soon time.Time) (*entity.BorrowingSummary, error)
	Loans(ctx context.Context, f LoanFilter) ([]*entity.Loan, error)

	Overview(ctx context.Context, now, dayStart time.Time) (*entity.Overview, error)
	RecentActivity(ctx context.Context, limit int) ([]*entity.Activity, error)
	PopularBooks(ctx context.Context, from, to time.Time, limit int) ([]*entity.PopularBook, error)
	CategoryCounts(ctx context.Context, from, to time.Time, limit int) ([]entity.RankItem, error)
	Inventory(ctx context.Context) ([]*entity.InventoryRow, error)
	DailyBorrows(ctx context.Context, from, to time.Time) ([]entity.TrendPoint, error)
	ActiveBorrowers(ctx context.Context, from, to time.Time) (int, error)
	AverageDuration(ctx context.Context, from, to time.Time) (float64, error)

	// DailyCounts fills the counters of a snapshot for [from, to); overdue
	// books are counted as of now.
	DailyCounts(ctx context.Context, from, to, now time.Time) (*entity.DailyAnalytics, error)
	UpsertDaily(ctx context.Context, d *entity.DailyAnalytics) error
	ListDaily(ctx context.Context, from, to time.Time) ([]*entity.DailyAnalytics, error)

	RecordActivity(ctx context.Context, a *entity.Activity) error
}

// ScoreReader is the slice of the scoring service the dashboards use.
type ScoreReader interface {
	Get(ctx context.Context, userID int64) (*scoringentity.CreditScore, error)
	BorrowingLimit(ctx context.Context, userID int64, baseLimit int) (int, error)
}
