package repo

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
)

// active borrowing statuses as a SQL list
const activeSQL = `('borrowed','overdue','renewed')`

var dialect = goqu.Dialect("postgres")

// ReportRepo runs read-side aggregates and owns the activity log and
// daily analytics tables.
type ReportRepo struct {
	db *sqlx.DB
}

func NewReportRepo(db *sqlx.DB) *ReportRepo { return &ReportRepo{db: db} }

var _ reporting.Store = (*ReportRepo)(nil)

// EnsureTable creates activity_log and daily_analytics. It depends on users.
func (r *ReportRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS activity_log (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  action TEXT NOT NULL,
  details JSONB NOT NULL DEFAULT '{}'::jsonb,
  occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activity_log_action_time ON activity_log(action, occurred_at);
CREATE INDEX IF NOT EXISTS idx_activity_log_user ON activity_log(user_id, occurred_at DESC);
CREATE TABLE IF NOT EXISTS daily_analytics (
  date DATE PRIMARY KEY,
  total_users INT NOT NULL DEFAULT 0,
  active_users INT NOT NULL DEFAULT 0,
  new_registrations INT NOT NULL DEFAULT 0,
  total_books INT NOT NULL DEFAULT 0,
  available_books INT NOT NULL DEFAULT 0,
  books_borrowed INT NOT NULL DEFAULT 0,
  books_returned INT NOT NULL DEFAULT 0,
  total_transactions INT NOT NULL DEFAULT 0,
  overdue_books INT NOT NULL DEFAULT 0,
  late_fees_collected NUMERIC(10,2) NOT NULL DEFAULT 0,
  popular_categories JSONB NOT NULL DEFAULT '[]'::jsonb,
  popular_books JSONB NOT NULL DEFAULT '[]'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *ReportRepo) UserSummary(ctx context.Context, userID int64) (*entity.UserSummary, error) {
	const q = `SELECT id AS user_id,
		COALESCE(NULLIF(TRIM(first_name || ' ' || last_name), ''), username, email::text, '') AS name,
		user_type, created_at AS member_since, email_verified, max_books_allowed AS base_limit
		FROM users WHERE id=$1`
	var s entity.UserSummary
	if err := r.db.GetContext(ctx, &s, q, userID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ReportRepo) BorrowingSummary(ctx context.Context, userID int64, now, soon time.Time) (*entity.BorrowingSummary, error) {
	const q = `SELECT
		COUNT(*) FILTER (WHERE status IN ` + activeSQL + `) AS current_borrowed,
		COUNT(*) AS total_borrowed,
		COUNT(*) FILTER (WHERE status IN ` + activeSQL + ` AND due_date < $2) AS overdue_books,
		COUNT(*) FILTER (WHERE status IN ('borrowed','renewed') AND due_date >= $2 AND due_date <= $3) AS due_soon,
		COALESCE(SUM(late_fees), 0) AS total_late_fees
		FROM borrowing_records WHERE user_id=$1`
	var s entity.BorrowingSummary
	if err := r.db.GetContext(ctx, &s, q, userID, now, soon); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ReportRepo) Loans(ctx context.Context, f reporting.LoanFilter) ([]*entity.Loan, error) {
	return selectAll[*entity.Loan](ctx, r.db, loansQuery(f))
}

const loanColumns = `r.id AS record_id, r.user_id, COALESCE(u.username, '') AS username,
	COALESCE(u.email::text, '') AS email, r.book_id, b.title, b.author, b.isbn, r.status,
	r.borrow_date, r.due_date, r.return_date, r.late_fees, r.renewal_count, r.max_renewals,
	r.reminder_sent`

func loansQuery(f reporting.LoanFilter) *goqu.SelectDataset {
	ds := dialect.From(goqu.T("borrowing_records").As("r")).
		Prepared(true).
		Select(goqu.L(loanColumns)).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.user_id"))))
	if f.UserID > 0 {
		ds = ds.Where(goqu.I("r.user_id").Eq(f.UserID))
	}
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.I("r.status").In(f.Statuses))
	}
	if f.DueBefore != nil {
		ds = ds.Where(goqu.I("r.due_date").Lt(*f.DueBefore))
	}
	if f.RecentFirst {
		ds = ds.Order(goqu.I("r.return_date").Desc().NullsLast(), goqu.I("r.borrow_date").Desc(), goqu.I("r.id").Desc())
	} else {
		ds = ds.Order(goqu.I("r.due_date").Asc(), goqu.I("r.id").Asc())
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	return ds
}

func (r *ReportRepo) Overview(ctx context.Context, now, dayStart time.Time) (*entity.Overview, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM users WHERE status='active') AS total_users,
		(SELECT COUNT(*) FROM books WHERE is_active) AS total_books,
		(SELECT COUNT(*) FROM books WHERE is_active AND available_copies > 0) AS available_books,
		(SELECT COUNT(*) FROM borrowing_records WHERE status IN ` + activeSQL + `) AS current_borrows,
		(SELECT COUNT(*) FROM borrowing_records WHERE status IN ` + activeSQL + ` AND due_date < $1) AS overdue_books,
		(SELECT COUNT(*) FROM books WHERE is_active AND available_copies BETWEEN 1 AND 2) AS low_inventory,
		(SELECT COUNT(*) FROM books WHERE is_active AND available_copies = 0) AS out_of_stock,
		(SELECT COUNT(*) FROM users WHERE created_at >= $2) AS new_users_today`
	var o entity.Overview
	if err := r.db.GetContext(ctx, &o, q, now, dayStart); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *ReportRepo) RecentActivity(ctx context.Context, limit int) ([]*entity.Activity, error) {
	const q = `SELECT a.id, a.user_id, COALESCE(u.username, '') AS username, a.action, a.details, a.occurred_at
		FROM activity_log a JOIN users u ON u.id = a.user_id
		ORDER BY a.occurred_at DESC, a.id DESC LIMIT $1`
	out := []*entity.Activity{}
	err := r.db.SelectContext(ctx, &out, q, limit)
	return out, err
}

func (r *ReportRepo) PopularBooks(ctx context.Context, from, to time.Time, limit int) ([]*entity.PopularBook, error) {
	return selectAll[*entity.PopularBook](ctx, r.db, popularQuery(from, to, limit))
}

func popularQuery(from, to time.Time, limit int) *goqu.SelectDataset {
	ds := dialect.From(goqu.T("borrowing_records").As("r")).
		Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		LeftJoin(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("b.category_id")))).
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.title"),
			goqu.I("b.author"),
			goqu.I("b.isbn"),
			goqu.COALESCE(goqu.I("c.name"), "").As("category"),
			goqu.COUNT(goqu.I("r.id")).As("borrow_count"),
			goqu.COUNT(goqu.DISTINCT(goqu.I("r.user_id"))).As("unique_users"),
			goqu.L(`COALESCE(ROUND((AVG(EXTRACT(EPOCH FROM (r.return_date - r.borrow_date)) / 86400)
				FILTER (WHERE r.return_date IS NOT NULL))::numeric, 2), 0)`).As("avg_duration_days"),
		).
		Where(
			goqu.I("r.borrow_date").Gte(from),
			goqu.I("r.borrow_date").Lt(to),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.isbn"), goqu.I("c.name")).
		Order(goqu.I("borrow_count").Desc(), goqu.I("b.id").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return ds
}

func (r *ReportRepo) CategoryCounts(ctx context.Context, from, to time.Time, limit int) ([]entity.RankItem, error) {
	return selectAll[entity.RankItem](ctx, r.db, categoryQuery(from, to, limit))
}

func categoryQuery(from, to time.Time, limit int) *goqu.SelectDataset {
	ds := dialect.From(goqu.T("borrowing_records").As("r")).
		Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("b.category_id")))).
		Select(goqu.I("c.name").As("name"), goqu.COUNT(goqu.I("r.id")).As("count")).
		Where(
			goqu.I("r.borrow_date").Gte(from),
			goqu.I("r.borrow_date").Lt(to),
		).
		GroupBy(goqu.I("c.name")).
		Order(goqu.I("count").Desc(), goqu.I("c.name").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return ds
}

func (r *ReportRepo) Inventory(ctx context.Context) ([]*entity.InventoryRow, error) {
	const q = `SELECT b.id AS book_id, b.title, COALESCE(c.name, '') AS category, b.total_copies, b.available_copies
		FROM books b LEFT JOIN categories c ON c.id = b.category_id
		WHERE b.is_active ORDER BY b.title, b.id`
	out := []*entity.InventoryRow{}
	err := r.db.SelectContext(ctx, &out, q)
	return out, err
}

func (r *ReportRepo) DailyBorrows(ctx context.Context, from, to time.Time) ([]entity.TrendPoint, error) {
	const q = `SELECT date_trunc('day', borrow_date AT TIME ZONE 'UTC') AS day, COUNT(*) AS count
		FROM borrowing_records WHERE borrow_date >= $1 AND borrow_date < $2
		GROUP BY 1 ORDER BY 1`
	out := []entity.TrendPoint{}
	err := r.db.SelectContext(ctx, &out, q, from, to)
	return out, err
}

func (r *ReportRepo) ActiveBorrowers(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(DISTINCT user_id) FROM borrowing_records WHERE borrow_date >= $1 AND borrow_date < $2`, from, to)
	return n, err
}

func (r *ReportRepo) AverageDuration(ctx context.Context, from, to time.Time) (float64, error) {
	const q = `SELECT COALESCE(ROUND((AVG(EXTRACT(EPOCH FROM (return_date - borrow_date)) / 86400))::numeric, 2), 0)
		FROM borrowing_records WHERE return_date IS NOT NULL AND return_date >= $1 AND return_date < $2`
	var v float64
	err := r.db.GetContext(ctx, &v, q, from, to)
	return v, err
}

func (r *ReportRepo) DailyCounts(ctx context.Context, from, to, now time.Time) (*entity.DailyAnalytics, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM users WHERE status='active') AS total_users,
		(SELECT COUNT(DISTINCT user_id) FROM activity_log
			WHERE action='login' AND occurred_at >= $1 AND occurred_at < $2) AS active_users,
		(SELECT COUNT(*) FROM users WHERE created_at >= $1 AND created_at < $2) AS new_registrations,
		(SELECT COUNT(*) FROM books WHERE is_active) AS total_books,
		(SELECT COUNT(*) FROM books WHERE is_active AND available_copies > 0) AS available_books,
		(SELECT COUNT(*) FROM borrowing_records WHERE borrow_date >= $1 AND borrow_date < $2) AS books_borrowed,
		(SELECT COUNT(*) FROM borrowing_records WHERE return_date >= $1 AND return_date < $2) AS books_returned,
		(SELECT COUNT(*) FROM borrowing_records WHERE status IN ` + activeSQL + ` AND due_date < $3) AS overdue_books,
		(SELECT COALESCE(SUM(late_fees), 0) FROM borrowing_records
			WHERE return_date >= $1 AND return_date < $2) AS late_fees_collected`
	var d entity.DailyAnalytics
	if err := r.db.GetContext(ctx, &d, q, from, to, now); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *ReportRepo) UpsertDaily(ctx context.Context, d *entity.DailyAnalytics) error {
	const q = `INSERT INTO daily_analytics (date, total_users, active_users, new_registrations, total_books,
		available_books, books_borrowed, books_returned, total_transactions, overdue_books,
		late_fees_collected, popular_categories, popular_books, updated_at)
		VALUES (:date, :total_users, :active_users, :new_registrations, :total_books,
		:available_books, :books_borrowed, :books_returned, :total_transactions, :overdue_books,
		:late_fees_collected, :popular_categories, :popular_books, :updated_at)
		ON CONFLICT (date) DO UPDATE SET
		total_users=EXCLUDED.total_users, active_users=EXCLUDED.active_users,
		new_registrations=EXCLUDED.new_registrations, total_books=EXCLUDED.total_books,
		available_books=EXCLUDED.available_books, books_borrowed=EXCLUDED.books_borrowed,
		books_returned=EXCLUDED.books_returned, total_transactions=EXCLUDED.total_transactions,
		overdue_books=EXCLUDED.overdue_books, late_fees_collected=EXCLUDED.late_fees_collected,
		popular_categories=EXCLUDED.popular_categories, popular_books=EXCLUDED.popular_books,
		updated_at=EXCLUDED.updated_at`
	_, err := r.db.NamedExecContext(ctx, q, d)
	return err
}

func (r *ReportRepo) ListDaily(ctx context.Context, from, to time.Time) ([]*entity.DailyAnalytics, error) {
	const q = `SELECT date, total_users, active_users, new_registrations, total_books, available_books,
		books_borrowed, books_returned, total_transactions, overdue_books, late_fees_collected,
		popular_categories, popular_books, updated_at
		FROM daily_analytics WHERE date >= $1 AND date < $2 ORDER BY date`
	out := []*entity.DailyAnalytics{}
	err := r.db.SelectContext(ctx, &out, q, from, to)
	return out, err
}

func (r *ReportRepo) RecordActivity(ctx context.Context, a *entity.Activity) error {
	const q = `INSERT INTO activity_log (user_id, action, details, occurred_at) VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.db.GetContext(ctx, &a.ID, q, a.UserID, a.Action, a.Details, a.OccurredAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		// the user row is gone; nothing to log against
		return nil
	}
	return err
}

func selectAll[T any](ctx context.Context, db *sqlx.DB, ds *goqu.SelectDataset) ([]T, error) {
	q, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}
