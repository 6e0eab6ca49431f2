package repo

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

const recordColumns = `r.id, r.user_id, r.book_id, b.title AS book_title, r.borrow_date, r.due_date,
	r.return_date, r.status, r.late_fees, r.renewal_count, r.max_renewals, r.reminder_sent,
	r.notes, r.created_at, r.updated_at`

const recordFrom = ` FROM borrowing_records r JOIN books b ON b.id = r.book_id`

// LedgerRepo is the Postgres ledger store. Locks are SELECT ... FOR UPDATE
// taken inside the transaction opened by InTx.
type LedgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepo(db *sqlx.DB) *LedgerRepo { return &LedgerRepo{db: db} }

var _ ledger.Store = (*LedgerRepo)(nil)

// EnsureTable creates borrowing_records. It depends on users and books.
func (r *LedgerRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS borrowing_records (
  id TEXT PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  book_id TEXT NOT NULL REFERENCES books(id),
  borrow_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  due_date TIMESTAMPTZ NOT NULL,
  return_date TIMESTAMPTZ,
  status TEXT NOT NULL DEFAULT 'borrowed'
    CHECK (status IN ('borrowed','returned','overdue','renewed','lost')),
  late_fees NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (late_fees >= 0),
  renewal_count INT NOT NULL DEFAULT 0,
  max_renewals INT NOT NULL DEFAULT 2,
  reminder_sent BOOLEAN NOT NULL DEFAULT false,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CHECK (renewal_count >= 0 AND renewal_count <= max_renewals)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_borrowing_records_active
  ON borrowing_records(user_id, book_id) WHERE status IN ('borrowed','overdue','renewed');
CREATE INDEX IF NOT EXISTS idx_borrowing_records_user_status ON borrowing_records(user_id, status);
CREATE INDEX IF NOT EXISTS idx_borrowing_records_status_due ON borrowing_records(status, due_date);
CREATE INDEX IF NOT EXISTS idx_borrowing_records_book ON borrowing_records(book_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *LedgerRepo) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (r *LedgerRepo) Get(ctx context.Context, recordID string) (*entity.Record, error) {
	var rec entity.Record
	if err := r.db.GetContext(ctx, &rec, `SELECT `+recordColumns+recordFrom+` WHERE r.id=$1`, recordID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *LedgerRepo) List(ctx context.Context, f ledger.ListFilter) ([]*entity.Record, error) {
	q, args, err := listQuery(f).ToSQL()
	if err != nil {
		return nil, err
	}
	out := []*entity.Record{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func listQuery(f ledger.ListFilter) *goqu.SelectDataset {
	ds := goqu.Dialect("postgres").
		From(goqu.T("borrowing_records").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Prepared(true).
		Select(goqu.L(recordColumns)).
		Where(goqu.I("r.user_id").Eq(f.UserID))
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.I("r.status").In(statusStrings(f.Statuses)))
	}
	if f.DueBefore != nil {
		ds = ds.Where(goqu.I("r.due_date").Lt(*f.DueBefore))
	}
	if f.NewestFirst {
		ds = ds.Order(goqu.I("r.borrow_date").Desc(), goqu.I("r.id").Desc())
	} else {
		ds = ds.Order(goqu.I("r.due_date").Asc(), goqu.I("r.id").Asc())
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	return ds
}

const (
	overdueCandidatesSQL = `SELECT id FROM borrowing_records
		WHERE id > $2
		  AND ((status IN ('borrowed','renewed') AND due_date < $1)
		   OR (status = 'overdue' AND NOT reminder_sent))
		ORDER BY id LIMIT $3`
	lostCandidatesSQL = `SELECT id FROM borrowing_records
		WHERE id > $2 AND status = 'overdue' AND due_date < $1
		ORDER BY id LIMIT $3`
)

func (r *LedgerRepo) OverdueCandidates(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, overdueCandidatesSQL, now, after, limit)
	return ids, err
}

func (r *LedgerRepo) LostCandidates(ctx context.Context, cutoff time.Time, after string, limit int) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, lostCandidatesSQL, cutoff, after, limit)
	return ids, err
}

func (r *LedgerRepo) SetReminderSent(ctx context.Context, recordID string, sent bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE borrowing_records SET reminder_sent=$2, updated_at=NOW() WHERE id=$1`, recordID, sent)
	return err
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (int, error) {
	var base int
	err := t.tx.GetContext(ctx, &base, `SELECT max_books_allowed FROM users WHERE id=$1 FOR UPDATE`, userID)
	return base, err
}

func (t *pgTx) LockBook(ctx context.Context, bookID string) (*entity.BookRef, error) {
	var b entity.BookRef
	err := t.tx.GetContext(ctx, &b,
		`SELECT id, title, total_copies, available_copies, is_active FROM books WHERE id=$1 FOR UPDATE`, bookID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *pgTx) LockRecord(ctx context.Context, recordID string) (*entity.Record, error) {
	var rec entity.Record
	err := t.tx.GetContext(ctx, &rec, `SELECT `+recordColumns+recordFrom+` WHERE r.id=$1 FOR UPDATE OF r`, recordID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *pgTx) CountActive(ctx context.Context, userID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM borrowing_records WHERE user_id=$1 AND status = ANY($2)`,
		userID, pq.Array(statusStrings(entity.ActiveStatuses)))
	return n, err
}

func (t *pgTx) HasActive(ctx context.Context, userID int64, bookID string) (bool, error) {
	var ok bool
	err := t.tx.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM borrowing_records WHERE user_id=$1 AND book_id=$2 AND status = ANY($3))`,
		userID, bookID, pq.Array(statusStrings(entity.ActiveStatuses)))
	return ok, err
}

func (t *pgTx) InsertRecord(ctx context.Context, rec *entity.Record) error {
	const q = `INSERT INTO borrowing_records (id, user_id, book_id, borrow_date, due_date, return_date,
		status, late_fees, renewal_count, max_renewals, reminder_sent, notes, created_at, updated_at)
		VALUES (:id, :user_id, :book_id, :borrow_date, :due_date, :return_date,
		:status, :late_fees, :renewal_count, :max_renewals, :reminder_sent, :notes, :created_at, :updated_at)`
	_, err := t.tx.NamedExecContext(ctx, q, rec)
	return err
}

func (t *pgTx) UpdateRecord(ctx context.Context, rec *entity.Record) error {
	const q = `UPDATE borrowing_records SET due_date=:due_date, return_date=:return_date, status=:status,
		late_fees=:late_fees, renewal_count=:renewal_count, reminder_sent=:reminder_sent,
		notes=:notes, updated_at=:updated_at WHERE id=:id`
	_, err := t.tx.NamedExecContext(ctx, q, rec)
	return err
}

func (t *pgTx) SetBookCopies(ctx context.Context, bookID string, available, total int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE books SET available_copies=$2, total_copies=$3, updated_at=NOW() WHERE id=$1`,
		bookID, available, total)
	return err
}

func statusStrings(in []entity.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
