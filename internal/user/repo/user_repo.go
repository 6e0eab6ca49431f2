package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user/entity"
)

const userColumns = `id, username, email, email_verified, first_name, last_name, phone_number,
	password_hash, password_algo, password_updated_at, must_reset_password,
	status, login_failed_attempts, locked_until, last_login_at, user_type,
	max_books_allowed, version, created_at, updated_at, deactivated_at`

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

var _ user.Store = (*UserRepo)(nil)

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT UNIQUE,
  email CITEXT UNIQUE,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  phone_number TEXT,
  password_hash TEXT,
  password_algo TEXT,
  password_updated_at TIMESTAMPTZ,
  must_reset_password BOOLEAN NOT NULL DEFAULT false,
  status TEXT NOT NULL DEFAULT 'active',
  login_failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  last_login_at TIMESTAMPTZ,
  user_type TEXT NOT NULL DEFAULT 'student'
    CHECK (user_type IN ('student','faculty','staff','admin')),
  max_books_allowed INT NOT NULL DEFAULT 5 CHECK (max_books_allowed > 0),
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deactivated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_users_user_type ON users(user_type);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (username,email,email_verified,first_name,last_name,phone_number,
		password_hash,password_algo,password_updated_at,must_reset_password,status,user_type,max_books_allowed,version)
		VALUES (:username,:email,:email_verified,:first_name,:last_name,:phone_number,
		:password_hash,:password_algo,NOW(),:must_reset_password,:status,:user_type,:max_books_allowed,:version)
		RETURNING id, created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("no id returned")
}

func (r *UserRepo) getBy(ctx context.Context, column string, arg any) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE `+column+`=$1`, arg); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByEmail returns a user matched by email (case-insensitive due to citext) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetMinimalAuthView returns only the fields needed for token claim hydration.
func (r *UserRepo) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	const q = `SELECT id, user_type, version, email, email_verified FROM users WHERE id=$1`
	var v entity.MinimalAuthView
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *UserRepo) List(ctx context.Context, f user.ListFilter) ([]*entity.User, error) {
	q, args, err := listQuery(f).ToSQL()
	if err != nil {
		return nil, err
	}
	var out []*entity.User
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func listQuery(f user.ListFilter) *goqu.SelectDataset {
	ds := goqu.Dialect("postgres").
		From("users").
		Prepared(true).
		Select(goqu.L(userColumns)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc())
	if f.UserType != "" {
		ds = ds.Where(goqu.C("user_type").Eq(f.UserType))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("username").ILike(like),
			goqu.L("email::text").ILike(like),
			goqu.C("first_name").ILike(like),
			goqu.C("last_name").ILike(like),
		))
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	return ds
}

// AdminIDs lists active administrators.
func (r *UserRepo) AdminIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE user_type='admin' AND status='active' ORDER BY id`)
	return ids, err
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id int64) (int, error) {
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold locks the user if attempts >= threshold and currently active.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id int64, threshold int, until time.Time) (bool, error) {
	const q = `UPDATE users SET status='locked', locked_until=$2, updated_at=NOW()
              WHERE id=$1 AND status='active' AND login_failed_attempts >= $3 RETURNING 1`
	return r.flag(ctx, q, id, until, threshold)
}

// UnlockIfExpired sets status back to active if locked_until passed.
func (r *UserRepo) UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	const q = `UPDATE users SET status='active', locked_until=NULL, login_failed_attempts=0, updated_at=NOW()
               WHERE id=$1 AND status='locked' AND locked_until IS NOT NULL AND locked_until < $2 RETURNING 1`
	return r.flag(ctx, q, id, now)
}

func (r *UserRepo) flag(ctx context.Context, q string, args ...any) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=$2, locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return err
}

// BumpVersion increments version for token invalidation.
func (r *UserRepo) BumpVersion(ctx context.Context, id int64) error {
	const q = `UPDATE users SET version = version + 1, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// UpdatePassword updates password hash & algo and bumps version (optional) for security.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash, algo string, bumpVersion bool) error {
	if bumpVersion {
		const q = `UPDATE users SET password_hash=$2, password_algo=$3, password_updated_at=NOW(), version=version+1, updated_at=NOW(), must_reset_password=false WHERE id=$1`
		_, err := r.db.ExecContext(ctx, q, id, hash, algo)
		return err
	}
	const q = `UPDATE users SET password_hash=$2, password_algo=$3, password_updated_at=NOW(), updated_at=NOW(), must_reset_password=false WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash, algo)
	return err
}

func (r *UserRepo) UpdateProfile(ctx context.Context, u *entity.User) error {
	const q = `UPDATE users SET first_name=:first_name, last_name=:last_name, phone_number=:phone_number, updated_at=NOW() WHERE id=:id`
	_, err := r.db.NamedExecContext(ctx, q, u)
	return err
}

func (r *UserRepo) SetBorrowingLimit(ctx context.Context, id int64, limit int) error {
	const q = `UPDATE users SET max_books_allowed=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, limit)
	return err
}

// Deactivate marks a user as disabled.
func (r *UserRepo) Deactivate(ctx context.Context, id int64) error {
	const q = `UPDATE users SET status='disabled', deactivated_at=NOW(), updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// Reactivate resets a disabled user to active.
func (r *UserRepo) Reactivate(ctx context.Context, id int64) error {
	const q = `UPDATE users SET status='active', deactivated_at=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
