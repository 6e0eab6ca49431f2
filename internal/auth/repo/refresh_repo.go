package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
)

// RefreshRepo stores refresh sessions keyed by token hash.
type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS refresh_sessions (
  id BIGSERIAL PRIMARY KEY,
  token_hash TEXT NOT NULL UNIQUE,
  user_id BIGINT NOT NULL REFERENCES users(id),
  user_type TEXT NOT NULL DEFAULT '',
  version BIGINT NOT NULL DEFAULT 1,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_sessions_user ON refresh_sessions(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *RefreshRepo) Save(ctx context.Context, s *auth.RefreshSession) error {
	const q = `INSERT INTO refresh_sessions (token_hash, user_id, user_type, version, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	return r.db.QueryRowxContext(ctx, q, s.TokenHash, s.UserID, s.UserType, s.Version, s.ExpiresAt, s.CreatedAt).Scan(&s.ID)
}

func (r *RefreshRepo) Get(ctx context.Context, tokenHash string) (*auth.RefreshSession, error) {
	var s auth.RefreshSession
	const q = `SELECT id, token_hash, user_id, user_type, version, expires_at, created_at
		FROM refresh_sessions WHERE token_hash = $1`
	if err := r.db.GetContext(ctx, &s, q, tokenHash); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RefreshRepo) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteExpired removes sessions past their expiry.
func (r *RefreshRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
