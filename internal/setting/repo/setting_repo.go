package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting/entity"
)

// Repo is the repository implementation for settings backed by PostgreSQL.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a new Repo with an existing connection.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

var _ setting.Store = (*Repo)(nil)

// EnsureTable ensures the settings table and its index exist.
func (r *Repo) EnsureTable(ctx context.Context) error {
	// Check if table exists using to_regclass (Postgres). If it exists, skip creation.
	var tblName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.settings')").Scan(&tblName); err != nil {
		return err
	}
	if !tblName.Valid {
		const createTable = `CREATE TABLE settings (
			key varchar(64) PRIMARY KEY,
			category varchar(32) NOT NULL DEFAULT '',
			value text NOT NULL,
			version bigint NOT NULL DEFAULT 1,
			updated_by bigint REFERENCES users(id) ON DELETE SET NULL,
			updated_at timestamptz NOT NULL DEFAULT NOW()
		)`
		if _, err := r.db.ExecContext(ctx, createTable); err != nil {
			return err
		}
	}

	var idxName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.idx_settings_category')").Scan(&idxName); err != nil {
		return err
	}
	if !idxName.Valid {
		if _, err := r.db.ExecContext(ctx, `CREATE INDEX idx_settings_category ON settings (category)`); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) List(ctx context.Context, category string) ([]*entity.Setting, error) {
	var out []*entity.Setting
	err := r.db.SelectContext(ctx, &out,
		`SELECT key, category, value, version, updated_by, updated_at FROM settings WHERE category=$1 ORDER BY key`, category)
	return out, err
}

func (r *Repo) Get(ctx context.Context, key string) (*entity.Setting, error) {
	var st entity.Setting
	err := r.db.GetContext(ctx, &st,
		`SELECT key, category, value, version, updated_by, updated_at FROM settings WHERE key=$1`, key)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Repo) Insert(ctx context.Context, s *entity.Setting) error {
	const q = `INSERT INTO settings (key, category, value, version, updated_by, updated_at)
		VALUES (:key, :category, :value, :version, :updated_by, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, s)
	return err
}

// Update applies optimistic locking on version.
func (r *Repo) Update(ctx context.Context, s *entity.Setting, expected int64) (int64, error) {
	const q = `UPDATE settings SET value=$2, version=$3, updated_by=$4, updated_at=$5 WHERE key=$1 AND version=$6`
	res, err := r.db.ExecContext(ctx, q, s.Key, s.Value, s.Version, s.UpdatedBy, s.UpdatedAt, expected)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) Delete(ctx context.Context, key string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key=$1`, key)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
