package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

const scoreColumns = `user_id, score, on_time_returns, late_returns, total_books_borrowed,
	average_return_delay, reliability_rating, max_books_allowed, external_scores,
	composite_score, system_privileges, last_cross_sync, last_calculated`

type ScoreRepo struct {
	db *sqlx.DB
}

func NewScoreRepo(db *sqlx.DB) *ScoreRepo { return &ScoreRepo{db: db} }

var _ scoring.Store = (*ScoreRepo)(nil)

// EnsureTable creates credit_scores. It depends on users.
func (r *ScoreRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS credit_scores (
  user_id BIGINT PRIMARY KEY REFERENCES users(id),
  score NUMERIC(6,2) NOT NULL DEFAULT 750 CHECK (score >= 0 AND score <= 1000),
  on_time_returns INT NOT NULL DEFAULT 0,
  late_returns INT NOT NULL DEFAULT 0,
  total_books_borrowed INT NOT NULL DEFAULT 0,
  average_return_delay DOUBLE PRECISION NOT NULL DEFAULT 0,
  reliability_rating TEXT NOT NULL DEFAULT 'Good',
  max_books_allowed INT NOT NULL DEFAULT 10,
  external_scores JSONB NOT NULL DEFAULT '{}'::jsonb,
  composite_score NUMERIC(6,2) NOT NULL DEFAULT 750,
  system_privileges JSONB NOT NULL DEFAULT '{}'::jsonb,
  last_cross_sync TIMESTAMPTZ,
  last_calculated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_credit_scores_score ON credit_scores(score);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *ScoreRepo) Get(ctx context.Context, userID int64) (*entity.CreditScore, error) {
	var cs entity.CreditScore
	if err := r.db.GetContext(ctx, &cs, `SELECT `+scoreColumns+` FROM credit_scores WHERE user_id=$1`, userID); err != nil {
		return nil, err
	}
	return &cs, nil
}

const (
	insertScoreSQL = `INSERT INTO credit_scores (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	lockScoreSQL   = `SELECT ` + scoreColumns + ` FROM credit_scores WHERE user_id=$1 FOR UPDATE`
	saveScoreSQL   = `UPDATE credit_scores SET
		  score=:score, on_time_returns=:on_time_returns, late_returns=:late_returns,
		  total_books_borrowed=:total_books_borrowed, average_return_delay=:average_return_delay,
		  reliability_rating=:reliability_rating, max_books_allowed=:max_books_allowed,
		  external_scores=:external_scores, composite_score=:composite_score,
		  system_privileges=:system_privileges, last_cross_sync=:last_cross_sync,
		  last_calculated=:last_calculated
		WHERE user_id=:user_id`
)

// Update inserts a default row when none exists, then holds the row lock
// while fn runs so recomputes and external syncs serialize per user.
func (r *ScoreRepo) Update(ctx context.Context, userID int64, fn func(cs *entity.CreditScore) error) (*entity.CreditScore, error) {
	var out *entity.CreditScore
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, insertScoreSQL, userID)
		if err != nil {
			return fmt.Errorf("insert credit score: %w", err)
		}
		created, err := res.RowsAffected()
		if err != nil {
			return err
		}
		var cs entity.CreditScore
		if err := tx.GetContext(ctx, &cs, lockScoreSQL, userID); err != nil {
			return fmt.Errorf("lock credit score: %w", err)
		}
		cs.Persisted = created == 0
		if err := fn(&cs); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, saveScoreSQL, &cs); err != nil {
			return fmt.Errorf("update credit score: %w", err)
		}
		out = &cs
		return nil
	})
	return out, err
}

func (r *ScoreRepo) ReturnWindows(ctx context.Context, userID int64) ([]scoring.ReturnWindow, error) {
	out := []scoring.ReturnWindow{}
	err := r.db.SelectContext(ctx, &out, `SELECT due_date, return_date FROM borrowing_records
		WHERE user_id=$1 AND status='returned' AND return_date IS NOT NULL`, userID)
	return out, err
}

func (r *ScoreRepo) ScoredUserIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM credit_scores
		UNION SELECT DISTINCT user_id FROM borrowing_records
		ORDER BY 1`)
	return ids, err
}

func (r *ScoreRepo) AtRiskCandidates(ctx context.Context, lo, hi float64) ([]scoring.AtRiskCandidate, error) {
	out := []scoring.AtRiskCandidate{}
	err := r.db.SelectContext(ctx, &out, `SELECT c.user_id, c.score, COUNT(b.id) AS overdue_count
		FROM credit_scores c
		JOIN borrowing_records b ON b.user_id = c.user_id AND b.status = 'overdue'
		WHERE c.score > $1 AND c.score < $2
		GROUP BY c.user_id, c.score
		ORDER BY c.score`, lo, hi)
	return out, err
}
