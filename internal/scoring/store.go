package scoring

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
)

// AtRiskCandidate is a user in the warning band with overdue records.
type AtRiskCandidate struct {
	UserID       int64   `db:"user_id"`
	Score        float64 `db:"score"`
	OverdueCount int     `db:"overdue_count"`
}

// Store persists credit scores. Get returns sql.ErrNoRows for users
// without a score row.
type Store interface {
	Get(ctx context.Context, userID int64) (*entity.CreditScore, error)
	// Update locks the user's score row for the length of fn and saves what
	// fn leaves in cs. A missing row is created first and handed to fn with
	// Persisted false. An error from fn discards every change.
	Update(ctx context.Context, userID int64, fn func(cs *entity.CreditScore) error) (*entity.CreditScore, error)
	// ReturnWindows lists due and return dates of the user's returned records.
	ReturnWindows(ctx context.Context, userID int64) ([]ReturnWindow, error)
	// ScoredUserIDs lists users that have borrowed at least once or own a
	// score row.
	ScoredUserIDs(ctx context.Context) ([]int64, error)
	// AtRiskCandidates lists users scoring strictly between lo and hi that
	// hold overdue records.
	AtRiskCandidates(ctx context.Context, lo, hi float64) ([]AtRiskCandidate, error)
}

// Publisher receives score events.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// ExternalSource pulls a user's score from another system.
type ExternalSource interface {
	Name() string
	FetchScore(ctx context.Context, userID int64) (score float64, metadata map[string]any, err error)
}

// StaticSource reports the same score for every user. It stands in for a
// partner integration until one is configured.
type StaticSource struct {
	System string
	Value  float64
}

func (s StaticSource) Name() string { return s.System }

func (s StaticSource) FetchScore(context.Context, int64) (float64, map[string]any, error) {
	return s.Value, map[string]any{"source": "static"}, nil
}
