package scoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
)

var (
	ErrInvalidScore = errors.New("score must be between 0 and 1000")
	ErrInvalidInput = errors.New("invalid input")
)

// Service keeps credit scores in step with the ledger and answers
// borrowing-limit queries for it.
type Service struct {
	store  Store
	events Publisher
	logger *zap.SugaredLogger

	Clock func() time.Time
}

func NewService(store Store, events Publisher, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  store,
		events: events,
		logger: logger,
		Clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored score, or the unpersisted default for users that
// have none yet.
func (s *Service) Get(ctx context.Context, userID int64) (*entity.CreditScore, error) {
	return s.load(ctx, userID)
}

func (s *Service) load(ctx context.Context, userID int64) (*entity.CreditScore, error) {
	cs, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Default(userID, s.Clock()), nil
		}
		return nil, fmt.Errorf("get credit score: %w", err)
	}
	if cs.ExternalScores == nil {
		cs.ExternalScores = entity.ExternalScores{}
	}
	cs.Persisted = true
	return cs, nil
}

// Recompute rebuilds the user's score from their returned records and
// publishes change and restriction events.
func (s *Service) Recompute(ctx context.Context, userID int64) (*entity.CreditScore, error) {
	cs, err := s.recompute(ctx, userID)
	recomputeTotal.WithLabelValues("single", resultLabel(err)).Inc()
	return cs, err
}

func (s *Service) recompute(ctx context.Context, userID int64) (*entity.CreditScore, error) {
	previous := DefaultScore
	cs, err := s.store.Update(ctx, userID, func(cs *entity.CreditScore) error {
		if cs.Persisted {
			previous = cs.Score
		}
		returns, err := s.store.ReturnWindows(ctx, userID)
		if err != nil {
			return fmt.Errorf("load returns: %w", err)
		}
		if cs.ExternalScores == nil {
			cs.ExternalScores = entity.ExternalScores{}
		}
		Apply(cs, HistoryFromReturns(returns), s.Clock())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save credit score: %w", err)
	}
	cs.Persisted = true
	s.logger.Debugw("credit score recomputed", "user_id", userID, "previous", previous, "score", cs.Score, "rating", cs.ReliabilityRating)

	if math.Abs(cs.Score-previous) >= NotifyDelta {
		s.publish(ctx, event.ScoreChanged, userID, &event.ScorePayload{
			Previous: previous, Current: cs.Score, Rating: cs.ReliabilityRating,
		})
	}
	if previous >= RestrictedBelow && cs.Score < RestrictedBelow {
		s.logger.Warnw("account restricted by credit score", "user_id", userID, "score", cs.Score)
		s.publish(ctx, event.AccountRestricted, userID, &event.ScorePayload{
			Previous: previous, Current: cs.Score, Rating: cs.ReliabilityRating,
		})
	}
	return cs, nil
}

// RecomputeAll recomputes every scored user. Per-user failures are logged
// and skipped.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.store.ScoredUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, err := s.recompute(ctx, id)
		recomputeTotal.WithLabelValues("batch", resultLabel(err)).Inc()
		if err != nil {
			s.logger.Warnw("recompute failed", "user_id", id, "error", err)
			continue
		}
		n++
	}
	s.logger.Infow("credit scores recomputed", "count", n, "users", len(ids))
	return n, nil
}

// BorrowingLimit applies the score bonus to baseLimit. Users without a
// score row keep their base limit.
func (s *Service) BorrowingLimit(ctx context.Context, userID int64, baseLimit int) (int, error) {
	cs, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return baseLimit, nil
		}
		return 0, fmt.Errorf("get credit score: %w", err)
	}
	return LimitWithBonus(baseLimit, cs.Score), nil
}

// SyncExternal records a score reported by another system and refreshes
// the composite score.
func (s *Service) SyncExternal(ctx context.Context, userID int64, system string, score float64, metadata map[string]any) (*entity.CreditScore, error) {
	system = strings.TrimSpace(system)
	if system == "" || system == "library" {
		return nil, fmt.Errorf("%w: system name is required", ErrInvalidInput)
	}
	if math.IsNaN(score) || score < MinScore || score > MaxScore {
		return nil, ErrInvalidScore
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	cs, err := s.store.Update(ctx, userID, func(cs *entity.CreditScore) error {
		now := s.Clock()
		if cs.ExternalScores == nil {
			cs.ExternalScores = entity.ExternalScores{}
		}
		if !cs.Persisted {
			returns, err := s.store.ReturnWindows(ctx, userID)
			if err != nil {
				return fmt.Errorf("load returns: %w", err)
			}
			Apply(cs, HistoryFromReturns(returns), now)
		}
		cs.ExternalScores[system] = entity.ExternalScore{Score: score, LastUpdated: now, Metadata: metadata}
		cs.CompositeScore = Composite(cs.Score, cs.ExternalScores)
		cs.LastCrossSync = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save credit score: %w", err)
	}
	cs.Persisted = true
	s.logger.Infow("external score synced", "user_id", userID, "system", system, "score", score, "composite", cs.CompositeScore)
	return cs, nil
}

// PullExternal fetches the user's score from src and syncs it.
func (s *Service) PullExternal(ctx context.Context, userID int64, src ExternalSource) (*entity.CreditScore, error) {
	score, meta, err := src.FetchScore(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s score: %w", src.Name(), err)
	}
	return s.SyncExternal(ctx, userID, src.Name(), score, meta)
}

// FlagAtRiskUsers publishes a warning for users between Poor and Good
// that currently hold overdue books.
func (s *Service) FlagAtRiskUsers(ctx context.Context) (int, error) {
	candidates, err := s.store.AtRiskCandidates(ctx, RestrictedBelow, 700)
	if err != nil {
		return 0, fmt.Errorf("list at-risk users: %w", err)
	}
	for _, c := range candidates {
		risk := "high"
		if c.Score > 600 {
			risk = "medium"
		}
		s.publish(ctx, event.UserAtRisk, c.UserID, &event.ScorePayload{
			Previous:     c.Score,
			Current:      c.Score,
			Rating:       RatingFor(c.Score),
			OverdueCount: c.OverdueCount,
			Risk:         risk,
		})
	}
	s.logger.Infow("at-risk users identified", "count", len(candidates))
	return len(candidates), nil
}

func (s *Service) publish(ctx context.Context, t event.Type, userID int64, p *event.ScorePayload) {
	if s.events == nil {
		return
	}
	ev := event.New(t, userID, s.Clock())
	ev.Score = p
	_ = s.events.Publish(ctx, ev)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
