package scoring

import (
	"math"
	"time"

	ledgerentity "github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

const (
	DefaultScore = 750.0
	MinScore     = 0.0
	MaxScore     = 1000.0
	// RestrictedBelow is the score under which a user's account is restricted.
	RestrictedBelow = 500.0
	// NotifyDelta is the smallest score change that notifies the user.
	NotifyDelta = 50.0
)

// History is the return behavior a score is derived from.
type History struct {
	Total  int
	OnTime int
	Late   int
	// AverageDelay is the mean days overdue across late returns only.
	AverageDelay float64
}

// ReturnWindow is the due and return date of one returned record.
type ReturnWindow struct {
	DueDate    time.Time `db:"due_date"`
	ReturnDate time.Time `db:"return_date"`
}

// HistoryFromReturns classifies returned records as on time or late.
func HistoryFromReturns(returns []ReturnWindow) History {
	var h History
	delay := 0
	for _, r := range returns {
		h.Total++
		days := ledgerentity.DaysOverdue(r.DueDate, r.ReturnDate)
		if days > 0 {
			h.Late++
			delay += days
		} else {
			h.OnTime++
		}
	}
	if h.Late > 0 {
		h.AverageDelay = float64(delay) / float64(h.Late)
	}
	return h
}

// Score applies the library scoring formula. A user without returns starts
// at DefaultScore.
func Score(h History) float64 {
	if h.Total == 0 {
		return DefaultScore
	}
	onTimeRate := float64(h.OnTime) / float64(h.Total)
	s := 500.0
	s += onTimeRate * 300
	s += math.Min(100, float64(h.Total)*2)
	s -= float64(h.Late) * 10
	s -= h.AverageDelay * 5
	return round2(clamp(s, MinScore, MaxScore))
}

func RatingFor(score float64) string {
	switch {
	case score >= 900:
		return entity.RatingExcellent
	case score >= 800:
		return entity.RatingVeryGood
	case score >= 700:
		return entity.RatingGood
	case score >= 600:
		return entity.RatingFair
	case score >= 500:
		return entity.RatingPoor
	default:
		return entity.RatingVeryPoor
	}
}

// MaxBooksFor is the tier allowance recorded on the score row.
func MaxBooksFor(score float64) int {
	switch {
	case score >= 900:
		return 20
	case score >= 800:
		return 15
	case score >= 700:
		return 10
	case score >= 600:
		return 7
	case score >= 500:
		return 5
	default:
		return 3
	}
}

// LimitWithBonus adjusts a user's base borrowing limit by score tier.
func LimitWithBonus(base int, score float64) int {
	switch {
	case score >= 900:
		return base + 5
	case score >= 800:
		return base + 3
	case score >= 700:
		return base + 1
	case score < RestrictedBelow:
		return max(1, base-2)
	default:
		return base
	}
}

// Composite weighs the library score at one half and splits the other half
// evenly across external systems. Without external scores it is the
// library score.
func Composite(library float64, external entity.ExternalScores) float64 {
	if len(external) == 0 {
		return library
	}
	w := 0.5 / float64(len(external))
	sum := library * 0.5
	for _, e := range external {
		sum += e.Score * w
	}
	return round2(sum)
}

// Privileges derives the cross-system privilege map for a score.
func Privileges(score float64, maxBooks int) database.JSONMap {
	pick := func(cond bool, a, b int) int {
		if cond {
			return a
		}
		return b
	}
	return database.JSONMap{
		"library": map[string]any{
			"max_books":             maxBooks,
			"renewal_allowed":       score >= 600,
			"express_checkout":      score >= 800,
			"priority_reservations": score >= 900,
		},
		"bike_rental": map[string]any{
			"max_duration_hours":         pick(score >= 800, 48, 24),
			"security_deposit_reduction": pick(score >= 700, 50, 0),
			"instant_approval":           score >= 750,
		},
		"equipment_rental": map[string]any{
			"allowed":         score >= 600,
			"max_items":       pick(score >= 800, 3, 1),
			"extended_period": score >= 700,
		},
	}
}

// Apply writes h and everything derived from it onto cs.
func Apply(cs *entity.CreditScore, h History, at time.Time) {
	cs.TotalBooksBorrowed = h.Total
	cs.OnTimeReturns = h.OnTime
	cs.LateReturns = h.Late
	cs.AverageReturnDelay = round2(h.AverageDelay)
	cs.Score = Score(h)
	cs.ReliabilityRating = RatingFor(cs.Score)
	cs.MaxBooksAllowed = MaxBooksFor(cs.Score)
	cs.SystemPrivileges = Privileges(cs.Score, cs.MaxBooksAllowed)
	cs.CompositeScore = Composite(cs.Score, cs.ExternalScores)
	cs.LastCalculated = at
}

// Default is the unpersisted score of a user without a score row.
func Default(userID int64, at time.Time) *entity.CreditScore {
	cs := &entity.CreditScore{UserID: userID, ExternalScores: entity.ExternalScores{}}
	Apply(cs, History{}, at)
	return cs
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
