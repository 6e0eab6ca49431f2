package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

const (
	RatingExcellent = "Excellent"
	RatingVeryGood  = "Very Good"
	RatingGood      = "Good"
	RatingFair      = "Fair"
	RatingPoor      = "Poor"
	RatingVeryPoor  = "Very Poor"
)

// ExternalScore is a score reported by another system on the 0-1000 scale.
type ExternalScore struct {
	Score       float64        `json:"score"`
	LastUpdated time.Time      `json:"last_updated"`
	Metadata    map[string]any `json:"metadata"`
}

// ExternalScores is stored as JSONB keyed by system name.
type ExternalScores map[string]ExternalScore

func (e ExternalScores) Value() (driver.Value, error) {
	if e == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e)
}

func (e *ExternalScores) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = ExternalScores{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("external scores: unsupported type %T", src)
	}
	out := ExternalScores{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*e = out
	return nil
}

type CreditScore struct {
	UserID             int64            `db:"user_id" json:"user_id"`
	Score              float64          `db:"score" json:"credit_score"`
	OnTimeReturns      int              `db:"on_time_returns" json:"on_time_returns"`
	LateReturns        int              `db:"late_returns" json:"late_returns"`
	TotalBooksBorrowed int              `db:"total_books_borrowed" json:"total_books_borrowed"`
	AverageReturnDelay float64          `db:"average_return_delay" json:"average_return_delay"`
	ReliabilityRating  string           `db:"reliability_rating" json:"reliability_rating"`
	MaxBooksAllowed    int              `db:"max_books_allowed" json:"max_books_allowed"`
	ExternalScores     ExternalScores   `db:"external_scores" json:"external_system_scores"`
	CompositeScore     float64          `db:"composite_score" json:"composite_score"`
	SystemPrivileges   database.JSONMap `db:"system_privileges" json:"system_privileges"`
	LastCrossSync      *time.Time       `db:"last_cross_sync" json:"last_cross_sync,omitempty"`
	LastCalculated     time.Time        `db:"last_calculated" json:"last_calculated"`
	// Persisted is false for the default score handed out before the first
	// recompute.
	Persisted bool `db:"-" json:"-"`
}
