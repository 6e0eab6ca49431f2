package catalog

import (
	"math"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
)

// BorrowWindow is one ledger record as seen by statistics.
type BorrowWindow struct {
	BorrowDate time.Time  `db:"borrow_date"`
	ReturnDate *time.Time `db:"return_date"`
	Active     bool       `db:"active"`
}

// ComputeStatistics derives a book's statistics from its ledger records.
func ComputeStatistics(bookID string, windows []BorrowWindow, available int, now time.Time) entity.Statistics {
	st := entity.Statistics{BookID: bookID, LastUpdated: now}
	if len(windows) == 0 {
		return st
	}
	var durationDays, returned int
	for i := range windows {
		w := windows[i]
		st.TotalBorrowedCount++
		if w.Active {
			st.CurrentBorrowedCount++
		}
		if w.ReturnDate != nil {
			durationDays += wholeDays(w.ReturnDate.Sub(w.BorrowDate))
			returned++
		}
		if st.LastBorrowedDate == nil || w.BorrowDate.After(*st.LastBorrowedDate) {
			b := w.BorrowDate
			st.LastBorrowedDate = &b
		}
	}
	if returned > 0 {
		st.AverageBorrowingDuration = round2(float64(durationDays) / float64(returned))
	}
	daysSince := wholeDays(now.Sub(*st.LastBorrowedDate))
	st.PopularityScore = Popularity(st.TotalBorrowedCount, daysSince, available)
	return st
}

// Popularity is clamp(0, 100, (min(100, total*5) + recency)/2 - penalty) where
// recency is max(0, 100 - days since last borrow) and penalty is 20 when no
// copy is available. A never-borrowed book scores zero.
func Popularity(totalBorrowed, daysSinceLastBorrow, available int) float64 {
	if totalBorrowed == 0 {
		return 0
	}
	volume := math.Min(100, float64(totalBorrowed*5))
	recency := math.Max(0, float64(100-daysSinceLastBorrow))
	score := (volume + recency) / 2
	if available == 0 {
		score -= 20
	}
	return round2(math.Max(0, math.Min(100, score)))
}

func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
