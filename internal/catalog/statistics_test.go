package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPopularity(t *testing.T) {
	// 10 borrows, last one 10 days ago, copies on shelf: (50 + 90) / 2
	assert.Equal(t, 70.0, Popularity(10, 10, 2))
	// same book with no copy available loses 20
	assert.Equal(t, 50.0, Popularity(10, 10, 0))
	// volume caps at 100 and recency floors at 0
	assert.Equal(t, 50.0, Popularity(40, 365, 1))
	assert.Equal(t, 0.0, Popularity(0, 0, 1))
	// never negative
	assert.Equal(t, 0.0, Popularity(1, 400, 0))
}

func TestComputeStatistics(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	ret1 := now.Add(-20 * day)
	ret2 := now.Add(-5 * day)
	windows := []BorrowWindow{
		{BorrowDate: now.Add(-30 * day), ReturnDate: &ret1},
		{BorrowDate: now.Add(-9 * day), ReturnDate: &ret2},
		{BorrowDate: now.Add(-2 * day), Active: true},
	}

	st := ComputeStatistics("b1", windows, 1, now)
	assert.Equal(t, 3, st.TotalBorrowedCount)
	assert.Equal(t, 1, st.CurrentBorrowedCount)
	assert.Equal(t, 7.0, st.AverageBorrowingDuration)
	if assert.NotNil(t, st.LastBorrowedDate) {
		assert.True(t, st.LastBorrowedDate.Equal(now.Add(-2*day)))
	}
	assert.Equal(t, Popularity(3, 2, 1), st.PopularityScore)
}

func TestComputeStatisticsNeverBorrowed(t *testing.T) {
	now := time.Now()
	st := ComputeStatistics("b1", nil, 3, now)
	assert.Zero(t, st.TotalBorrowedCount)
	assert.Zero(t, st.PopularityScore)
	assert.Nil(t, st.LastBorrowedDate)
}
