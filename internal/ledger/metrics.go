package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_ledger_operations_total",
		Help: "Borrow, return and renew attempts by outcome.",
	}, []string{"operation", "outcome"})

	sweepRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_ledger_sweep_records_total",
		Help: "Records touched by the overdue and lost sweeps.",
	}, []string{"sweep", "outcome"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrDuplicateBorrow):
		return "duplicate"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBookNotFound), errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrMaxRenewals):
		return "max_renewals"
	case errors.Is(err, ErrOverdue):
		return "overdue"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
