package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "library_scoring_recompute_total",
	Help: "Credit score recomputations by trigger and outcome.",
}, []string{"trigger", "outcome"})
