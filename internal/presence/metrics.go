package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_token_rotations_total",
		Help: "Number of rotating tokens issued.",
	})
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_redemptions_total",
		Help: "Redemption attempts by path and outcome.",
	}, []string{"path", "outcome"})
	radiusViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_geo_radius_violations_total",
		Help: "Redemptions whose coordinates fell outside the campus radius.",
	})
)
