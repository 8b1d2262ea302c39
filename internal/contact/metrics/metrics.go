package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Resolutions        *prometheus.CounterVec
	PrimariesDemoted   prometheus.Counter
	SecondariesCreated prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unify_contact_resolutions_total",
			Help: "Total identity resolutions by outcome",
		}, []string{"outcome"}),
		PrimariesDemoted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_contact_primaries_demoted_total",
			Help: "Total primary contacts demoted during cluster consolidation",
		}),
		SecondariesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unify_contact_secondaries_created_total",
			Help: "Total secondary contacts created to record new field values",
		}),
	}
}
