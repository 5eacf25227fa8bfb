package kirodispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kirorelay",
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "HTTP attempts made by the dispatcher, by endpoint label and outcome.",
		},
		[]string{"label", "outcome"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kirorelay",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Retries performed after backoff, by endpoint label.",
		},
		[]string{"label"},
	)

	failoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kirorelay",
			Subsystem: "dispatch",
			Name:      "failovers_total",
			Help:      "Immediate credential failovers (auth failure or quota exhaustion), by endpoint label.",
		},
		[]string{"label"},
	)

	credentialsExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kirorelay",
			Subsystem: "dispatch",
			Name:      "credentials_exhausted_total",
			Help:      "Calls that failed because no non-disabled credential remained.",
		},
		[]string{"label"},
	)
)

// RegisterMetrics registers the dispatcher's Prometheus collectors with reg.
// It is idempotent: re-registering against the same registry is a no-op
// rather than a panic, so callers can wire it from multiple constructors in
// tests without tracking global state themselves.
func RegisterMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{attemptsTotal, retriesTotal, failoversTotal, credentialsExhaustedTotal} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
