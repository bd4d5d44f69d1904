package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
)

// Stream parsing and session metrics
var (
	RepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitsuko_repairs_total",
			Help: "Total number of live parses of a streaming buffer.",
		},
		[]string{"outcome"},
	)

	StrictParsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitsuko_strict_parses_total",
			Help: "Total number of strict validations of finished or edited responses.",
		},
		[]string{"result"},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitsuko_sessions_total",
			Help: "Total number of streaming sessions by final state.",
		},
		[]string{"state"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mitsuko_active_sessions",
			Help: "Number of sessions currently streaming.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RepairsTotal,
		StrictParsesTotal,
		SessionsTotal,
		ActiveSessions,
	)
}

// RecordStrictParse counts one strict validation.
func RecordStrictParse(err error) {
	if err != nil {
		StrictParsesTotal.WithLabelValues("failure").Inc()
		return
	}
	StrictParsesTotal.WithLabelValues("success").Inc()
}

// RecordLiveParse counts one lenient parse by whether it recovered any record.
func RecordLiveParse(records int) {
	if records == 0 {
		RepairsTotal.WithLabelValues("empty").Inc()
		return
	}
	RepairsTotal.WithLabelValues("records").Inc()
}

// SessionObserver feeds session events into the collectors above.
type SessionObserver struct{}

var _ session.Observer = SessionObserver{}

func (SessionObserver) LiveParsed(records int) {
	RecordLiveParse(records)
}

func (SessionObserver) StrictParsed(err error) {
	RecordStrictParse(err)
}

func (SessionObserver) Finished(state session.State) {
	SessionsTotal.WithLabelValues(string(state)).Inc()
}
