package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
)

func getCounterVecValue(cv *prometheus.CounterVec, labels ...string) float64 {
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func TestSessionObserver_LiveParsed(t *testing.T) {
	obs := SessionObserver{}

	emptyBefore := getCounterVecValue(RepairsTotal, "empty")
	recordsBefore := getCounterVecValue(RepairsTotal, "records")
	obs.LiveParsed(0)
	obs.LiveParsed(3)

	if got := getCounterVecValue(RepairsTotal, "empty"); got != emptyBefore+1 {
		t.Errorf("empty repairs: got %.0f, want %.0f", got, emptyBefore+1)
	}
	if got := getCounterVecValue(RepairsTotal, "records"); got != recordsBefore+1 {
		t.Errorf("record repairs: got %.0f, want %.0f", got, recordsBefore+1)
	}
}

func TestSessionObserver_StrictParsed(t *testing.T) {
	obs := SessionObserver{}

	okBefore := getCounterVecValue(StrictParsesTotal, "success")
	failBefore := getCounterVecValue(StrictParsesTotal, "failure")
	obs.StrictParsed(nil)
	obs.StrictParsed(errors.New("bad"))

	if got := getCounterVecValue(StrictParsesTotal, "success"); got != okBefore+1 {
		t.Errorf("strict success: got %.0f, want %.0f", got, okBefore+1)
	}
	if got := getCounterVecValue(StrictParsesTotal, "failure"); got != failBefore+1 {
		t.Errorf("strict failure: got %.0f, want %.0f", got, failBefore+1)
	}
}

func TestSessionObserver_Finished(t *testing.T) {
	before := getCounterVecValue(SessionsTotal, string(session.StateFailed))
	SessionObserver{}.Finished(session.StateFailed)

	if got := getCounterVecValue(SessionsTotal, string(session.StateFailed)); got != before+1 {
		t.Errorf("failed sessions: got %.0f, want %.0f", got, before+1)
	}
}
