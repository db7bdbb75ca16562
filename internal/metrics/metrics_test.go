package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PollsTotal.Inc()
	m.IterationsTotal.WithLabelValues(PhaseImplementation, OutcomeSuccess).Inc()
	m.EscalationsTotal.WithLabelValues(ReasonMaxIterations).Inc()
	m.IssuesTracked.WithLabelValues("IN_PROGRESS").Set(3)
	m.TokensTotal.WithLabelValues(DirectionInput).Add(1200)

	if got := testutil.ToFloat64(m.PollsTotal); got != 1 {
		t.Errorf("expected polls_total 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.IterationsTotal.WithLabelValues(PhaseImplementation, OutcomeSuccess)); got != 1 {
		t.Errorf("expected iterations_total 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.IssuesTracked.WithLabelValues("IN_PROGRESS")); got != 3 {
		t.Errorf("expected issues_tracked 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues(DirectionInput)); got != 1200 {
		t.Errorf("expected tokens_total 1200, got %v", got)
	}
}

func TestNewIsolatedRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.PollsTotal.Inc()
	if got := testutil.ToFloat64(b.PollsTotal); got != 0 {
		t.Errorf("expected isolated registries, got %v on second", got)
	}
}
