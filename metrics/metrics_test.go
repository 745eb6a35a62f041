package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.ObserveNode("generate", "ok", 120*time.Millisecond)
	m.IncNodeFailure("analyze", "timeout")
	m.TurnStarted()
	m.TurnStarted()
	m.TurnFinished(OutcomeDegraded)
	m.IncReplay(ReplayJournal)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeFailures.WithLabelValues("analyze", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeDegraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(ReplayJournal)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.nodeDuration))
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)
	require.NotNil(t, b)

	a.IncReplay(ReplayState)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.replays.WithLabelValues(ReplayState)))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveNode("x", "ok", time.Second)
		m.IncNodeFailure("x", "error")
		m.TurnStarted()
		m.TurnFinished(OutcomeOK)
		m.IncReplay(ReplayState)
	})
}
