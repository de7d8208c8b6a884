package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pimsync/internal/engine"
	"github.com/roach88/pimsync/internal/model"
)

func TestPassMetrics_ObserveResult(t *testing.T) {
	m := New()
	m.ObserveResult(engine.Result{Action: model.CreateOnSecondary, Outcome: engine.OutcomeCreated})
	m.ObserveResult(engine.Result{Action: model.CreateOnSecondary, Outcome: engine.OutcomeCreated})
	m.ObserveResult(engine.Result{Action: model.CreateOnSecondary, Outcome: engine.OutcomeSkipped})

	created := m.results.WithLabelValues("CreateOnSecondary", "created")
	skipped := m.results.WithLabelValues("CreateOnSecondary", "skipped")
	assert.Equal(t, float64(2), testutil.ToFloat64(created))
	assert.Equal(t, float64(1), testutil.ToFloat64(skipped))
}

func TestPassMetrics_ObservePassStatus(t *testing.T) {
	m := New()
	started := time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC)

	m.ObservePass(&engine.Summary{StartedAt: started}, time.Second, nil)
	m.ObservePass(&engine.Summary{StartedAt: started, Skipped: 1, Failed: 2}, time.Second, nil)
	m.ObservePass(nil, time.Second, errors.New("list primary: boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.passes.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.passes.WithLabelValues("partial")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.passes.WithLabelValues("aborted")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.lastFailures))
	assert.Equal(t, float64(started.Unix()), testutil.ToFloat64(m.lastPass))
	assert.Equal(t, 1, testutil.CollectAndCount(m.passDuration))
}

func TestPassMetrics_NilIsNoOp(t *testing.T) {
	var m *PassMetrics
	assert.NotPanics(t, func() {
		m.ObserveResult(engine.Result{})
		m.ObservePass(nil, 0, nil)
	})
}

func TestPassMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.ObserveResult(engine.Result{Action: model.DeleteOnPrimary, Outcome: engine.OutcomeDeleted})
	path := filepath.Join(t.TempDir(), "pimsync.prom")

	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pimsync_match_results_total{action="DeleteOnPrimary",outcome="deleted"} 1`)
}
