package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveIngest(nil, 20*time.Millisecond)
	m.ObserveIngest(nil, 30*time.Millisecond)
	m.ObserveIngest(errors.New("parse"), time.Millisecond)
	m.ObserveDrift("call_graph_change")
	m.ObserveProof("PASS")
	m.ObserveViolation("ERROR")
	m.ObserveViolation("ERROR")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ingestions.WithLabelValues(StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingestions.WithLabelValues(StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftEvents.WithLabelValues("call_graph_change")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Proofs.WithLabelValues("PASS")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Violations.WithLabelValues("ERROR")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest(nil, time.Second)
		m.ObserveDrift("symbol_change")
		m.ObserveProof("FAIL")
		m.ObserveViolation("WARNING")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveProof("PARTIAL")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `canon_proofs_total{status="PARTIAL"} 1`), body)
}

func TestRegisterTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
