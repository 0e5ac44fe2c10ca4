package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ResolverCall(OutcomeResolved, "")
	m.ResolverCall(OutcomeBlocked, "TRANSPORT_ERROR")
	m.ResolverCall(OutcomeBlocked, "TRANSPORT_ERROR")
	m.CacheLookup(3, 1)
	m.BatchDone("200", 15*time.Millisecond)
	m.Redaction("applied")
	m.ServerResolve("200", 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverCalls.WithLabelValues(OutcomeResolved, "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResolverCalls.WithLabelValues(OutcomeBlocked, "TRANSPORT_ERROR")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Redactions.WithLabelValues("applied")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ServerResolvedKeys))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchDurationSeconds))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ResolverCall(OutcomeResolved, "")
		m.CacheLookup(1, 1)
		m.BatchDone("200", time.Second)
		m.Redaction("applied")
		m.ServerResolve("200", 1)
	})
}

func TestHandler_Exposes(t *testing.T) {
	reg, m, err := NewRegistry()
	require.NoError(t, err)
	m.ResolverCall(OutcomeNoPlaceholders, "")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcvault_resolver_calls_total")
}
