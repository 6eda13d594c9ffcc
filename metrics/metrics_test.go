package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun("maxi", ResultOK, 2*time.Second)
	m.ObserveRun("maxi", ResultOK, time.Second)
	m.ObserveRun("maxi", ResultError, time.Second)
	m.Transaction("takeloan")
	m.SendRetry()
	m.SendRetry()
	m.WaitTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("maxi", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("maxi", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("takeloan")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SendRetriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaitTimeoutsTotal))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("maxi", ResultOK, time.Second)
		m.Transaction("x")
		m.SendRetry()
		m.WaitTimeout()
	})
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Transaction("swap")

	teapot := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	teapot.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/state", "418")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `maxi_transactions_total{operation="swap"} 1`))
}
