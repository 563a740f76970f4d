package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcomeIncrementsRequestsAndClassifiedCounter(t *testing.T) {
	m := New()

	m.RecordOutcome(http.StatusOK)
	require.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal))

	m.RecordOutcome(http.StatusUnauthorized)
	require.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(m.UnauthorizedTotal))

	m.RecordOutcome(http.StatusTooManyRequests)
	require.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitedTotal))

	m.RecordOutcome(http.StatusInternalServerError)
	require.Equal(t, float64(1), testutil.ToFloat64(m.ServerErrorsTotal))

	m.RecordOutcome(http.StatusBadRequest)
	require.Equal(t, float64(1), testutil.ToFloat64(m.BadRequestsTotal))

	require.Equal(t, float64(5), testutil.ToFloat64(m.RequestsTotal))
}

func TestHandlerServesTextExposition(t *testing.T) {
	m := New()
	m.RecordOutcome(http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "novaadapt_requests_total 1")
	require.True(t, strings.Contains(rec.Header().Get("Content-Type"), "text/plain"))
}
