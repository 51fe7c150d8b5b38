package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics("user-service", registry)
	require.NotNil(t, m)

	m.AuthAttemptsTotal.WithLabelValues(AuthOutcomeAuthenticated).Inc()
	m.TokensIssuedTotal.Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["stocklane_auth_attempts_total"])
	assert.True(t, names["stocklane_tokens_issued_total"])
}

func TestHTTPMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics("inventory-service", registry)

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/items/SKU-404", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)

	families, err := registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "stocklane_http_requests_total" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, float64(1), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected stocklane_http_requests_total to be recorded")
}
