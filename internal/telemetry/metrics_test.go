package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstrumentRecordsStatusClass(t *testing.T) {
	h := Instrument("probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, url := range []string{"/probe", "/probe", "/probe?fail=1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	}

	out := scrape(t)
	assert.Contains(t, out, `ringd_requests_total{op="probe",status="2xx"} 2`)
	assert.Contains(t, out, `ringd_requests_total{op="probe",status="5xx"} 1`)
	assert.Contains(t, out, `ringd_request_duration_seconds_count{op="probe"} 3`)
	assert.Contains(t, out, `ringd_in_flight_requests{op="probe"} 0`)
}

func TestProtocolGauges(t *testing.T) {
	SetBuildInfo("v1.2.3", "abc123")
	SetMembers(map[string]int{"ONLINE": 3, "DIED": 1})
	LamportClock.Set(42)

	out := scrape(t)
	assert.Contains(t, out, `ringd_build_info{git_sha="abc123",version="v1.2.3"} 1`)
	assert.Contains(t, out, `ringd_members{state="ONLINE"} 3`)
	assert.Contains(t, out, `ringd_members{state="DIED"} 1`)
	assert.Contains(t, out, `ringd_lamport_clock 42`)
	assert.Contains(t, out, "ringd_uptime_seconds")
}
