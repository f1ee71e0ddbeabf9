package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/webcam-capture/internal/metrics"
	"github.com/i474232898/webcam-capture/internal/pipeline"
	"github.com/i474232898/webcam-capture/internal/scheduler"
	"github.com/i474232898/webcam-capture/internal/store"
)

type fixedScheduler struct{ snap scheduler.Snapshot }

func (f fixedScheduler) Snapshot() scheduler.Snapshot { return f.snap }

var t0 = time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) func(string) *http.Response {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mem := store.NewMemoryStore(100, 0)
	for i := 0; i < 5; i++ {
		r := pipeline.Report{ID: string(rune('a' + i)), Trigger: t0.Add(time.Duration(i) * time.Minute), Outcome: pipeline.OutcomeSuccess}
		mem.Record(r)
		m.Record(r)
	}
	mem.Record(pipeline.Report{ID: "skip", Trigger: t0.Add(10 * time.Minute), Outcome: pipeline.OutcomeSkipped})

	app := NewApp(nil)
	RegisterRoutes(app, Deps{
		Location:  "LFRK",
		Scheduler: fixedScheduler{snap: scheduler.Snapshot{StateName: "armed_day", IsDay: true, Interval: "5m0s"}},
		Store:     mem,
		Gatherer:  reg,
		StartedAt: t0,
	})

	return func(target string) *http.Response {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		require.NoError(t, err)
		return resp
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	get := newTestApp(t)
	resp := get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestStatus(t *testing.T) {
	get := newTestApp(t)
	resp := get("/api/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "LFRK", body["location"])
	assert.Equal(t, "armed_day", body["scheduler"].(map[string]any)["state"])
	assert.Equal(t, "skip", body["lastCycle"].(map[string]any)["id"])
	assert.Equal(t, "e", body["lastCompleted"].(map[string]any)["id"])
}

// TestCyclesLimitValidation verifies that the cycles endpoint enforces the
// expected 1-100 range for the `limit` query parameter.
func TestCyclesLimitValidation(t *testing.T) {
	get := newTestApp(t)

	for _, target := range []string{
		"/api/v1/cycles?limit=0",
		"/api/v1/cycles?limit=101",
		"/api/v1/cycles?limit=abc",
		"/api/v1/cycles?from=2026-06-21T12:00:00Z",
		"/api/v1/cycles?from=2026-06-21T13:00:00Z&to=2026-06-21T12:00:00Z",
	} {
		resp := get(target)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
	}
}

func TestCyclesRecent(t *testing.T) {
	get := newTestApp(t)
	resp := get("/api/v1/cycles?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cycles := decodeBody(t, resp)["cycles"].([]any)
	require.Len(t, cycles, 2)
	assert.Equal(t, "skip", cycles[0].(map[string]any)["id"])
	assert.Equal(t, "e", cycles[1].(map[string]any)["id"])
}

func TestCyclesRange(t *testing.T) {
	get := newTestApp(t)
	resp := get("/api/v1/cycles?from=2026-06-21T12:01:00Z&to=2026-06-21T12:03:00Z")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody(t, resp)["cycles"].([]any), 3)

	resp = get("/api/v1/cycles?from=2026-06-22T00:00:00Z&to=2026-06-22T01:00:00Z")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	get := newTestApp(t)
	resp := get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `webcam_capture_cycles_total{outcome="success"} 5`))
}
