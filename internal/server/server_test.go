package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z88-quant/internal/analysis"
	"z88-quant/internal/analysis/patterns"
	"z88-quant/internal/health"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
	"z88-quant/internal/runner"
	"z88-quant/internal/store"
)

func newTestServer(t *testing.T, st store.Store) *Server {
	t.Helper()
	s := New(Options{Metrics: metrics.NewRegistry(), Store: st, Logger: zerolog.Nop()})
	s.now = func() time.Time { return time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC) }
	return s
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func sampleBatch() (*runner.Batch, []models.StockSnapshot) {
	snaps := []models.StockSnapshot{
		{Symbol: "COMI", Close: 80, LiquidityInflowPct: 75},
		{Symbol: "ETEL", Close: 40, LiquidityInflowPct: 65},
		{Symbol: "SWDY", Close: 20, LiquidityInflowPct: 10},
	}
	batch := &runner.Batch{
		ID: "run-1",
		Results: []*analysis.Result{
			{Symbol: "COMI", Close: 80, Classification: &patterns.Classification{Label: patterns.Breakout, Score: 95}},
			{Symbol: "ETEL", Close: 40},
		},
	}
	return batch, snaps
}

func TestServer_NoBatchYet(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := get(t, s, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "batch_id")

	rec, _ = get(t, s, "/api/analysis")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = get(t, s, "/api/screener/squeeze")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Analysis(t *testing.T) {
	s := newTestServer(t, nil)
	s.Publish(sampleBatch())

	rec, body := get(t, s, "/api/analysis")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", body["id"])

	rec, body = get(t, s, "/api/analysis/comi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMI", body["symbol"])

	rec, _ = get(t, s, "/api/analysis/XXXX")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(t, s, "/api/setups")
	require.Equal(t, http.StatusOK, rec.Code)
	setups := body["setups"].([]interface{})
	require.Len(t, setups, 1)
	assert.Equal(t, "COMI", setups[0].(map[string]interface{})["symbol"])

	_, body = get(t, s, "/api/health")
	assert.Equal(t, "run-1", body["batch_id"])
}

func TestServer_Squeeze(t *testing.T) {
	s := newTestServer(t, nil)
	s.Publish(sampleBatch())

	rec, body := get(t, s, "/api/screener/squeeze")
	require.Equal(t, http.StatusOK, rec.Code)
	candidates := body["candidates"].([]interface{})
	require.Len(t, candidates, 2)
	first := candidates[0].(map[string]interface{})
	assert.Equal(t, "COMI", first["symbol"])
	assert.Equal(t, "2024-06-10T00:00:00Z", first["reversal_date"])

	_, body = get(t, s, "/api/screener/squeeze?threshold=70&limit=5")
	assert.Len(t, body["candidates"].([]interface{}), 1)

	_, body = get(t, s, "/api/screener/squeeze?threshold=99")
	assert.Empty(t, body["candidates"].([]interface{}))

	rec, _ = get(t, s, "/api/screener/squeeze?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Gann(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := get(t, s, "/api/gann/100")
	require.Equal(t, http.StatusOK, rec.Code)
	levels := body["gann"].(map[string]interface{})["levels"].([]interface{})
	require.Len(t, levels, 4)
	assert.InDelta(t, 110.25, levels[0].(map[string]interface{})["price"], 1e-9)
	assert.InDelta(t, 161.8, body["targets"].(map[string]interface{})["target_161"], 1e-9)

	rec, _ = get(t, s, "/api/gann/-5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = get(t, s, "/api/gann/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_History(t *testing.T) {
	rec, _ := get(t, newTestServer(t, nil), "/api/history/COMI")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "z88.db"))
	require.NoError(t, err)
	defer st.Close()

	batch, _ := sampleBatch()
	for _, r := range batch.Results {
		require.NoError(t, st.SaveAnalysis(context.Background(), batch.ID, r))
	}

	s := newTestServer(t, st)
	rec, body := get(t, s, "/api/history/comi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["records"].([]interface{}), 1)

	rec, _ = get(t, s, "/api/history/COMI?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.metrics.CacheHit()

	rec, _ := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "z88_cache_hits_total 1")
}

func TestServer_HealthComponents(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Register("store", health.PingCheck(func(context.Context) error { return nil }, 0))
	s := New(Options{Health: checker, Logger: zerolog.Nop()})

	rec, body := get(t, s, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(health.StatusHealthy), body["status"])
	assert.Len(t, body["components"].([]interface{}), 1)

	rec, _ = get(t, s, "/api/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	s.Publish(sampleBatch())
	rec, body = get(t, s, "/api/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	checker.Register("cache", health.PingCheck(func(context.Context) error { return errors.New("refused") }, 0))
	rec, body = get(t, s, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(health.StatusUnhealthy), body["status"])
	rec, _ = get(t, s, "/api/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
