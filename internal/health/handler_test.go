package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lv-riskengine/internal/ingest"
	"lv-riskengine/internal/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type cacheStats marketdata.CacheStats

func (c cacheStats) Stats() marketdata.CacheStats { return marketdata.CacheStats(c) }

type loopStats map[string]ingest.LoopStats

func (l loopStats) Stats() map[string]ingest.LoopStats { return l }

type policyState bool

func (p policyState) Stale() bool { return bool(p) }

func TestLive(t *testing.T) {
	h := NewHandler(Deps{Store: pinger{err: errors.New("down")}})
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(Deps{Store: pinger{}, StoreDriver: "sqlite"}).Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Store.Reachable)
	assert.Equal(t, "sqlite", body.Store.Driver)

	rec = httptest.NewRecorder()
	NewHandler(Deps{Store: pinger{err: errors.New("down")}}).Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestFullRequiresToken(t *testing.T) {
	h := NewHandler(Deps{Store: pinger{}, InternalToken: "tok"})
	rec := httptest.NewRecorder()
	h.Full(rec, httptest.NewRequest(http.MethodGet, "/health/full", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	NewHandler(Deps{Store: pinger{}}).Full(rec, httptest.NewRequest(http.MethodGet, "/health/full", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFullReportsPricingDegradation(t *testing.T) {
	h := NewHandler(Deps{
		Store:         pinger{},
		Cache:         cacheStats{Catalog: 15, Synthetic: 15},
		Ingest:        loopStats{"priority": {Symbols: 3, Failed: 4}},
		Policy:        policyState(true),
		InternalToken: "tok",
	})
	req := httptest.NewRequest(http.MethodGet, "/health/full", nil)
	req.Header.Set("X-Internal-Token", "tok")
	rec := httptest.NewRecorder()
	h.Full(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body fullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.True(t, body.Pricing.FeedDegraded)
	assert.True(t, body.Pricing.PolicyStale)
	assert.EqualValues(t, 4, body.Pricing.Loops["priority"].Failed)
}

func TestMetrics(t *testing.T) {
	h := NewHandler(Deps{
		Store:         pinger{},
		Cache:         cacheStats{Catalog: 2, Live: 1, Synthetic: 1},
		Ingest:        loopStats{"sweep": {Applied: 9}},
		InternalToken: "tok",
	})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Internal-Token", "tok")
	rec := httptest.NewRecorder()
	h.Metrics(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "riskengine_store_up 1"))
	assert.True(t, strings.Contains(body, "riskengine_quotes_live 1"))
	assert.True(t, strings.Contains(body, `riskengine_ingest_applied_total{loop="sweep"} 9`))
}
