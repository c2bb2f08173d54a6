package health

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"lv-riskengine/internal/httputil"
	"lv-riskengine/internal/ingest"
	"lv-riskengine/internal/marketdata"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type CacheStatser interface {
	Stats() marketdata.CacheStats
}

type IngestStatser interface {
	Stats() map[string]ingest.LoopStats
}

type PolicyState interface {
	Stale() bool
}

type Deps struct {
	Store         Pinger
	Pool          *pgxpool.Pool
	Cache         CacheStatser
	Ingest        IngestStatser
	Policy        PolicyState
	StartedAt     time.Time
	Mode          string
	StoreDriver   string
	HTTPAddr      string
	InternalToken string
}

type Handler struct {
	d           Deps
	startedAt   time.Time
	internalTok string
}

func NewHandler(d Deps) *Handler {
	start := d.StartedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{d: d, startedAt: start, internalTok: strings.TrimSpace(d.InternalToken)}
}

type storeStat struct {
	Driver     string     `json:"driver"`
	Reachable  bool       `json:"reachable"`
	PingMs     int64      `json:"ping_ms"`
	Error      string     `json:"error,omitempty"`
	CheckedAt  string     `json:"checked_at"`
	TimeoutSec int        `json:"timeout_sec"`
	Pool       *poolStats `json:"pool,omitempty"`
}

type poolStats struct {
	TotalConns        int32 `json:"total_conns"`
	IdleConns         int32 `json:"idle_conns"`
	AcquiredConns     int32 `json:"acquired_conns"`
	MaxConns          int32 `json:"max_conns"`
	AcquireCount      int64 `json:"acquire_count"`
	EmptyAcquireCount int64 `json:"empty_acquire_count"`
	AcquireDurationMs int64 `json:"acquire_duration_ms"`
}

type pricingStat struct {
	Quotes       marketdata.CacheStats       `json:"quotes"`
	Loops        map[string]ingest.LoopStats `json:"loops,omitempty"`
	PolicyStale  bool                        `json:"policy_stale"`
	FeedDegraded bool                        `json:"feed_degraded"`
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type readyResponse struct {
	liveResponse
	Store storeStat `json:"store"`
}

type fullResponse struct {
	readyResponse
	Mode    string       `json:"mode"`
	Addr    string       `json:"http_addr"`
	Pricing pricingStat  `json:"pricing"`
	Runtime runtimeStats `json:"runtime"`
	Build   buildStats   `json:"build"`
	Host    string       `json:"hostname"`
	PID     int          `json:"pid"`
}

type runtimeStats struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	GoMaxProcs int    `json:"gomaxprocs"`
	NumGC      uint32 `json:"num_gc"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
}

type buildStats struct {
	MainPath string `json:"main_path"`
	Version  string `json:"version"`
}

func (h *Handler) live(now time.Time) liveResponse {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		uptime = 0
	}
	return liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.Truncate(time.Second).String(),
	}
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) requireInternalToken(w http.ResponseWriter, r *http.Request) bool {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return false
	}
	if !secureTokenEqual(strings.TrimSpace(r.Header.Get("X-Internal-Token")), h.internalTok) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return false
	}
	return true
}

func (h *Handler) checkStore(ctx context.Context, withPool bool) storeStat {
	st := storeStat{Driver: h.d.StoreDriver, TimeoutSec: 1}
	if h.d.Store == nil {
		st.Error = "store is not configured"
		st.CheckedAt = time.Now().UTC().Format(time.RFC3339)
		return st
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(st.TimeoutSec)*time.Second)
	err := h.d.Store.Ping(pingCtx)
	cancel()
	st.PingMs = time.Since(start).Milliseconds()
	st.CheckedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Reachable = true
	}
	if withPool && h.d.Pool != nil {
		stat := h.d.Pool.Stat()
		st.Pool = &poolStats{
			TotalConns:        stat.TotalConns(),
			IdleConns:         stat.IdleConns(),
			AcquiredConns:     stat.AcquiredConns(),
			MaxConns:          stat.MaxConns(),
			AcquireCount:      stat.AcquireCount(),
			EmptyAcquireCount: stat.EmptyAcquireCount(),
			AcquireDurationMs: stat.AcquireDuration().Milliseconds(),
		}
	}
	return st
}

func (h *Handler) pricing() pricingStat {
	var ps pricingStat
	if h.d.Cache != nil {
		ps.Quotes = h.d.Cache.Stats()
		ps.FeedDegraded = ps.Quotes.Catalog > 0 && ps.Quotes.Live == 0
	}
	if h.d.Ingest != nil {
		ps.Loops = h.d.Ingest.Stats()
	}
	if h.d.Policy != nil {
		ps.PolicyStale = h.d.Policy.Stale()
	}
	return ps
}

// Live never touches dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.live(time.Now().UTC()))
}

// Ready fails with 503 when the store is unreachable. Stale quotes do not fail
// readiness since callers still get synthetic prices.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{liveResponse: h.live(time.Now().UTC()), Store: h.checkStore(r.Context(), false)}
	status := http.StatusOK
	if !resp.Store.Reachable {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := fullResponse{
		readyResponse: readyResponse{liveResponse: h.live(time.Now().UTC()), Store: h.checkStore(r.Context(), true)},
		Mode:          h.d.Mode,
		Addr:          h.d.HTTPAddr,
		Pricing:       h.pricing(),
		Runtime: runtimeStats{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			GoMaxProcs: runtime.GOMAXPROCS(0),
			NumGC:      mem.NumGC,
			HeapAlloc:  mem.HeapAlloc,
			Sys:        mem.Sys,
		},
		PID: os.Getpid(),
	}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		resp.Build = buildStats{MainPath: info.Main.Path, Version: info.Main.Version}
	}
	if host, err := os.Hostname(); err == nil {
		resp.Host = host
	}
	status := http.StatusOK
	if !resp.Store.Reachable {
		status = http.StatusServiceUnavailable
	}
	if !resp.Store.Reachable || resp.Pricing.FeedDegraded || resp.Pricing.PolicyStale {
		resp.Status = "degraded"
	}
	httputil.WriteJSON(w, status, resp)
}

// Metrics renders Prometheus text format.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	st := h.checkStore(r.Context(), false)
	ps := h.pricing()
	up := 0
	if st.Reachable {
		up = 1
	}
	stale := 0
	if ps.PolicyStale {
		stale = 1
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	gauge := func(name, help string, v any) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
	}
	gauge("riskengine_up", "Service process is running.", 1)
	gauge("riskengine_uptime_seconds", "Service uptime in seconds.", int64(time.Since(h.startedAt).Seconds()))
	gauge("riskengine_store_up", "Store ping status (1=ok,0=down).", up)
	gauge("riskengine_store_ping_milliseconds", "Store ping latency.", st.PingMs)
	gauge("riskengine_quotes_live", "Symbols with a fresh live quote.", ps.Quotes.Live)
	gauge("riskengine_quotes_stale", "Symbols whose live quote aged out.", ps.Quotes.Stale)
	gauge("riskengine_quotes_synthetic", "Symbols served synthetically.", ps.Quotes.Synthetic)
	gauge("riskengine_policy_stale", "Pricing policy served from last good snapshot.", stale)
	gauge("riskengine_go_goroutines", "Number of goroutines.", runtime.NumGoroutine())

	names := make([]string, 0, len(ps.Loops))
	for name := range ps.Loops {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l := ps.Loops[name]
		_, _ = fmt.Fprintf(w, "riskengine_ingest_applied_total{loop=%q} %d\n", name, l.Applied)
		_, _ = fmt.Fprintf(w, "riskengine_ingest_failed_total{loop=%q} %d\n", name, l.Failed)
		_, _ = fmt.Fprintf(w, "riskengine_ingest_skipped_total{loop=%q} %d\n", name, l.Skipped)
	}
}
