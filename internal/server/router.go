package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/slamon/internal/backlog"
	"github.com/loykin/slamon/internal/breaker"
	"github.com/loykin/slamon/internal/collector"
	"github.com/loykin/slamon/internal/metrics"
	"github.com/loykin/slamon/internal/shipper"
)

// Router provides embeddable HTTP handlers for the monitoring daemon.
// Endpoints:
//
//	POST {basePath}/record   body: {"channel": "...", "elapsed_seconds": 1.2}
//	POST {basePath}/resync   trigger a reconciliation cycle
//	GET  {basePath}/status   breaker state, backlog depth, channel stats
//	GET  {basePath}/healthz  probe the remote ingestion service
//	GET  {basePath}/metrics  Prometheus metrics (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	col      *collector.Collector
	ship     *shipper.Client
	brk      *breaker.Breaker
	store    *backlog.Store
	health   collector.HealthChecker
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(col *collector.Collector, ship *shipper.Client, brk *breaker.Breaker,
	store *backlog.Store, health collector.HealthChecker, basePath string, withMetrics bool) *Router {
	return &Router{
		col:      col,
		ship:     ship,
		brk:      brk,
		store:    store,
		health:   health,
		basePath: sanitizeBase(basePath),
		metrics:  withMetrics,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/record", r.handleRecord)
	group.POST("/resync", r.handleResync)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type recordReq struct {
	Channel        string  `json:"channel"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type recordResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleRecord(c *gin.Context) {
	var req recordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Channel == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "channel required"})
		return
	}
	if err := r.col.Record(c.Request.Context(), req.Channel, req.ElapsedSeconds); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, recordResp{OK: true})
}

type resyncResp struct {
	Synced int `json:"synced"`
}

func (r *Router) handleResync(c *gin.Context) {
	synced, err := r.ship.Resync(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, resyncResp{Synced: synced})
}

type statusResp struct {
	BreakerState    string                            `json:"breaker_state"`
	Failures        int                               `json:"consecutive_failures"`
	BacklogUnsynced int                               `json:"backlog_unsynced"`
	Channels        map[string]collector.ChannelStats `json:"channels"`
}

func (r *Router) handleStatus(c *gin.Context) {
	unsynced, err := r.store.UnsyncedCount()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statusResp{
		BreakerState:    r.brk.State().String(),
		Failures:        r.brk.Failures(),
		BacklogUnsynced: unsynced,
		Channels:        r.col.Metrics(),
	})
}

type healthResp struct {
	Status  string  `json:"status"`
	Latency float64 `json:"latency_seconds,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	latency, err := r.health.Health(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{Status: "healthy", Latency: latency.Seconds()})
}
