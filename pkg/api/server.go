// Package api implements the admin HTTP surface: enqueueing profile jobs,
// queue metrics, provider health, and liveness probes.
package api

import (
	"context"
	stdsql "database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/llm"
	"github.com/buscafornecedor/profiler/pkg/queue"
)

// JobStore is the slice of the queue store the API uses.
type JobStore interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (int64, bool, error)
	Metrics(ctx context.Context) (*queue.Metrics, error)
}

// PoolReporter reports worker pool health.
type PoolReporter interface {
	Health() *queue.PoolHealth
}

// ProviderReporter exposes the LLM health monitor snapshot.
type ProviderReporter interface {
	Snapshot() []llm.ProviderHealth
}

// Server is the admin API server.
type Server struct {
	db        *stdsql.DB
	store     JobStore
	pool      PoolReporter
	providers ProviderReporter
	config    *config.ServerConfig
}

// NewServer creates a new admin API server. db may be nil, in which case the
// health endpoint skips the database check.
func NewServer(db *stdsql.DB, store JobStore, pool PoolReporter, providers ProviderReporter, cfg *config.ServerConfig) *Server {
	return &Server{
		db:        db,
		store:     store,
		pool:      pool,
		providers: providers,
		config:    cfg,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/queue", s.enqueueHandler)
	v1.POST("/queue/batch", s.enqueueBatchHandler)
	v1.GET("/queue/metrics", s.queueMetricsHandler)
	v1.GET("/providers/health", s.providersHealthHandler)

	return r
}

// HTTPServer wraps the router in an http.Server bound to the configured
// listen address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Router(),
	}
}
