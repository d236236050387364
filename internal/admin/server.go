// Package admin is the §6 "CLI/admin surface" made concrete: a small gin
// HTTP API exposing pool/session introspection and force-replenish/force-reap
// operations against a running control-plane process, grounded on the
// teacher's cmd/server main.go gin wiring (gin.New + cors + Recovery),
// scaled down from the teacher's full OpenAPI-validated API surface to a
// handful of operator endpoints.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/depcache"
	"github.com/cloudide-dev/workspace-orchestrator/internal/orchestrator"
	"github.com/cloudide-dev/workspace-orchestrator/internal/pool"
	"github.com/cloudide-dev/workspace-orchestrator/internal/reconciler"
)

const requestTimeout = 30 * time.Second

// Server is the admin/control HTTP surface.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// New builds the admin HTTP server. It does not start listening until Run is
// called.
func New(
	c cfg.AdminConfig,
	poolMgr *pool.Manager,
	orch *orchestrator.Orchestrator,
	dc *depcache.Service,
	rec *reconciler.Reconciler,
	log *zap.Logger,
) *Server {
	if !c.Local {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	r.Use(cors.New(corsConfig))

	reg := prometheus.NewRegistry()
	m := newMetrics(reg, poolMgr, func() int { return len(orch.Sessions()) })

	h := &handlers{poolMgr: poolMgr, orch: orch, dc: dc, rec: rec, metrics: m, log: log}

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	admin := r.Group("/admin")
	admin.GET("/pool", h.listPool)
	admin.GET("/sessions", h.listSessions)
	admin.POST("/pool/replenish", h.forceReplenish)
	admin.POST("/pool/reap", h.forceReap)
	admin.GET("/dep-cache/:hash", h.inspectDepCache)

	return &Server{
		httpServer: &http.Server{
			Addr:              c.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	poolMgr *pool.Manager
	orch    *orchestrator.Orchestrator
	dc      *depcache.Service
	rec     *reconciler.Reconciler
	metrics *metrics
	log     *zap.Logger
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listPool(c *gin.Context) {
	snapshot := h.poolMgr.Snapshot()
	h.metrics.sampleRoleState(snapshot)
	c.JSON(http.StatusOK, gin.H{"sandboxes": snapshot})
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.orch.Sessions()})
}

func (h *handlers) forceReplenish(c *gin.Context) {
	activeUsers := len(h.orch.Sessions())
	if err := h.poolMgr.Replenish(c.Request.Context(), activeUsers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"targetSize": h.poolMgr.TargetSize(activeUsers)})
}

func (h *handlers) forceReap(c *gin.Context) {
	activeUsers := len(h.orch.Sessions())
	if err := h.rec.RunOnce(c.Request.Context(), activeUsers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconciled"})
}

func (h *handlers) inspectDepCache(c *gin.Context) {
	hash := c.Param("hash")
	exists, err := h.dc.Exists(c.Request.Context(), hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.metrics.recordDepCacheLookup(exists)
	c.JSON(http.StatusOK, gin.H{"hash": hash, "exists": exists})
}
