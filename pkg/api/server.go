// Package api implements the three HTTP surfaces:
// the agent surface (bearer csa_ tokens, legacy {"error": ...} wire shape),
// the web UI surface (JWT, FastAPI-style {"detail": ...} errors, SSE), and
// the control surface (bearer cst_ tokens, RFC9457 problem+json errors).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/catalog"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/ingestor"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/reconciler"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/registry"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/scheduler"
)

// Server hosts the three HTTP surfaces on their own listen addresses.
type Server struct {
	cfg *config.ServerConfig

	registry    *registry.Registry
	scheduler   *scheduler.Scheduler
	reconciler  *reconciler.Reconciler
	ingestor    *ingestor.Ingestor
	catalog     *catalog.Catalog
	broadcaster *events.Broadcaster
	clock       clock.Clock
	store       repository.Store

	agentSrv   *http.Server
	webSrv     *http.Server
	controlSrv *http.Server
}

// NewServer wires the three gin engines against the core components.
func NewServer(
	cfg *config.ServerConfig,
	store repository.Store,
	c clock.Clock,
	reg *registry.Registry,
	sched *scheduler.Scheduler,
	rec *reconciler.Reconciler,
	ing *ingestor.Ingestor,
	cat *catalog.Catalog,
	broadcaster *events.Broadcaster,
) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		clock:       c,
		registry:    reg,
		scheduler:   sched,
		reconciler:  rec,
		ingestor:    ing,
		catalog:     cat,
		broadcaster: broadcaster,
	}

	agentEngine := gin.New()
	agentEngine.Use(gin.Recovery(), securityHeaders())
	s.setupAgentRoutes(agentEngine)
	s.agentSrv = &http.Server{Addr: cfg.AgentAddr, Handler: agentEngine}

	webEngine := gin.New()
	webEngine.Use(gin.Recovery(), securityHeaders())
	s.setupWebRoutes(webEngine)
	s.webSrv = &http.Server{Addr: cfg.WebAddr, Handler: webEngine}

	controlEngine := gin.New()
	controlEngine.Use(gin.Recovery(), securityHeaders())
	s.setupControlRoutes(controlEngine)
	s.controlSrv = &http.Server{Addr: cfg.ControlAddr, Handler: controlEngine}

	return s
}

// Start begins serving all three surfaces; each listens in its own
// goroutine. Errors are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 3)
	go func() { errCh <- serveIgnoringShutdown(s.agentSrv) }()
	go func() { errCh <- serveIgnoringShutdown(s.webSrv) }()
	go func() { errCh <- serveIgnoringShutdown(s.controlSrv) }()
	return errCh
}

func serveIgnoringShutdown(srv *http.Server) error {
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops all three surfaces, bounded by ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, srv := range []*http.Server{s.agentSrv, s.webSrv, s.controlSrv} {
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

const requestTimeout = 5 * time.Second
