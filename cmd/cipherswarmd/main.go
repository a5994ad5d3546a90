// Command cipherswarmd is the coordination server: it wires together the
// Agent Registry, Task Scheduler, Progress Reconciler, Crack Ingestor,
// Timekeeper, and the three HTTP surfaces against a PostgreSQL-backed Store,
// then serves until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/adminrpc"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/otelx"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/api"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/catalog"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/database"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/ingestor"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/planner"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/reconciler"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/registry"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/scheduler"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/timekeeper"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/version"
)

// notifyChannel is the Postgres NOTIFY channel the Event Emitter publishes
// on and the Listener subscribes to.
const notifyChannel = "cipherswarm_events"

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	if err := run(*configDir); err != nil {
		slog.Error("cipherswarmd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting cipherswarmd", "version", version.Full())

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	shutdownTracing := otelx.Init(ctx, cfg.OTLPEndpoint, "cipherswarmd")
	defer otelx.Flush(context.Background(), shutdownTracing)

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgresql", "database", dbCfg.Database)

	store := repository.NewPostgres(dbClient.Pool)

	realClock := clock.Real{}
	ids := clock.UUIDGenerator{}
	broadcaster := events.NewBroadcaster()
	emitter := events.NewPGEmitter(dbClient.Pool, notifyChannel)

	listener := events.NewListener(dbCfg.DSN(), notifyChannel, broadcaster)
	go listener.Run(ctx)

	p := planner.New(cfg.Scheduler)
	reg := registry.New(store, realClock, ids, cfg.Scheduler)
	sched := scheduler.New(store, realClock, ids, cfg.Scheduler, p, emitter)
	rec := reconciler.New(store, realClock, cfg.Scheduler, emitter)
	ing := ingestor.New(store, realClock, emitter)
	cat := catalog.New(store, realClock, ids, sched)
	tk := timekeeper.New(store, realClock, cfg.Scheduler, sched, emitter)

	tk.Start(ctx)
	defer tk.Stop()

	server := api.NewServer(cfg.Server, store, realClock, reg, sched, rec, ing, cat, broadcaster)
	errCh := server.Start()
	slog.Info("http surfaces listening",
		"agent_addr", cfg.Server.AgentAddr, "web_addr", cfg.Server.WebAddr, "control_addr", cfg.Server.ControlAddr)

	grpcServer := grpc.NewServer()
	adminrpc.RegisterTimekeeperControlServer(grpcServer, adminrpc.NewServer(tk))
	lis, err := net.Listen("tcp", cfg.Server.AdminRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for admin rpc: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("admin rpc server error", "error", err)
		}
	}()
	slog.Info("admin rpc listening", "addr", cfg.Server.AdminRPCAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("http surface failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http surfaces", "error", err)
	}
	grpcServer.GracefulStop()

	return nil
}
