package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/shoplens/shoplens/pkg/ingest"
	"github.com/shoplens/shoplens/server/internal/alerts"
	"github.com/shoplens/shoplens/server/internal/api"
	"github.com/shoplens/shoplens/server/internal/auth"
	"github.com/shoplens/shoplens/server/internal/config"
	"github.com/shoplens/shoplens/server/internal/metrics"
	"github.com/shoplens/shoplens/server/internal/receiver"
	"github.com/shoplens/shoplens/server/internal/store"
	"github.com/shoplens/shoplens/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("shoplens-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults and environment", "config", *configPath)
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"ws_path", cfg.Server.WS.Path,
		"auth_mode", cfg.Server.Auth.Mode,
		"event_ttl", cfg.Server.Events.TTL,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, level); err != nil {
		slog.Error("shoplens-server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("shoplens-server stopped")
}

// run wires every component and blocks until ctx is cancelled or one of the
// servers fails.
func run(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) error {
	m := metrics.New()

	hub := ws.New(ws.Options{
		Path:            cfg.Server.WS.Path,
		Greeting:        cfg.Server.WS.Greeting,
		SendBuffer:      cfg.Server.WS.SendBuffer,
		MaxMessageBytes: cfg.Server.WS.MaxMessageBytes,
		Metrics:         m,
	})

	// Recent-event cache with background TTL eviction.
	st := store.New(cfg.Server.Events.TTL, cfg.Server.Events.PerOrg)

	// Alerts engine: evaluates rate rules on every event and on a ticker.
	alertEngine := alerts.New(cfg.Server.Alerts, hub, m)

	rec := receiver.New(st, hub, alertEngine, m)

	// gRPC ingest with optional API key authentication interceptor.
	authMode, authHeader, authKey := cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key()
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(authMode, authHeader, authKey)))
	ingest.RegisterIngestServer(grpcSrv, rec)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
	}

	// Shared HTTP listener: the socket gateway in front of the REST API.
	restAPI := api.New(api.Deps{
		Store:   st,
		Hub:     hub,
		Ingest:  rec,
		Alerts:  alertEngine,
		Auth:    auth.APIKeyMiddleware(authMode, authHeader, authKey),
		Metrics: m.Handler(),
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           hub.Gateway(restAPI),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gRPC ingest listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "ws_path", cfg.Server.WS.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { st.Run(gctx); return nil })
	g.Go(func() error { alertEngine.Run(gctx); return nil })

	// Hot reload: greeting, log level and alert rules apply live. Ports, paths
	// and auth need a restart.
	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(updated *config.Config) {
			hub.SetGreeting(updated.Server.WS.Greeting)
			level.Set(updated.Server.Level())
			alertEngine.SetRules(updated.Server.Alerts)
			slog.Info("config hot-reloaded",
				"log_level", updated.Server.LogLevel,
				"alert_rules", len(updated.Server.Alerts.Rules),
			)
		})
		if err != nil {
			slog.Warn("config watcher stopped", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shoplens-server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked sockets are not tracked by Shutdown; hub.Run closes them.
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "err", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}
