package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shoplens/shoplens/agent/internal/config"
	"github.com/shoplens/shoplens/agent/internal/relay"
	"github.com/shoplens/shoplens/pkg/publisher"
)

func main() {
	configPath := flag.String("config", "agent.yaml", "path to config file")
	input := flag.String("input", "", "NDJSON file to relay (overrides agent.input; - for stdin)")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.Level())
	if *input != "" {
		cfg.Agent.Input = *input
	}

	slog.Info("shoplens-agent starting",
		"server_endpoint", cfg.Agent.Publisher.Endpoint,
		"input", cfg.Agent.Input,
		"buffer_size", cfg.Agent.Publisher.BufferSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub, err := publisher.New(cfg.Agent.Publisher)
	if err != nil {
		slog.Error("failed to build publisher", "err", err)
		os.Exit(1)
	}
	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pub.Run(runCtx)
		close(done)
	}()

	var r io.Reader = os.Stdin
	if cfg.Agent.Input != "-" {
		f, err := os.Open(cfg.Agent.Input)
		if err != nil {
			slog.Error("failed to open input", "path", cfg.Agent.Input, "err", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	st, err := relay.Relay(ctx, r, cfg.Agent.DefaultOrg, pub)
	if err != nil && ctx.Err() == nil {
		slog.Error("relay stopped", "err", err)
	}
	slog.Info("input finished", "published", st.Published, "skipped", st.Skipped)

	waitDrained(ctx, pub, cfg.Agent.DrainTimeout)
	stopRun()
	<-done

	slog.Info("shoplens-agent exiting",
		"delivered", pub.Delivered(),
		"dropped", pub.Dropped(),
		"pending", pub.Pending(),
	)
}

// waitDrained polls until the publisher's buffer is empty, the timeout
// elapses or ctx is cancelled.
func waitDrained(ctx context.Context, pub *publisher.Publisher, timeout time.Duration) {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for pub.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			slog.Warn("drain timeout reached with events pending", "pending", pub.Pending())
			return
		case <-tick.C:
		}
	}
}
