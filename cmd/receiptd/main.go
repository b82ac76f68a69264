// Command receiptd is the reference backing service: the REST and real-time
// endpoints shared group views sync against, on top of SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/config"
	"github.com/mmynk/receiptsync/internal/metrics"
	"github.com/mmynk/receiptsync/internal/middleware"
	"github.com/mmynk/receiptsync/internal/realtime"
	"github.com/mmynk/receiptsync/internal/service"
	"github.com/mmynk/receiptsync/internal/storage/sqlite"
	"github.com/mmynk/receiptsync/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	seed := flag.Bool("seed", false, "create a sample group on startup")
	flag.Parse()

	cfg := config.Load(*envFile)
	logging.Setup(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *seed {
		group, err := service.Seed(ctx, store)
		if err != nil {
			slog.Error("Failed to seed sample data", "error", err)
			os.Exit(1)
		}
		slog.Info("Sample data created", "group_id", group.ID, "receipts", len(group.Receipts))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := realtime.NewHub(
		realtime.WithBroadcastDelay(cfg.BroadcastDelay),
		realtime.WithMetrics(m),
	)

	mux := http.NewServeMux()
	service.NewLedgerService(store, hub, calculator.New(cfg.TaxRate), nil).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	handler := middleware.HTTPLogging(nil, m)(middleware.CORS(mux))
	srv := &http.Server{
		Addr:              cfg.BackendAddr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Backing service starting", "address", cfg.BackendAddr, "broadcast_delay", cfg.BroadcastDelay)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
