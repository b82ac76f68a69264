// Command receiptsync is the view gateway. It keeps one live group view per
// Watch stream in sync with the backing service and serves it over Connect.
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

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/config"
	"github.com/mmynk/receiptsync/internal/gateway"
	"github.com/mmynk/receiptsync/internal/metrics"
	"github.com/mmynk/receiptsync/internal/middleware"
	"github.com/mmynk/receiptsync/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg := config.Load(*envFile)
	logging.Setup(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	views := gateway.BackendViews(cfg, m, slog.Default())
	gw := gateway.NewServer(views, calculator.New(cfg.TaxRate), m, nil)

	mux := http.NewServeMux()
	mux.Handle(gw.Handler(connect.WithInterceptors(middleware.LoggingInterceptor(nil))))
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Watch streams outlive any write timeout, so none is set.
	handler := middleware.HTTPLogging(nil, m)(middleware.CORS(mux))
	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("View gateway starting",
			"address", cfg.GatewayAddr,
			"backend", cfg.BackendURL,
			"realtime_mode", cfg.RealtimeMode,
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		gw.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Gateway failed", "error", err)
		os.Exit(1)
	}
}
