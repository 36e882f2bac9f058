package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/abtest/internal/config"
	"github.com/danielpatrickdp/abtest/internal/feed"
	"github.com/danielpatrickdp/abtest/internal/logging"
	"github.com/danielpatrickdp/abtest/internal/metrics"
	"github.com/danielpatrickdp/abtest/internal/rpc"
	"github.com/danielpatrickdp/abtest/internal/session"
	"github.com/danielpatrickdp/abtest/internal/state"
	"github.com/danielpatrickdp/abtest/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// #region main
func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "controller",
		Short:         "Serve a live A/B experiment over gRPC with metrics and a websocket feed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (ABTEST_* variables override it)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run
func run(ctx context.Context, configPath string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.NoColor)

	shutdownTraces, err := telemetry.Init("abtest-controller", cfg.Traces, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTraces(sctx); err != nil {
			log.Error("flush traces", "err", err)
		}
	}()

	store, err := state.NewStore(cfg.AuditDB)
	if err != nil {
		return fmt.Errorf("open audit db %s: %w", cfg.AuditDB, err)
	}
	defer store.Close()

	hub := feed.NewHub(log.With("component", "feed"), cfg.MaxClients)
	sess, err := session.New(session.Options{
		Model:      cfg.EngineModel(),
		Engine:     cfg.EngineConfig(),
		Thresholds: cfg.Thresholds(),
		Store:      store,
		Metrics:    metrics.New(prometheus.DefaultRegisterer),
		Hub:        hub,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	gs := rpc.NewGRPCServer(sess, log.With("component", "rpc"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", "addr", lis.Addr().String(), "db", cfg.AuditDB, "model", cfg.Model)
		return gs.Serve(lis)
	})

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           newMux(hub),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("http listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		gs.GracefulStop()
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(sctx)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// #endregion run

// #region http
// newMux serves Prometheus metrics, the websocket feed and a liveness probe.
func newMux(hub *feed.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/feed", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// #endregion http
