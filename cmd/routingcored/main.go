// Command routingcored is the demo binary wiring C1-C9 into a running
// proxy (SPEC_FULL.md §0): it loads a config.Config, builds a
// mysqlcodec/router.Split pair of example protocol and router modules,
// starts the runtime, optionally attaches an amqpadmin.Listener for
// cross-worker admin commands, and serves until an OS signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"net/http"

	"github.com/lordbasex/routingcore/internal/config"
	"github.com/lordbasex/routingcore/internal/logx"
	"github.com/lordbasex/routingcore/internal/protoimpl/amqpadmin"
	"github.com/lordbasex/routingcore/internal/protoimpl/mysqlcodec"
	"github.com/lordbasex/routingcore/internal/protoimpl/router"
	"github.com/lordbasex/routingcore/internal/runtime"
)

var (
	listenAddr   string
	metricsAddr  string
	masterDSN    string
	replicaDSNs  []string
	amqpURL      string
	amqpQueue    string
	logLevel     string
	logJSON      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "routingcored:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "routingcored",
	Short: "routingcore demo proxy: thread-per-core MySQL routing front-end",
	Long: `routingcored wires the routing/connection-multiplexing core
(internal/worker, internal/session, internal/pool, internal/cache,
internal/coordinator) to a minimal MySQL protocol module and a
read/write-split router, so the core's invariants can be exercised
against a real wire protocol rather than only in unit tests.`,
	RunE: runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&listenAddr, "listen", ":3307", "client-facing listen address")
	flags.StringVar(&metricsAddr, "metrics-listen", ":9107", "Prometheus /metrics listen address")
	flags.StringVar(&masterDSN, "master-dsn", "", "MySQL DSN for the write target (required)")
	flags.StringArrayVar(&replicaDSNs, "replica-dsn", nil, "MySQL DSN for a read target (repeatable)")
	flags.StringVar(&amqpURL, "amqp-url", "", "optional AMQP URL for the administrative command queue")
	flags.StringVar(&amqpQueue, "amqp-queue", "routingcore.admin", "administrative command queue name")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&logJSON, "log-json", false, "emit structured JSON logs instead of console format")
	_ = rootCmd.MarkFlagRequired("master-dsn")
}

func runServe(cmd *cobra.Command, args []string) error {
	logx.Init(logx.Config{Level: logx.Level(logLevel), JSONOutput: logJSON})

	cfg, err := config.LoadFromFlags(flag.NewFlagSet("routingcore", flag.ContinueOnError), nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	master, err := mysqlcodec.ParseTarget("master", masterDSN)
	if err != nil {
		return err
	}
	targets := router.Targets{Master: master.Name}
	for i, dsn := range replicaDSNs {
		name := fmt.Sprintf("replica-%d", i)
		if _, err := mysqlcodec.ParseTarget(name, dsn); err != nil {
			return err
		}
		targets.Replicas = append(targets.Replicas, name)
	}

	reg := prometheus.NewRegistry()

	rt, err := runtime.New(cfg, listenAddr, mysqlcodec.Factory, router.Factory(targets), reg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	var admin *amqpadmin.Listener
	if amqpURL != "" {
		admin, err = amqpadmin.Dial(amqpURL, amqpQueue, rt.Coordinator())
		if err != nil {
			return fmt.Errorf("amqp admin: %w", err)
		}
		go func() {
			if err := admin.Run(ctx); err != nil {
				logx.Logger.Warn().Err(err).Msg("admin listener stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logx.Logger.Info().Str("listen", listenAddr).Str("metrics", metricsAddr).Msg("routingcored ready")
	<-ctx.Done()

	logx.Logger.Info().Msg("shutting down")
	rt.Stop()
	if admin != nil {
		admin.Close()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}
