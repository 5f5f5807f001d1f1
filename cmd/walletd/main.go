// Package main is the entry point for the wallet connection daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/tqthu/web3-thu-duc/business/wallet"
	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	walletDI "github.com/tqthu/web3-thu-duc/business/wallet/di"
	"github.com/tqthu/web3-thu-duc/internal/apm"
	"github.com/tqthu/web3-thu-duc/internal/config"
	"github.com/tqthu/web3-thu-duc/internal/health"
	"github.com/tqthu/web3-thu-duc/internal/logger"
	"github.com/tqthu/web3-thu-duc/internal/metrics"
	"github.com/tqthu/web3-thu-duc/internal/monolith"
	"github.com/tqthu/web3-thu-duc/pkg/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file")
	cliMode := flag.Bool("cli", false, "Run in CLI mode with logs (no TUI)")
	connect := flag.String("connect", "", "Connector to activate on startup (CLI mode)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("walletd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// TUI is the default, CLI is for debugging
	tuiMode := !*cliMode

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if !tuiMode {
			fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		}
		cancel()
	}()

	if err := run(ctx, *configPath, tuiMode, *connect); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, tuiMode bool, connect string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.App.TUIMode = tuiMode

	var out io.Writer = os.Stderr
	if tuiMode {
		// The alt screen owns the terminal.
		out = io.Discard
	}
	log := logger.New(out, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, logger.OTELTraceID)
	log.Info(ctx, "starting walletd", "version", version, "environment", cfg.App.Environment)

	if cfg.Telemetry.Enabled {
		stop, err := startTelemetry(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	healthServer := health.NewServer(cfg.Health.Port, version, log)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.Health.Port)
	}
	defer healthServer.Stop(context.Background())

	mono := monolith.New(cfg, log)

	modules := []monolith.Module{
		&wallet.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mono.Close(shutdownCtx)
	}()

	svc := walletDI.GetWalletService(mono.Services())
	healthServer.RegisterCheck("wallet", wallet.HealthCheck(svc))

	if tuiMode {
		return runTUI(ctx, svc, mono)
	}
	return runCLI(ctx, svc, connect, log)
}

func startTelemetry(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (func(), error) {
	traceProvider, err := apm.NewTraceProvider(apm.Config{
		Provider:    apm.Provider(cfg.Telemetry.TraceProvider),
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}

	registry := promclient.NewRegistry()
	meterProvider, err := metrics.NewMetricProvider(
		metrics.WithServiceName(cfg.Telemetry.ServiceName),
		metrics.WithRegistry(registry),
		metrics.WithProviderConfig(metrics.ProviderCfg{Provider: metrics.PrometheusProvider}),
	)
	if err != nil {
		traceProvider.Stop()
		return nil, fmt.Errorf("failed to start metrics: %w", err)
	}

	promServer := metrics.NewPrometheusServer(cfg.Telemetry.PrometheusPort, registry, log)
	if err := promServer.Start(); err != nil {
		log.Warn(ctx, "failed to start prometheus server", "error", err)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		promServer.Stop(shutdownCtx)
		meterProvider.Shutdown(shutdownCtx)
		traceProvider.Stop()
	}, nil
}

func runCLI(ctx context.Context, svc *app.WalletService, connect string, log logger.LoggerInterface) error {
	views := make(chan app.View, 16)
	sub := svc.SubscribeViews(views)
	defer sub.Unsubscribe()

	if connect != "" {
		go func() {
			<-svc.Probe().Done()
			if err := svc.RequestActivation(ctx, connect); err != nil {
				log.Error(ctx, "activation request failed", "connector", connect, "error", err)
			}
		}()
	}

	var last app.View
	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "shutting down")
			return nil
		case v := <-views:
			if sameStatus(last, v) {
				continue
			}
			last = v
			args := []any{
				"status", v.Status,
				"connector", v.Connector,
				"chain_id", v.ChainID,
				"account", v.Account.String(),
			}
			if h, ok := v.BlockHeight.Get(); ok {
				args = append(args, "block", h)
			}
			if v.Error != nil {
				args = append(args, "error", v.Error.Message())
			}
			if v.EagerError != nil && !v.Active {
				args = append(args, "eager_error", v.EagerError.Message())
			}
			log.Info(ctx, "wallet status", args...)
		case err := <-sub.Err():
			return err
		}
	}
}

// sameStatus ignores balance-only changes.
func sameStatus(a, b app.View) bool {
	return a.Status == b.Status && a.Connector == b.Connector && a.ChainID == b.ChainID &&
		a.Account == b.Account && a.BlockHeight == b.BlockHeight && a.Error == b.Error &&
		a.EagerError == b.EagerError
}

func runTUI(ctx context.Context, svc *app.WalletService, mono monolith.Monolith) error {
	views := make(chan app.View, 16)
	sub := svc.SubscribeViews(views)
	defer sub.Unsubscribe()

	model := ui.New(ctx, svc, views, mono.AssetRegistry())
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
