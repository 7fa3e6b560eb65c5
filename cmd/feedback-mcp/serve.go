package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/feedback-mcp/internal/coordinator"
	"github.com/AltairaLabs/feedback-mcp/internal/coordinator/config"
	"github.com/AltairaLabs/feedback-mcp/internal/health"
	"github.com/AltairaLabs/feedback-mcp/internal/logging"
	"github.com/AltairaLabs/feedback-mcp/internal/metrics"
	"github.com/AltairaLabs/feedback-mcp/internal/payload"
	"github.com/AltairaLabs/feedback-mcp/internal/ports"
	"github.com/AltairaLabs/feedback-mcp/internal/process"
	"github.com/AltairaLabs/feedback-mcp/internal/session"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio (default) or HTTP/SSE",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	addHTTPFlag(cmd, opts)
	return cmd
}

func addHTTPFlag(cmd *cobra.Command, opts *rootOptions) {
	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "Serve MCP over HTTP/SSE on this address instead of stdio (e.g. :8080)")
}

// components is everything runServe wires together.
type components struct {
	metrics    *metrics.Provider
	negotiator *ports.Negotiator
	broker     *session.Broker
	bridge     *coordinator.Bridge
	health     *health.Server
	mcp        *coordinator.MCPServer
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	mp, err := metrics.NewProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	classifier, err := loadClassifier(cfg)
	if err != nil {
		return nil, err
	}
	negotiator, err := newNegotiator(cfg, classifier, mp.Recorder)
	if err != nil {
		return nil, err
	}

	broker := session.NewBroker(
		session.WithRecorder(mp.Recorder),
		session.WithLogger(logging.WithComponent("broker")),
	)

	executor := process.NewRealExecutor()
	var notifier coordinator.Notifier = coordinator.NewLogNotifier(logger)
	if cfg.AutoOpenBrowser {
		notifier = coordinator.NewBrowserNotifier(executor, logger)
	}

	var hs *health.Server
	bridgeOpts := []coordinator.BridgeOption{coordinator.WithBridgeLogger(logging.WithComponent("bridge"))}
	if cfg.HealthPort > 0 {
		hs = health.NewServer(logging.WithComponent("health"))
		bridgeOpts = append(bridgeOpts, coordinator.WithServingHook(hs.SetServing))
	}

	bridge := coordinator.NewBridge(
		coordinator.BridgeConfigFrom(cfg),
		broker,
		negotiator,
		payload.NewProcessor(cfg.MaxAttachmentBytes),
		notifier,
		bridgeOpts...,
	)

	ms := coordinator.NewMCPServer(
		coordinator.Config{Name: appName, Version: version},
		bridge,
		coordinator.NewAuditLogger(logger),
	)

	return &components{
		metrics:    mp,
		negotiator: negotiator,
		broker:     broker,
		bridge:     bridge,
		health:     hs,
		mcp:        ms,
	}, nil
}

func loadClassifier(cfg *config.Config) (*process.Classifier, error) {
	policy, err := process.LoadPolicy(cfg.ProcessPolicyFile)
	if err != nil {
		return nil, err
	}
	return process.NewClassifier(policy), nil
}

func newNegotiator(cfg *config.Config, classifier *process.Classifier, rec metrics.Recorder) (*ports.Negotiator, error) {
	inspector := process.NewShellInspector(process.NewRealExecutor(),
		process.WithInspectorLogger(logging.WithComponent("inspector")))

	pcfg := ports.DefaultConfig()
	pcfg.Host = cfg.WebHost
	pcfg.RangeSize = cfg.PortRangeSize

	return ports.NewNegotiator(pcfg, inspector, classifier,
		ports.WithRecorder(rec),
		ports.WithLogger(logging.WithComponent("ports")),
	)
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Debug || opts.debug)

	logger.Info("Starting feedback MCP server",
		"version", version,
		"debug", cfg.Debug || opts.debug,
		"http_mode", opts.httpAddr != "",
		"web_port", cfg.WebPort,
		"force_port", cfg.ForcePort,
		"timeout_seconds", cfg.DialogTimeout,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		mctx, cancel := context.WithTimeout(context.Background(), config.DefaultMetricsShutdownTimeout)
		defer cancel()
		if err := c.metrics.Close(mctx); err != nil {
			logger.Warn("Metrics shutdown failed", "error", err)
		}
	}()

	if cfg.CleanupPortOnStart {
		c.negotiator.CleanupPort(ctx, cfg.WebPort)
	}

	var healthLn net.Listener
	if c.health != nil {
		healthLn, err = net.Listen("tcp", net.JoinHostPort(cfg.WebHost, strconv.Itoa(cfg.HealthPort)))
		if err != nil {
			return fmt.Errorf("failed to listen on health port %d: %w", cfg.HealthPort, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.broker.Run(gctx, cfg.SweepInterval)
		return nil
	})

	if healthLn != nil {
		g.Go(func() error { return c.health.Serve(healthLn) })
	}

	g.Go(func() error {
		// the client closing stdin ends the process just like a signal
		defer stop()
		if opts.httpAddr != "" {
			return c.mcp.ServeHTTP(gctx, opts.httpAddr)
		}
		return c.mcp.Serve(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		// sessions are aborted before the respondent listener closes
		sctx, cancel := context.WithTimeout(context.Background(), config.DefaultReleaseWait+config.DefaultHTTPShutdownTimeout)
		defer cancel()
		c.bridge.Shutdown(sctx)

		if c.health != nil {
			c.health.Stop(config.DefaultGRPCStopTimeout)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Feedback MCP server shutdown complete")
	return err
}
