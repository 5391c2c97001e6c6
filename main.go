// Package main runs an MCP server that manages Azure AD users through
// Microsoft Graph, over HTTP+SSE or stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kaizen-ai-systems/msgraph-mcp/internal/config"
	"github.com/kaizen-ai-systems/msgraph-mcp/internal/graph"
	"github.com/kaizen-ai-systems/msgraph-mcp/internal/logger"
	"github.com/kaizen-ai-systems/msgraph-mcp/internal/mcp"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML or JSON config file.",
		Sources: cli.EnvVars("GRAPH_MCP_CONFIG"),
	},
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Usage:   "Set the log level. One of: debug, info, warn, error.",
	},
	&cli.BoolFlag{
		Name:  "json",
		Usage: "Output logs as JSON.",
	},
}

func main() {
	app := &cli.Command{
		Name:    "msgraph-mcp",
		Usage:   "MCP server for Azure AD user management via Microsoft Graph",
		Version: version,
		Flags:   globalFlags,
		Commands: []*cli.Command{
			serveCommand(),
			stdioCommand(),
			toolsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve MCP over HTTP POST with an SSE handshake",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on. Overrides PORT.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("port") {
				cfg.Server.Port = int(cmd.Int("port"))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serveHTTP(ctx, cfg, log)
		},
	}
}

func stdioCommand() *cli.Command {
	return &cli.Command{
		Name:  "stdio",
		Usage: "Serve MCP over stdin/stdout",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			server := newServer(ctx, cfg, log, nil)
			log.Info("starting mcp server", "name", mcp.ServerName, "transport", "stdio")
			if err := server.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil {
				log.Error("mcp server stopped with error", "error", err)
				return err
			}
			return nil
		},
	}
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "Print the tool descriptors served by tools/list",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			server := mcp.NewServer(nil)
			raw, err := json.MarshalIndent(server.ToolDefinitions(), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, string(raw))
			return err
		},
	}
}

func setup(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.Bool("json") {
		cfg.Log.Handler = logger.JSONHandler
	}
	// stdout belongs to the stdio transport.
	return cfg, logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Handler), nil
}

func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger, metrics *mcp.Metrics) *mcp.Server {
	client := graph.New(ctx, graph.Credentials{
		TenantID:     cfg.Azure.TenantID,
		ClientID:     cfg.Azure.ClientID,
		ClientSecret: cfg.Azure.ClientSecret,
		Authority:    cfg.Azure.Authority,
	},
		graph.WithBaseURL(cfg.Graph.BaseURL),
		graph.WithUserAgent(fmt.Sprintf("%s/%s", mcp.ServerName, version)),
	)
	log.Debug("graph client configured", "base_url", client.BaseURL(), "authority", cfg.Azure.Authority)

	return mcp.NewServer(client,
		mcp.WithLogger(log),
		mcp.WithMetrics(metrics),
		mcp.WithVersion(version),
		mcp.WithCallTimeout(cfg.Graph.Timeout),
	)
}

func serveHTTP(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := mcp.NewMetrics()
	// The token source keeps this context for refreshes, so it must outlive
	// the signal context.
	server := newServer(context.WithoutCancel(ctx), cfg, log, metrics)
	transport := mcp.NewHTTPTransport(server, mcp.HTTPOptions{
		EndpointPath:   cfg.Server.EndpointPath,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		StrictSessions: cfg.Server.StrictSessions,
		SessionTTL:     cfg.Server.SessionTTL,
		PingInterval:   cfg.Server.PingInterval,
		MetricsPath:    cfg.Server.MetricsPath,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           transport.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(transport.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting mcp server",
			"name", mcp.ServerName,
			"addr", srv.Addr,
			"endpoint", cfg.Server.EndpointPath,
			"strict_sessions", cfg.Server.StrictSessions,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("mcp server stopped with error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
