package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/veriflow/mcp"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr      string
		rateLimit float64
		burst     int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question-answering API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.runner,
				server.WithLogger(logging.WithComponent("server")),
				server.WithRequestTimeout(cfg.Server.RequestTimeout),
				server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
				server.WithRateLimit(rateLimit, burst),
				server.WithServiceName(cfg.Telemetry.ServiceName),
			)
			return srv.ListenAndServe(cmd.Context(), cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "requests per second accepted by /v1/ask, 0 disables")
	cmd.Flags().IntVar(&burst, "burst", 5, "request burst allowed above the rate limit")
	return cmd
}

func newMCPCmd(root *rootOptions) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose verified answering as an MCP tool",
		Long: `Serves the verified_answer tool over stdio by default, so the binary can be
launched directly by an MCP host. With --http the streamable HTTP transport
is served on the given address instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol in stdio mode.
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(a.runner)
			if httpAddr == "" {
				return srv.ServeStdio(cmd.Context())
			}
			return serveMCPHTTP(cmd.Context(), srv.HTTPHandler(), httpAddr, cfg.Server.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

func serveMCPHTTP(ctx context.Context, handler http.Handler, addr string, shutdownTimeout time.Duration) error {
	logger := logging.WithComponent("mcp")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("mcp http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown mcp server: %w", err)
	}
	return nil
}
