package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/themerig"
	"github.com/loykin/themerig/internal/server"
)

const (
	transportStdio = "stdio"
	transportSSE   = "sse"
	transportHTTP  = "http"
)

func createServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools until interrupted",
		Long: `Serve create_environment and get_screenshots.

Transports:
  stdio  MCP over stdin/stdout (default); logs never go to stdout
  sse    MCP over server-sent events on --addr
  http   REST API and /metrics on --addr

Both services are stopped on SIGINT, SIGTERM or when the stdio client
disconnects.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, global, flags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Transport, "transport", transportStdio, "stdio, sse or http")
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "listen address for sse/http (default server.addr)")
	return cmd
}

func runServe(ctx context.Context, global *GlobalFlags, flags *ServeFlags, in io.Reader, out io.Writer) error {
	switch flags.Transport {
	case transportStdio, transportSSE, transportHTTP:
	default:
		return fmt.Errorf("unknown transport %q: use stdio, sse or http", flags.Transport)
	}
	cfg, err := themerig.LoadConfig(global.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	addr := cfg.Server.Addr
	if flags.Addr != "" {
		addr = flags.Addr
	}

	// stdout belongs to the stdio transport
	log, closer := cfg.Log.NewSlogger(os.Stderr)
	defer func() { _ = closer.Close() }()

	app, err := themerig.New(cfg, themerig.Options{Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("closing history store", "error", err)
		}
	}()
	log.Info("themerig serving", "version", version, "transport", flags.Transport, "project_root", cfg.ProjectRoot)

	switch flags.Transport {
	case transportSSE:
		return app.Tools(version).ServeSSE(ctx, addr, "http://"+addr)
	case transportHTTP:
		return serveHTTP(ctx, server.NewServer(addr, app.Router()), log)
	default:
		return app.Tools(version).ServeStdio(ctx, in, out)
	}
}

func serveHTTP(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("http api listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
