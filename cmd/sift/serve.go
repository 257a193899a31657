package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/sift/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reports over HTTP (and MCP on stdio with --mcp)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.Server.Addr
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		deps := api.Deps{Store: a.store, Budget: a.ledger, Token: cfg.Server.Token}
		if cfg.Server.Token == "" {
			printWarning("server.token is not set; endpoints are unauthenticated")
		}

		srv := &http.Server{
			Addr:    addr,
			Handler: api.NewHandler(deps),
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 2)
		go func() {
			slog.Info("status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server error: %w", err)
			}
		}()

		if withMCP {
			mcpServer := api.NewMCPServer(deps, version)
			go func() {
				slog.Info("MCP server listening on stdio")
				if err := server.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					errCh <- fmt.Errorf("mcp server error: %w", err)
				}
			}()
		}

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case err := <-errCh:
			stop()
			shutdown(srv)
			return err
		}
		return shutdown(srv)
	},
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdin/stdout")
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")
}
