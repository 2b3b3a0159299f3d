package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve memo tools over the Model Context Protocol on stdio",
		Long: "Serve memo tools over the Model Context Protocol on stdio.\n\n" +
			"The session acts for the owner of MCP_API_KEY, or for MCP_OWNER_ID when no key is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context())
		},
	}
}

func runMCP(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol, so logs go to stderr.
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ownerID, err := resolveMCPOwner(ctx, a, cfg.MCP)
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(a.searchSvc, a.memoSvc, ownerID)
	if err != nil {
		return err
	}
	slog.Info("mcp server ready", "owner_id", ownerID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Input ending closes the session and stops the consumer too.
		defer stop()
		err := srv.Serve(gctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return a.runConsumer(gctx)
	})
	return g.Wait()
}

func resolveMCPOwner(ctx context.Context, a *app, cfg config.MCPConfig) (string, error) {
	if cfg.APIKey != "" {
		p, err := a.authSvc.AuthenticateAPIKey(ctx, cfg.APIKey)
		if err != nil {
			return "", fmt.Errorf("authenticating MCP_API_KEY: %w", err)
		}
		return p.OwnerID, nil
	}
	if cfg.OwnerID != "" {
		return cfg.OwnerID, nil
	}
	return "", errors.New("MCP_API_KEY or MCP_OWNER_ID is required")
}
