package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/auth"
	"github.com/memos-platform/memos/internal/database"
	"github.com/memos-platform/memos/internal/memos"
	mw "github.com/memos-platform/memos/internal/middleware"
	iredis "github.com/memos-platform/memos/internal/redis"
	"github.com/memos-platform/memos/internal/search"
	"github.com/memos-platform/memos/internal/server"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cache invalidation consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}

	if migrate {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	memoHandler := memos.NewHandler(a.memoSvc)
	searchHandler := search.NewHandler(a.searchSvc)
	keyHandler := auth.NewHandler(a.authSvc)
	limiter := mw.NewRateLimiter(a.redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, func(r *http.Request) string {
		return auth.OwnerID(r.Context())
	})

	checks := []api.HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return database.HealthCheck(ctx, a.pool) }},
		{Name: "redis", Check: func(ctx context.Context) error { return iredis.HealthCheck(ctx, a.redisClient) }},
		{Name: "nats"},
	}
	if a.natsClient != nil {
		checks[2].Check = func(context.Context) error {
			if !a.natsClient.Healthy() {
				return errNATSDisconnected
			}
			return nil
		}
	}

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimiter:        limiter.Middleware,
		ReadinessChecks:    checks,
	}, api.HandlerSet{
		ListMemos:    memoHandler.List,
		CreateMemo:   memoHandler.Create,
		GetMemo:      memoHandler.Get,
		UpdateMemo:   memoHandler.Update,
		DeleteMemo:   memoHandler.Delete,
		SearchMemos:  searchHandler.Search,
		BackfillMemo: memoHandler.Backfill,

		CreateAPIKey: keyHandler.CreateKey,
		ListAPIKeys:  keyHandler.ListKeys,
		RevokeAPIKey: keyHandler.RevokeKey,

		AuthMiddleware: auth.Middleware(a.authSvc),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(cfg.Server, router).Run(gctx)
	})
	g.Go(func() error {
		return a.runConsumer(gctx)
	})
	return g.Wait()
}
