package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jsverre/stevedore/internal/api"
	"github.com/jsverre/stevedore/internal/audit"
	"github.com/jsverre/stevedore/internal/config"
	"github.com/jsverre/stevedore/internal/db"
	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/lifecycle"
	"github.com/jsverre/stevedore/internal/logging"
	"github.com/jsverre/stevedore/internal/metrics"
	"github.com/jsverre/stevedore/internal/model"
	"github.com/jsverre/stevedore/internal/proxy"
	"github.com/jsverre/stevedore/internal/registry"
	"github.com/jsverre/stevedore/internal/supervisor"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-user" {
		createUser(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	eng, err := engine.NewDockerEngine(logger, cfg.DockerHost, cfg.EngineTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to container engine")
	}
	defer eng.Close()

	reg := registry.New(logger)
	reconciler := registry.NewReconciler(logger, eng, reg, cfg.ReconcileInterval)
	sup := supervisor.New(logger, eng, reg, cfg.StatsInterval, cfg.SampleWindow)
	proxyMgr := proxy.NewManager(logger, reg, cfg.ProxySitesDir, cfg.ProxyReloadCmd, cfg.ProxyDebounce)

	idsvc := identity.NewService(pool, cfg.SessionTTL)
	authz := identity.NewAuthorizer()
	recorder := audit.NewRecorder(pool, logger)
	defer recorder.Close()

	lc := lifecycle.NewManager(logger, eng, reg, authz, recorder, reconciler, cfg.TransitionMaxAttempts)

	// Seed the registry before serving so the first requests do not race the
	// reconciliation loop.
	if err := reconciler.Reconcile(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial reconciliation failed, continuing")
	}

	srv := api.NewServer(logger, pool, eng, reg, sup, lc, idsvc, authz, recorder, proxyMgr, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.RunLoop(gctx) })
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return proxyMgr.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("daemon stopped")
}

func createUser(args []string) {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	password := fs.String("password", "", "Password (required)")
	role := fs.String("role", model.UserRoleUser, "Role: admin or user")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "error: --username and --password are required")
		fmt.Fprintln(os.Stderr, "usage: stevedored create-user --username <name> --password <secret> [--role admin|user]")
		os.Exit(1)
	}
	if *role != model.UserRoleAdmin && *role != model.UserRoleUser {
		fmt.Fprintln(os.Stderr, "error: --role must be admin or user")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := identity.NewService(pool, cfg.SessionTTL)
	user, err := svc.CreateUser(ctx, *username, *password, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User created successfully.\n\n")
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Role:     %s\n", user.Role)
}
