package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labflow/intake/internal/config"
	"github.com/labflow/intake/internal/domain/catalog"
	"github.com/labflow/intake/internal/domain/intake"
	"github.com/labflow/intake/internal/domain/order"
	"github.com/labflow/intake/internal/platform/auth"
	"github.com/labflow/intake/internal/platform/db"
	"github.com/labflow/intake/internal/platform/metrics"
	"github.com/labflow/intake/internal/platform/middleware"
	"github.com/labflow/intake/internal/platform/webhook"
	"github.com/labflow/intake/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Lab order webhook intake service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())
	return rootCmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads config and opens the pool for the one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir != "" {
		return db.NewDirMigrator(pool, dir)
	}
	return db.NewMigrator(pool, migrations.FS)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := newMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				state, at := "pending", ""
				if s.Applied {
					state = "applied"
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the test catalog",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert catalog entries by name from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := catalog.NewService(catalog.NewRepoPG(pool)).Seed(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d catalog entries (%d created, %d updated).\n", res.Total, res.Created, res.Updated)
			return nil
		},
	}
	seedCmd.Flags().String("file", "catalog.yaml", "Path to the catalog seed file")
	cmd.AddCommand(seedCmd)

	return cmd
}

// resolveSigningKey decodes AUTH_SIGNING_KEY, which is hex encoded.
func resolveSigningKey(envValue string) ([]byte, error) {
	if envValue == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(envValue)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
	}
	return key, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	signingKey, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	fieldMap, err := intake.LoadFieldMap(cfg.FieldMapFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load field map")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var authMW echo.MiddlewareFunc
	switch {
	case cfg.IsDev() && cfg.AuthIssuer == "" && len(signingKey) == 0:
		logger.Warn().Msg("dev auth enabled: every API caller is lab_admin")
		authMW = auth.DevAuthMiddleware()
	default:
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey,
		})
	}

	e := newServer(cfg, logger, serverDeps{
		pool:     pool,
		fieldMap: fieldMap,
		metrics:  metrics.Intake(),
		authMW:   authMW,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

type serverDeps struct {
	pool     *pgxpool.Pool
	fieldMap intake.FieldMap
	metrics  *metrics.IntakeMetrics
	authMW   echo.MiddlewareFunc
}

func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", cfg.WebhookSecretHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, "/webhook/:source"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", metrics.Handler())

	catalogSvc := catalog.NewService(catalog.NewRepoPG(deps.pool))
	orderSvc := order.NewService(order.NewRepoPG(deps.pool), deps.metrics)
	logStore := webhook.NewPGLogStore(deps.pool)

	intakeSvc := intake.NewService(logStore, catalogSvc, orderSvc, intake.Options{
		Secret:   cfg.WebhookSecret,
		FieldMap: deps.fieldMap,
		Metrics:  deps.metrics,
		Logger:   logger,
	})
	intake.NewHandler(intakeSvc, cfg.WebhookSecretHeader).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1", deps.authMW)
	order.NewHandler(orderSvc).RegisterRoutes(apiV1)
	webhook.NewLogHandler(logStore).RegisterRoutes(apiV1)

	e.GET("/health/db", db.HealthHandler(deps.pool, func() *db.PoolStats { return db.GetPoolStats(deps.pool) }))

	return e
}
