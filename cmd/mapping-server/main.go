package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/metadata-mapping/internal/config"
	"github.com/ehr/metadata-mapping/internal/domain/concept"
	"github.com/ehr/metadata-mapping/internal/domain/localmapping"
	"github.com/ehr/metadata-mapping/internal/domain/mapping"
	"github.com/ehr/metadata-mapping/internal/domain/settings"
	"github.com/ehr/metadata-mapping/internal/platform/auth"
	"github.com/ehr/metadata-mapping/internal/platform/db"
	"github.com/ehr/metadata-mapping/internal/platform/metadata"
	"github.com/ehr/metadata-mapping/internal/platform/metrics"
	"github.com/ehr/metadata-mapping/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mapping-server",
		Short: "Metadata mapping API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(localMappingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the metadata mapping server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func localMappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local-mappings",
		Short: "Manage local concept mappings",
	}

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Ensure every concept has a local-source mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			app := buildApp(pool, cfg, logger)

			published, err := app.sync.PublishAll(ctx)
			if err != nil {
				return fmt.Errorf("publish failed after %d concepts: %w", published, err)
			}
			fmt.Printf("Published local mappings for %d concept(s).\n", published)
			return nil
		},
	}
	cmd.AddCommand(publishCmd)

	return cmd
}

// app bundles the wired services so the serve and publish paths share one
// construction routine.
type app struct {
	settings *settings.Service
	mappings *mapping.Service
	concepts *concept.Service
	sync     *localmapping.Synchronizer
	metrics  *metrics.Metrics
}

func buildApp(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) *app {
	m := metrics.New()
	runTx := db.RunnerFor(pool)

	props := settings.NewService(settings.NewRepoPG(pool))
	concepts := concept.NewService(concept.NewRepoPG(pool), runTx)

	registry := metadata.NewRegistry()
	mappings := mapping.NewService(mapping.NewRepoPG(pool), registry, m, runTx)

	// Resolvable referent classes. The set class closes the loop so sets
	// can contain other sets.
	registry.Register("Concept", func(ctx context.Context, uuid string) (metadata.Item, error) {
		c, err := concepts.GetConceptByUUID(ctx, uuid)
		if c == nil || err != nil {
			return nil, err
		}
		return c, nil
	})
	registry.Register("ConceptSource", func(ctx context.Context, uuid string) (metadata.Item, error) {
		s, err := concepts.GetSourceByUUID(ctx, uuid)
		if s == nil || err != nil {
			return nil, err
		}
		return s, nil
	})
	registry.Register(mapping.SetClass, mappings.ResolveSetItem)

	sync := localmapping.NewSynchronizer(props, concepts, m, logger)
	sync.SetPageSize(cfg.PublishPageSize)
	sync.SetImplementationID(cfg.ImplementationID)
	concepts.AddListener(sync)

	return &app{
		settings: props,
		mappings: mappings,
		concepts: concepts,
		sync:     sync,
		metrics:  m,
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app := buildApp(pool, cfg, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", app.metrics.Handler())

	// API routes
	apiV1 := e.Group("/api/v1")
	mapping.NewHandler(app.mappings).RegisterRoutes(apiV1)
	concept.NewHandler(app.concepts).RegisterRoutes(apiV1)
	localmapping.NewHandler(app.sync).RegisterRoutes(apiV1)

	// Graceful shutdown
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
