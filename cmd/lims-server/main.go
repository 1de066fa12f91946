package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hemalab/lims/internal/config"
	"github.com/hemalab/lims/internal/domain/catalog"
	"github.com/hemalab/lims/internal/domain/instrument"
	"github.com/hemalab/lims/internal/domain/interchange"
	"github.com/hemalab/lims/internal/domain/inventory"
	"github.com/hemalab/lims/internal/domain/order"
	"github.com/hemalab/lims/internal/domain/review"
	"github.com/hemalab/lims/internal/domain/subject"
	"github.com/hemalab/lims/internal/platform/ai"
	"github.com/hemalab/lims/internal/platform/audit"
	"github.com/hemalab/lims/internal/platform/db"
	"github.com/hemalab/lims/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lims-server",
		Short: "Laboratory information API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
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
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Audit sink
	recorder := audit.NewPGRecorder(pool, logger)

	// Text generator for model-assisted review; optional outside production
	var generator ai.Generator
	if cfg.GenAIAPIKey != "" {
		client, err := ai.NewGenAIClient(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create generator client")
		}
		generator = client
		logger.Info().Str("model", cfg.GenAIModel).Msg("model-assisted review enabled")
	} else {
		logger.Warn().Msg("GENAI_API_KEY not set, model-assisted review disabled")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "X-Actor"},
	}))
	e.Use(middleware.AccessLog(logger, recorder))

	// Repositories
	subjectRepo := subject.NewRepoPG(pool)
	instrumentRepo := instrument.NewRepoPG(pool)
	parameterRepo := catalog.NewParameterRepoPG(pool)
	ruleRepo := catalog.NewFlaggingRuleRepoPG(pool)
	panelRepo := catalog.NewPanelRepoPG(pool)
	consumableRepo := inventory.NewConsumableRepoPG(pool)
	orderRepo := order.NewOrderRepoPG(pool)
	entryRepo := order.NewResultEntryRepoPG(pool)
	commentRepo := order.NewCommentRepoPG(pool)
	messageRepo := interchange.NewRepoPG(pool)

	// Services
	subjectSvc := subject.NewService(subjectRepo)
	instrumentSvc := instrument.NewService(instrumentRepo)
	catalogSvc := catalog.NewService(parameterRepo, ruleRepo, panelRepo)
	inventorySvc := inventory.NewService(consumableRepo)
	messageRecorder := interchange.NewRecorder(messageRepo)
	orderSvc := order.NewService(orderRepo, entryRepo, commentRepo,
		instrumentSvc, subjectSvc, catalogSvc, inventorySvc, messageRecorder, recorder)
	interchangeSvc := interchange.NewService(messageRepo, orderSvc, cfg.MessageTTLDays, logger)
	reviewSvc := review.NewService(orderSvc, entryRepo, catalogSvc, subjectSvc,
		generator, recorder, logger, cfg.AIMaxTokens, cfg.AITemperature)

	// Routes
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	subject.NewHandler(subjectSvc).RegisterRoutes(apiV1)
	instrument.NewHandler(instrumentSvc).RegisterRoutes(apiV1)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	inventory.NewHandler(inventorySvc).RegisterRoutes(apiV1)
	order.NewHandler(orderSvc).RegisterRoutes(apiV1)
	interchange.NewHandler(interchangeSvc).RegisterRoutes(apiV1)
	review.NewHandler(reviewSvc).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

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
