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

	"github.com/medmarket/medmarket/internal/config"
	"github.com/medmarket/medmarket/internal/domain/anonymize"
	"github.com/medmarket/medmarket/internal/domain/credential"
	"github.com/medmarket/medmarket/internal/domain/listing"
	"github.com/medmarket/medmarket/internal/domain/purchase"
	"github.com/medmarket/medmarket/internal/domain/report"
	"github.com/medmarket/medmarket/internal/platform/auth"
	"github.com/medmarket/medmarket/internal/platform/db"
	"github.com/medmarket/medmarket/internal/platform/deidentify"
	"github.com/medmarket/medmarket/internal/platform/middleware"
	"github.com/medmarket/medmarket/internal/platform/notification"
	"github.com/medmarket/medmarket/internal/platform/payment"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "market-server",
		Short: "Medical data marketplace API server",
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
		Short: "Start the marketplace API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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

	// Collaborators
	deidClient := deidentify.NewHTTPClient(cfg.DeidentifyURL, cfg.DeidentifyAPIKey, cfg.DeidentifyModel)
	verifier := payment.NewHTTPVerifier(cfg.PaymentVerifierURL)

	// Notifications
	var sender notification.EmailSender
	if cfg.SMTPAddr != "" {
		sender = notification.NewSMTPSender(cfg.SMTPAddr, cfg.NotifyFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	} else {
		sender = notification.NewLogSender(logger)
	}
	notifier := notification.NewManager(sender, notification.NewTemplateEngine())

	// Domain services
	jwtCfg := auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}

	credentialSvc := credential.NewService(credential.NewRepo(pool), logger,
		cfg.LockoutThreshold, time.Duration(cfg.LockoutWindowMin)*time.Minute)

	reportRepo := report.NewRepo(pool)
	reportSvc := report.NewService(reportRepo, notifier, logger)

	anonymizeSvc := anonymize.NewService(reportSvc, deidClient, logger)

	listingRepo := listing.NewRepo(pool)
	listingSvc := listing.NewService(listingRepo, reportSvc, logger)

	purchaseRepo := purchase.NewRepo(pool)
	purchaseSvc := purchase.NewService(purchaseRepo, listingRepo, reportSvc, verifier,
		pool, notifier, logger,
		time.Duration(cfg.ReservationTTLMin)*time.Minute, cfg.PaymentConfirmations)

	// Background sweeper releases abandoned reservations.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeper := purchase.NewSweeper(purchaseRepo, time.Duration(cfg.SweepIntervalSec)*time.Second, logger)
	go sweeper.Run(sweepCtx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Public routes: registration and login, marketplace browse and
	// anonymized reads.
	public := apiV1.Group("")

	// Purchase routes accept anonymous wallet-identified buyers but honor
	// a bearer token's wallet claim when one is presented.
	purchases := apiV1.Group("")
	purchases.Use(auth.OptionalJWT(jwtCfg))

	// Owner routes require a bearer token.
	authed := apiV1.Group("")
	if cfg.IsDev() && cfg.JWTSecret == "" {
		authed.Use(auth.DevAuthMiddleware())
	} else {
		authed.Use(auth.JWTMiddleware(jwtCfg))
	}
	authed.Use(auth.RequireIdentity())

	credential.NewHandler(credentialSvc, jwtCfg).RegisterRoutes(public)
	report.NewHandler(reportSvc).RegisterRoutes(authed, public)
	anonymize.NewHandler(anonymizeSvc).RegisterRoutes(authed)
	listing.NewHandler(listingSvc).RegisterRoutes(authed, public)
	purchase.NewHandler(purchaseSvc).RegisterRoutes(purchases)
	notification.NewHandler(notifier).RegisterRoutes(authed)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
