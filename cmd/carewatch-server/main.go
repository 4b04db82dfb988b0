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
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carewatch/carewatch/internal/config"
	"github.com/carewatch/carewatch/internal/domain/alerts"
	"github.com/carewatch/carewatch/internal/domain/dispatch"
	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/inference"
	"github.com/carewatch/carewatch/internal/domain/risk"
	"github.com/carewatch/carewatch/internal/domain/rules"
	"github.com/carewatch/carewatch/internal/engine"
	"github.com/carewatch/carewatch/internal/platform/auth"
	"github.com/carewatch/carewatch/internal/platform/db"
	"github.com/carewatch/carewatch/internal/platform/metrics"
	"github.com/carewatch/carewatch/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carewatch-server",
		Short: "CareWatch risk scoring and alert orchestration server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CareWatch API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
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

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
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

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Alert rule utilities",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an alert rules file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			loaded, err := rules.Load(path)
			if err != nil {
				return fmt.Errorf("rules file %s is invalid: %w", path, err)
			}
			fmt.Printf("%s: %d rule(s) OK\n", path, len(loaded))
			for _, r := range loaded {
				state := "enabled"
				if !r.Enabled {
					state = "disabled"
				}
				fmt.Printf("  %-30s severity=%-8s cooldown=%-8s %s\n", r.ID, r.Severity, r.Cooldown, state)
			}
			return nil
		},
	}
	validateCmd.Flags().String("file", "config/rules.yaml", "Path to the rules file")
	cmd.AddCommand(validateCmd)

	return cmd
}

// logEmailSender and logSMSSender write deliveries to the log instead of a
// real provider. They stand in until SMTP / SMS gateway credentials are
// wired through configuration.
type logEmailSender struct{ log zerolog.Logger }

func (s *logEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.log.Info().Str("to", to).Str("subject", subject).Msg("email notification")
	return nil
}

type logSMSSender struct{ log zerolog.Logger }

func (s *logSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.log.Info().Str("to", to).Str("body", body).Msg("sms notification")
	return nil
}

// severityRouting maps alert severities to channel names. The webhook sees
// everything from medium up, while paging channels (email, SMS) only fire
// for high and critical severities.
func severityRouting(hasWebhook bool, pageChannels []string) map[risk.Band][]string {
	routing := map[risk.Band][]string{}
	if hasWebhook {
		routing[risk.BandMedium] = []string{"webhook"}
		routing[risk.BandHigh] = []string{"webhook"}
		routing[risk.BandCritical] = []string{"webhook"}
	}
	routing[risk.BandHigh] = append(routing[risk.BandHigh], pageChannels...)
	routing[risk.BandCritical] = append(routing[risk.BandCritical], pageChannels...)
	return routing
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Metrics
	m := metrics.NewManager()

	// Storage: Postgres when configured, in-memory otherwise (dev only;
	// config validation refuses a production start without DATABASE_URL).
	var (
		pool        *pgxpool.Pool
		scoreRepo   risk.ScoreRepository       = risk.NewInMemoryScoreRepo()
		alertRepo   alerts.Repository          = alerts.NewInMemoryRepo()
		failureRepo dispatch.FailureRepository = dispatch.NewInMemoryFailureRepo()
	)

	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		scoreRepo = risk.NewScoreRepoPG(pool)
		alertRepo = alerts.NewRepoPG(pool)
		failureRepo = dispatch.NewFailureRepoPG(pool)
	} else {
		logger.Warn().Msg("no DATABASE_URL configured, using in-memory storage")
	}

	// Model registry with the built-in score models.
	registry := inference.NewRegistry(logger)
	if err := inference.RegisterBuiltins(registry); err != nil {
		logger.Fatal().Err(err).Msg("failed to register built-in models")
	}

	// Band thresholds apply uniformly across categories unless overridden.
	thresholds := risk.ThresholdMap{}
	for _, cat := range risk.Categories() {
		thresholds[cat] = risk.Thresholds{
			LowUpper:  cfg.ThresholdMedium,
			MedUpper:  cfg.ThresholdHigh,
			HighUpper: cfg.ThresholdCritical,
		}
	}
	aggregator, err := risk.NewAggregator(thresholds)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid risk thresholds")
	}

	// Alert rules with hot reload.
	loadedRules, err := rules.Load(cfg.RulesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("failed to load alert rules")
	}
	ruleStore := rules.NewStore(loadedRules)
	evaluator := rules.NewEvaluator(ruleStore, logger)
	go func() {
		if err := rules.Watch(ctx, cfg.RulesPath, ruleStore, logger); err != nil {
			logger.Error().Err(err).Msg("rules watcher stopped")
		}
	}()
	logger.Info().Int("rules", len(loadedRules)).Str("path", cfg.RulesPath).Msg("alert rules loaded")

	// Notification channels. Severity routing sends everything that fires
	// to the webhook, and pages email/SMS for high and critical only.
	var channels []dispatch.Channel
	var pageChannels []string

	if cfg.WebhookURL != "" {
		channels = append(channels, dispatch.NewWebhookChannel("webhook", cfg.WebhookURL, cfg.WebhookSecret))
	}
	if len(cfg.EmailRecipients) > 0 {
		channels = append(channels, dispatch.NewEmailChannel("email", &logEmailSender{log: logger}, cfg.EmailRecipients))
		pageChannels = append(pageChannels, "email")
	}
	if len(cfg.SMSRecipients) > 0 {
		channels = append(channels, dispatch.NewSMSChannel("sms", &logSMSSender{log: logger}, cfg.SMSRecipients))
		pageChannels = append(pageChannels, "sms")
	}

	routing := severityRouting(cfg.WebhookURL != "", pageChannels)

	dispatcher := dispatch.NewDispatcher(channels, routing, dispatch.Options{
		MaxRetries:  cfg.DispatchMaxRetries,
		BackoffBase: cfg.DispatchBackoffBase,
		QueueSize:   cfg.DispatchQueueSize,
	}, failureRepo, m, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Alert lifecycle.
	alertSvc := alerts.NewService(alertRepo, dispatcher, logger)

	// Snapshot intake and the scoring engine.
	snapshots := engine.NewInMemorySnapshotStore()
	eng := engine.New(engine.Config{
		Source:           snapshots,
		Extractor:        features.NewExtractor(logger),
		Registry:         registry,
		Aggregator:       aggregator,
		Evaluator:        evaluator,
		Lifecycle:        alertSvc,
		Scores:           scoreRepo,
		Metrics:          m,
		InferenceTimeout: cfg.InferenceTimeout,
	}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(m))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	engine.NewHandler(eng, snapshots, logger).RegisterRoutes(apiV1)
	alerts.NewHandler(alertSvc).RegisterRoutes(apiV1)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

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
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
