package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/cache"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/jobs"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/spreadsheet"
	"github.com/clinic/clinic/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic appointment scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())

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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
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

			count, err := db.NewMigrator(pool, migrations.Files).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
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

			statuses, err := db.NewMigrator(pool, migrations.Files).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// importCmd books appointments from a csv or xlsx file, the same way the
// upload endpoint does.
func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import appointments for a doctor from a csv or xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			path, _ := cmd.Flags().GetString("file")
			actor, _ := cmd.Flags().GetString("actor")

			doctorID, err := uuid.Parse(doctorFlag)
			if err != nil {
				return fmt.Errorf("--doctor must be a doctor id: %w", err)
			}
			if path == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			app, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			rows, err := readImportFile(path)
			if err != nil {
				return err
			}
			res, err := app.scheduling.Import(ctx, actor, doctorID, rows)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id the appointments are booked with")
	cmd.Flags().String("file", "", "Path to a .csv or .xlsx file")
	cmd.Flags().String("actor", "cli", "User recorded as the creator of the appointments")
	return cmd
}

func readImportFile(path string) ([]scheduling.ImportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := spreadsheet.Read(path, f)
	if err != nil {
		return nil, err
	}
	return scheduling.RowsFromTable(table.Header, table.Rows)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the wired services and the resources that need closing.
type app struct {
	pool       db.Pinger
	identity   *identity.Service
	scheduling *scheduling.Service
	reminders  *scheduling.ReminderJob
	hub        *events.Hub
	slotCache  *cache.Store
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{pool: pool, closers: []func(){pool.Close}}
	logger.Info().Msg("connected to database")

	var slotCache scheduling.SlotCache
	if cfg.RedisURL != "" {
		store, err := cache.NewFromURL(ctx, cfg.RedisURL, "clinic:")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.slotCache = store
		a.closers = append(a.closers, func() { store.Close() })
		slotCache = store
		logger.Info().Msg("slot cache enabled")
	}

	a.hub = events.NewHub(logger)
	sinks := []events.Publisher{a.hub}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to amqp: %w", err)
		}
		a.closers = append(a.closers, func() { amqpPub.Close() })
		sinks = append(sinks, amqpPub)
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("appointment events published to amqp")
	}

	a.identity = identity.NewService(identity.NewPatientRepo(pool), identity.NewDoctorRepo(pool))
	appointments := scheduling.NewAppointmentRepo(pool)
	a.scheduling = scheduling.NewService(scheduling.Deps{
		Doctors:         a.identity,
		Patients:        a.identity,
		Schedules:       scheduling.NewScheduleRepo(pool),
		Configs:         scheduling.NewConfigRepo(pool),
		Appointments:    appointments,
		ExcludedDates:   scheduling.NewExcludedDateRepo(pool),
		Tx:              db.NewTxRunner(pool),
		Cache:           slotCache,
		CacheTTL:        cfg.SlotCacheTTL,
		Events:          events.NewFanout(logger, sinks...),
		Location:        loc,
		OverflowMinutes: cfg.OverflowMinutes,
		ImportChunkSize: cfg.ImportChunkSize,
		Logger:          logger.With().Str("component", "scheduling").Logger(),
	})

	notifier := notification.NewManager(emailSender(cfg, logger), notification.NewTemplateEngine(), logger)
	a.reminders = scheduling.NewReminderJob(appointments, a.identity, a.identity, notifier, loc,
		logger.With().Str("component", "reminders").Logger())
	return a, nil
}

func emailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.SMTPHost == "" {
		return notification.LogSender{Logger: logger}
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
	})
}

// newEcho builds the router with global middleware, health checks and the
// authenticated /api/v1 group.
func newEcho(cfg *config.Config, logger zerolog.Logger, pool db.Pinger) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", cfg.ImportMaxBytes))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.DependencyHealthHandler(pool))
	}

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if cfg.JWTSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.JWTSigningKey)
		}
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	return e, apiV1
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	e, apiV1 := newEcho(cfg, logger, a.pool)
	if a.slotCache != nil {
		e.GET("/health/cache", db.DependencyHealthHandler(a.slotCache))
	}

	identity.NewHandler(a.identity).RegisterRoutes(apiV1)
	scheduling.NewHandler(a.scheduling, logger).RegisterRoutes(apiV1)
	events.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	loc, _ := cfg.Location()
	scheduler := jobs.NewScheduler(logger, loc)
	if err := scheduler.Add("appointment-reminders", cfg.ReminderCron, a.reminders.Run); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	scheduler.Start()

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
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs did not finish before shutdown")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
