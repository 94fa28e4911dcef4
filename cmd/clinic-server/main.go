package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinic/internal/config"
	"github.com/ehr/clinic/internal/domain/billing"
	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/consultation"
	"github.com/ehr/clinic/internal/domain/patient"
	"github.com/ehr/clinic/internal/domain/prescription"
	"github.com/ehr/clinic/internal/domain/visit"
	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/internal/platform/db"
	"github.com/ehr/clinic/internal/platform/idempotency"
	"github.com/ehr/clinic/internal/platform/idgen"
	"github.com/ehr/clinic/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic consultation and billing API server",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := db.NewMigrator(pool, nil)
	if cfg.MigrationsDir != "" {
		m = db.NewDirMigrator(pool, cfg.MigrationsDir)
	}
	return fn(ctx, m)
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	for _, st := range statuses {
		state := "pending"
		if st.Applied && st.AppliedAt != nil {
			state = "applied " + st.AppliedAt.UTC().Format(time.RFC3339)
		}
		if st.Modified {
			state += " (modified since)"
		}
		fmt.Fprintf(w, "%03d  %-30s  %s\n", st.Version, st.Name, state)
	}
}

// newLogger writes JSON in production and console output in development.
func newLogger(out io.Writer, env, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every request is accepted as an admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", db.HealthHandler(pool, version))

	var consultationMW []echo.MiddlewareFunc
	if cfg.RedisURL != "" {
		client, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		consultationMW = append(consultationMW,
			idempotency.Middleware(idempotency.NewRedisStore(client), cfg.IdempotencyTTL, logger))
		logger.Info().Dur("ttl", cfg.IdempotencyTTL).Msg("idempotency keys enabled")
	}

	if err := registerRoutes(e.Group("/api/v1"), pool, cfg, logger, consultationMW); err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func registerRoutes(api *echo.Group, pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, consultationMW []echo.MiddlewareFunc) error {
	level, err := db.ParseIsoLevel(cfg.TxIsolation)
	if err != nil {
		return err
	}
	newUoW := db.NewUnitOfWorkFactory(pool)
	ids := idgen.NewRandom()

	catalogRepo := catalog.NewRepo(pool)
	patientRepo := patient.NewRepo(pool)
	visitRepo := visit.NewRepo(pool)
	rxRepo := prescription.NewRepo(pool)
	doseRepo := prescription.NewDoseRepo(pool)
	templateRepo := prescription.NewTemplateRepo(pool)
	billRepo := billing.NewRepo(pool)

	patientSvc := patient.NewService(patientRepo, ids)
	expander := prescription.NewExpander(doseRepo, catalogRepo, cfg.DefaultDurationDays)

	catalog.NewHandler(catalog.NewService(catalogRepo, newUoW, level)).RegisterRoutes(api)
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	visit.NewHandler(visit.NewService(visitRepo, ids, newUoW, level)).RegisterRoutes(api)
	prescription.NewHandler(prescription.NewService(rxRepo, doseRepo, templateRepo, expander)).RegisterRoutes(api)
	billing.NewHandler(billing.NewService(billRepo, catalogRepo, newUoW, level)).RegisterRoutes(api)

	orch := consultation.NewOrchestrator(consultation.Deps{
		Patients:      patientSvc,
		Visits:        visitRepo,
		Prescriptions: rxRepo,
		Templates:     templateRepo,
		Expander:      expander,
		Bills:         billRepo,
		Catalog:       catalogRepo,
		IDs:           ids,
	}, newUoW, level, logger)
	consultation.NewHandler(orch).RegisterRoutes(api, consultationMW...)

	logger.Info().Str("isolation", string(level)).Msg("routes registered")
	return nil
}
