package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinicdata/internal/config"
	"github.com/ehr/clinicdata/internal/domain/settings"
	"github.com/ehr/clinicdata/internal/domain/tables"
	"github.com/ehr/clinicdata/internal/domain/treatment"
	"github.com/ehr/clinicdata/internal/platform/db"
	"github.com/ehr/clinicdata/internal/platform/metrics"
	"github.com/ehr/clinicdata/internal/platform/middleware"
	"github.com/ehr/clinicdata/internal/platform/realtime"
	"github.com/ehr/clinicdata/internal/platform/store"
	"github.com/ehr/clinicdata/internal/platform/websocket"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicdata",
		Short:        "Clinic data access API and tools",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(fetchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).Level(cfg.Level()).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(cfg.Level()).With().Timestamp().Logger()
	}
	return logger
}

// setup loads and validates config and opens the pool. Callers close the
// pool.
func setup(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL:   cfg.DatabaseURL,
		MaxConns:      cfg.DBMaxConns,
		MinConns:      cfg.DBMinConns,
		QueryLogLevel: cfg.DBQueryLogLevel,
	}, logger)
	if err != nil {
		return nil, logger, nil, err
	}
	return cfg, logger, pool, nil
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

func runServer() error {
	ctx := context.Background()
	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	mode, _ := realtime.ParseMode(cfg.RealtimeMode)
	mt := metrics.New(prometheus.NewRegistry())
	st := store.New(pool)

	bus := realtime.NewBus()
	mgr := realtime.NewManager(realtime.NewPGSource(pool), bus, logger,
		realtime.WithMode(mode), realtime.WithMetrics(mt))
	defer mgr.Close()

	hub := websocket.NewHub(logger)
	detach := hub.Attach(bus)
	defer detach()

	// Browsers follow every exposed table over /ws.
	for _, table := range cfg.ExposedTables {
		if _, err := mgr.Subscribe(ctx, table); err != nil {
			logger.Warn().Err(err).Str("table", table).Msg("change subscription failed")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	apiV1 := e.Group("/api/v1")

	treatmentSvc := treatment.NewService(treatment.NewProcedureRepoPG(st), treatment.NewTemplateRepoPG(st), st)
	treatment.NewHandler(treatmentSvc).RegisterRoutes(apiV1)

	settingsSvc := settings.NewService(settings.NewRepoPG(st))
	settings.NewHandler(settingsSvc).RegisterRoutes(apiV1)

	tables.NewHandler(st, cfg.ExposedTables).RegisterRoutes(apiV1)

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	e.GET("/metrics", echo.WrapHandler(mt.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() map[string]any {
		return map[string]any{
			"pool":          db.GetPoolStats(pool),
			"realtime_mode": mgr.Mode(),
			"ws_clients":    hub.ClientCount(),
		}
	}))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("realtime_mode", string(mode)).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
