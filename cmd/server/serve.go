package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgirmay/pulse/pkg/auth"
	"github.com/jgirmay/pulse/pkg/cache"
	"github.com/jgirmay/pulse/pkg/config"
	"github.com/jgirmay/pulse/pkg/database"
	"github.com/jgirmay/pulse/pkg/http/middleware"
	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/metrics"
	"github.com/jgirmay/pulse/pkg/monitoring"
	"github.com/jgirmay/pulse/pkg/realtime"
	"github.com/jgirmay/pulse/pkg/replication"
	"github.com/jgirmay/pulse/pkg/repository"
	"github.com/jgirmay/pulse/pkg/routes"
	"github.com/jgirmay/pulse/pkg/services/attendance"
	"github.com/jgirmay/pulse/pkg/services/presence"
	"github.com/jgirmay/pulse/pkg/visibility"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "run database migrations before serving")
	return cmd
}

// app holds everything the router needs
type app struct {
	presence   presence.Service
	attendance attendance.Service
	proxy      routes.ShapeForwarder
	watch      *realtime.WatchHandler
	tokens     *auth.TokenManager
	health     *monitoring.HealthChecker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) error {
	logConfiguration(logger, cfg)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
		logger.Info("database migrated")
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		_ = database.Close(db)
		return err
	}

	registry := repository.NewRegistry(db, rdb)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("failed to close stores", zap.Error(err))
		}
	}()
	if err := registry.Initialize(cfg.Presence.TTL); err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}

	m := metrics.New()
	broadcaster := realtime.NewBroadcaster(rdb, logger)
	engine := presence.NewEngine(
		registry.PresenceStore,
		presence.DefaultPolicy(cfg.Presence.IdleGrace, cfg.Presence.UnfocusedGrace),
		presence.WithPublisher(broadcaster),
		presence.WithLogger(logger),
		presence.WithMetrics(m),
	)
	protocol := visibility.NewProtocol(db, nil, logger, m)
	proxy, err := replication.NewProxy(replication.ProxyConfig{
		UpstreamURL:    cfg.Replication.URL,
		Secret:         cfg.Replication.Secret,
		SourceID:       cfg.Replication.SourceID,
		IdentityHeader: cfg.Replication.IdentityHeader,
		AllowedTables:  cfg.Replication.AllowedTables,
	}, nil, logger, m)
	if err != nil {
		return err
	}

	a := &app{
		presence:   engine,
		attendance: attendance.NewAttendanceService(registry.AttendanceRepository, protocol, logger),
		proxy:      proxy,
		watch:      realtime.NewWatchHandler(broadcaster, engine, logger, m),
		tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		health:     monitoring.NewHealthChecker(db, rdb, version),
		metrics:    m,
		logger:     logger,
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", zap.String("addr", server.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// hijacked websockets are not tracked by http.Server
	a.watch.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func newRouter(a *app) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(a.logger),
		middleware.RequestLogger(a.logger),
		middleware.Metrics(a.metrics),
	)

	router.GET("/healthz", a.health.Handler())
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	authed := router.Group("", middleware.AuthRequired(a.tokens))
	var watcher routes.Watcher
	if a.watch != nil {
		watcher = a.watch
	}
	routes.RegisterPresenceRoutes(authed, a.presence, watcher)
	routes.RegisterAttendanceRoutes(authed, a.attendance)
	routes.RegisterReplicationRoutes(authed, a.proxy)
	return router
}

func logConfiguration(logger *zap.Logger, cfg *config.Config) {
	logger.Info("configuration loaded",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("database", maskDSN(cfg.Database.DSN)),
		zap.String("redis", maskDSN(cfg.Redis.URL)),
		zap.Duration("presence_ttl", cfg.Presence.TTL),
		zap.Duration("unfocused_grace", cfg.Presence.UnfocusedGrace),
		zap.Duration("idle_grace", cfg.Presence.IdleGrace),
		zap.String("replication_url", cfg.Replication.URL),
		zap.Strings("replication_tables", cfg.Replication.AllowedTables),
	)
}

// maskDSN keeps only enough of a connection string to recognize it
func maskDSN(dsn string) string {
	if len(dsn) > 20 {
		return dsn[:10] + "..." + dsn[len(dsn)-10:]
	}
	return "***"
}
