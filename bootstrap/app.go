package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opspulse/api"
	"opspulse/config"
	"opspulse/core"
	"opspulse/notify"
	"opspulse/service"
	"opspulse/storage"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// App represents the opspulse application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	SQLite        *storage.SQLite
	Alerts        *storage.SQLiteAlertStorage
	Organizations *storage.SQLiteOrganizationStorage
	Audit         *storage.SQLiteAuditStorage
	Notifications *storage.SQLiteNotificationStorage

	// Services
	Redis       *redis.Client
	Notifier    *notify.RecordingNotifier
	State       *service.AlertStateService
	Evaluator   *service.EvaluationService
	Aggregator  *service.AggregationService
	APIServer   *api.API
	TraceFlush  func(context.Context) error

	shutdownCh chan struct{}
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{shutdownCh: make(chan struct{})}

	cfgLogger, cfgSugar, err := InitLogger("info", false)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := InitConfig(cfgSugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	// Rebuild the logger with the configured level.
	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	_ = cfgLogger.Sync()
	app.Logger = logger
	app.Sugar = sugar
	sugar.Info("opspulse starting...")

	// Tracing: an in-process provider so every aggregation block and action
	// result carries a real trace id. Exporters can be attached later.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	app.TraceFlush = tp.Shutdown

	// Storage
	db, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.SQLite = db

	if app.Alerts, err = storage.NewSQLiteAlertStorage(db, sugar); err != nil {
		return nil, fmt.Errorf("failed to initialize alert storage: %w", err)
	}
	if app.Organizations, err = storage.NewSQLiteOrganizationStorage(db, sugar); err != nil {
		return nil, fmt.Errorf("failed to initialize organization storage: %w", err)
	}
	if app.Audit, err = storage.NewSQLiteAuditStorage(db, sugar); err != nil {
		return nil, fmt.Errorf("failed to initialize audit storage: %w", err)
	}
	if app.Notifications, err = storage.NewSQLiteNotificationStorage(db, sugar); err != nil {
		return nil, fmt.Errorf("failed to initialize notification storage: %w", err)
	}

	// Optional Redis snapshot cache
	var cache service.SnapshotCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			sugar.Warnw("Redis unreachable, snapshot cache disabled", "addr", cfg.Redis.Addr, "error", err)
			_ = client.Close()
		} else {
			app.Redis = client
			cache = service.NewRedisSnapshotCache(client, cfg.Aggregation.CacheTTL, sugar)
			sugar.Infow("Redis snapshot cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	// Services
	app.Notifier = notify.NewRecordingNotifier(
		app.Notifications,
		core.AlertSeverity(cfg.Notifications.MinSeverity),
		cfg.Notifications.RenotifyWindow,
		sugar,
	)
	app.State = service.NewAlertStateService(app.Alerts, app.Audit, sugar)
	app.Evaluator = service.NewEvaluationService(app.Alerts, app.Organizations, app.Audit, app.Notifier, cfg.Evaluation.Concurrency, sugar)
	app.Aggregator = service.NewAggregationService(app.Alerts, app.Organizations, app.Audit, app.Notifications, cache, cfg.Aggregation.FetchTimeout, sugar)

	app.APIServer = api.NewAPI(app.State, app.Evaluator, app.Aggregator, db, cfg, sugar)
	return app, nil
}

// Start starts the API server and background maintenance.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Retention.Enabled {
		go a.retentionLoop(ctx)
	}

	go func() {
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server stopped", "error", err)
		}
	}()
	return nil
}

// retentionLoop periodically deletes resolved alerts past the retention window.
func (a *App) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Config.Retention.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := a.Config.RetentionCutoff(time.Now().UTC())
			deleted, err := a.Alerts.DeleteResolvedBefore(ctx, cutoff)
			if err != nil {
				a.Sugar.Errorw("Retention cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.Sugar.Infow("Retention cleanup removed resolved alerts", "deleted", deleted, "cutoff", cutoff)
			}
		case <-a.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")
	close(a.shutdownCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.APIServer != nil {
		if err := a.APIServer.Stop(shutdownCtx); err != nil {
			a.Sugar.Errorw("API shutdown error", "error", err)
		}
	}
	if a.TraceFlush != nil {
		if err := a.TraceFlush(shutdownCtx); err != nil {
			a.Sugar.Errorw("Tracer shutdown error", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Sugar.Errorw("Redis close error", "error", err)
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Database close error", "error", err)
		}
	}
	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
