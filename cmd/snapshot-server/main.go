package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapshot-service/conf"
	"snapshot-service/controller"
	"snapshot-service/database"
	"snapshot-service/logger"
	model "snapshot-service/models"
	"snapshot-service/models/dao"
	"snapshot-service/service/auth_service"
	"snapshot-service/service/snapshot_service"
	"snapshot-service/storage"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

// @title           Snapshot Service API
// @version         1.0
// @description     Staging and serving of static-build snapshots

// @host      localhost:7333
// @BasePath  /api/v1

// @schemes https http

func main() {
	configPath := pflag.StringP("config", "c", "", "configuration file (yaml, toml or json); SNAPSHOT_* env vars override it")
	pflag.Parse()

	// Initialize all components
	app, err := initAll(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot-server: %v\n", err)
		os.Exit(1)
	}
	defer app.cleanup()

	// Start HTTP API service (in goroutine)
	go startServer(app)

	// Start lifecycle sweep (runs once now, then on schedule)
	if err := startSweeper(app); err != nil {
		app.logger.Error("failed to schedule lifecycle sweep", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	waitForShutdown()

	app.logger.Info("shutting down snapshot service")

	// Gracefully shutdown HTTP service
	shutdownServer(app)

	app.logger.Info("server exited")
}

type application struct {
	cfg      *conf.Config
	logger   *slog.Logger
	db       database.Database
	snapshot *snapshot_service.SnapshotService
	srv      *http.Server
	cron     *cron.Cron
}

// initAll initialize all components
func initAll(configPath string) (*application, error) {
	// Initialize configuration
	cfg, err := conf.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(log)
	gin.SetMode(cfg.Server.GinMode)

	// Initialize database
	db, err := initDatabase(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth_service.NewAuthService(cfg.Auth)

	store, err := storage.New(context.Background(), cfg.Storage, authService, cfg.Server.PublicBaseURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	snapshotService := snapshot_service.NewSnapshotService(dao.NewSnapshotDAO(db), store, snapshot_service.Options{
		Caps: model.Caps{
			MaxTotalBytes: cfg.Snapshot.MaxTotalBytes,
			MaxFileBytes:  cfg.Snapshot.MaxFileBytes,
			MaxExpiryDays: cfg.Snapshot.MaxExpiryDays,
		},
		DefaultExpiryDays:   cfg.Snapshot.DefaultExpiryDays,
		MaxSessionsPerOwner: cfg.Snapshot.MaxSessionsPerOwner,
		VerifyDigest:        cfg.Snapshot.VerifyDigest,
		PresignTTL:          cfg.Storage.PresignTTL,
		MaxCreatingAge:      cfg.Lifecycle.MaxCreatingAge,
		PublicBaseURL:       cfg.Server.PublicBaseURL,
		APIBasePath:         "/api/v1",
	}, log)

	router := controller.SetupRouter(controller.RouterOptions{
		SnapshotService:   snapshotService,
		AuthService:       authService,
		DefaultExpiryDays: cfg.Snapshot.DefaultExpiryDays,
		PathPrefix:        cfg.Server.PathPrefix,
		BlobEndpoint:      cfg.Storage.Type == "local",
	})

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Type,
		"public_base_url", cfg.Server.PublicBaseURL,
		"max_total_bytes", cfg.Snapshot.MaxTotalBytes,
		"max_file_bytes", cfg.Snapshot.MaxFileBytes)

	return &application{
		cfg:      cfg,
		logger:   log,
		db:       db,
		snapshot: snapshotService,
		srv: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// initDatabase initialize database based on configuration
func initDatabase(cfg *conf.Config, log *slog.Logger) (database.Database, error) {
	dbType := database.DBType(cfg.Database.Type)

	switch dbType {
	case database.DBTypePebble:
		return database.InitDatabase(database.DBTypePebble, &database.PebbleConfig{
			DataDir: cfg.Database.DataDir,
			Logger:  log,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

func (a *application) cleanup() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// startServer start HTTP server
func startServer(a *application) {
	a.logger.Info("snapshot API service starting", "addr", a.srv.Addr)
	if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}

// startSweeper expire snapshots and drop abandoned sessions on the configured schedule
func startSweeper(a *application) error {
	sweep := func() {
		if _, err := a.snapshot.Sweep(context.Background()); err != nil {
			a.logger.Error("lifecycle sweep failed", "error", err)
		}
	}
	sweep()

	c := cron.New()
	if _, err := c.AddFunc(a.cfg.Lifecycle.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", a.cfg.Lifecycle.SweepSchedule, err)
	}
	c.Start()
	a.cron = c
	a.logger.Info("lifecycle sweep scheduled", "schedule", a.cfg.Lifecycle.SweepSchedule)
	return nil
}

// waitForShutdown wait for shutdown signal
func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}

// shutdownServer gracefully shutdown server
func shutdownServer(a *application) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Warn("server forced to shutdown", "error", err)
	}
}
