package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gatekeeper/api"
	"gatekeeper/config"
	"gatekeeper/ingest"
	"gatekeeper/util/goroutine"

	"go.uber.org/zap"
)

// App represents the gatekeeper service with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage   *StorageComponents
	Detection *DetectionComponents
	Resolver  *ingest.S3Resolver
	APIServer *api.API

	serviceWg *sync.WaitGroup
	serverErr chan error
}

// NewApp loads configuration from configPath (empty searches for config.yaml) and
// initializes all components.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	app := &App{
		serviceWg: &sync.WaitGroup{},
		serverErr: make(chan error, 1),
	}

	// Bootstrap logger until the configured level is known
	_, bootSugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := InitConfig(bootSugar, configPath)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("gatekeeper starting...")

	if err := app.init(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// NewAppWithConfig initializes all components from an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     logger.Sugar(),
		serviceWg: &sync.WaitGroup{},
		serverErr: make(chan error, 1),
	}
	if err := app.init(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	storageComponents, err := InitStorage(ctx, a.Config, a.Sugar)
	if err != nil {
		return err
	}
	a.Storage = storageComponents

	detection, err := InitDetection(a.Config, a.Sugar)
	if err != nil {
		a.Storage.Close(a.Sugar)
		return err
	}
	a.Detection = detection

	a.Resolver = InitResolver(a.Config, a.Sugar)

	a.APIServer = api.NewAPI(a.apiDependencies(), a.Config, a.Sugar)
	return nil
}

// apiDependencies only sets optional interfaces when the backing store exists,
// so a disabled store stays a nil interface rather than a typed nil.
func (a *App) apiDependencies() api.Dependencies {
	deps := api.Dependencies{
		Snippets: a.Detection.Cache,
		Loaded:   a.Detection.Loaded,
		Batch:    a.Detection.Batch,
		Resolver: a.Resolver,
		Health:   map[string]api.HealthChecker{},
	}
	if a.Storage.Runs != nil {
		deps.Runs = a.Storage.Runs
		deps.Health["sqlite"] = a.Storage.SQLite
	}
	if a.Storage.Dedup != nil {
		deps.Dedup = a.Storage.Dedup
		deps.Health["redis"] = a.Storage.Dedup
	}
	return deps
}

// Start serves the API in the background. Listener failures are reported by WaitForShutdown.
func (a *App) Start(ctx context.Context) error {
	if a.APIServer == nil {
		return errors.New("app is not initialized")
	}

	addr := a.Config.API.Addr()
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("api-server", a.Sugar)

		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
			a.serverErr <- err
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, ctx cancellation or a server failure.
func (a *App) WaitForShutdown(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Received signal", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return nil
	case err := <-a.serverErr:
		return err
	}
}

// Shutdown stops the API, waits for in-flight requests and closes the stores.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}
	a.serviceWg.Wait()

	a.Sugar.Info("Phase 2: Closing storage...")
	if a.Storage != nil {
		a.Storage.Close(a.Sugar)
	}

	a.Sugar.Info("Shutdown complete")
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
