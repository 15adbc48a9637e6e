// Package app wires the pipeline together and owns its lifecycle.
package app

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/adapters/airnow"
	"github.com/airfuse/airfuse/internal/adapters/geoscf"
	"github.com/airfuse/airfuse/internal/adapters/openmeteo"
	"github.com/airfuse/airfuse/internal/adapters/tempo"
	"github.com/airfuse/airfuse/internal/adapters/waqi"
	"github.com/airfuse/airfuse/internal/aqicalc"
	"github.com/airfuse/airfuse/internal/collector"
	"github.com/airfuse/airfuse/internal/config"
	"github.com/airfuse/airfuse/internal/fusion"
	"github.com/airfuse/airfuse/internal/history"
	"github.com/airfuse/airfuse/internal/log"
	"github.com/airfuse/airfuse/internal/priority"
	"github.com/airfuse/airfuse/internal/scheduler"
	"github.com/airfuse/airfuse/internal/server"
	"github.com/airfuse/airfuse/internal/storage"
	"github.com/airfuse/airfuse/internal/types"
)

// App is the assembled pipeline.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
}

// New creates an application instance.
func New(cfg *config.Config, logger *zap.SugaredLogger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts everything and blocks until a shutdown signal or context
// cancellation, then drains cleanly.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.New(a.cfg.Database.Driver, a.cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	index := priority.New(store.DB)
	if err := index.Migrate(); err != nil {
		return err
	}
	if err := index.Load(ctx); err != nil {
		return err
	}

	hist, err := a.buildHistory(ctx)
	if err != nil {
		return err
	}
	defer hist.Close()

	adapterList := []adapters.Adapter{
		tempo.New(a.cfg.TempoBucket, a.cfg.EarthDataCredsURL, a.cfg.EarthDataToken,
			filepath.Join(os.TempDir(), "airfuse-tempo"), a.logger),
		geoscf.New(a.cfg.GEOSCFBaseURL, a.logger),
		airnow.New(a.cfg.AirNowBaseURL, a.cfg.AirNowAPIKey, a.logger),
		waqi.New(a.cfg.WAQIBaseURL, a.cfg.WAQIToken, a.logger),
	}
	fallback := openmeteo.New(a.cfg.OpenMeteoBaseURL, a.logger)

	col := collector.New(adapterList, fallback, types.SourceTEMPO, a.logger)
	sched := scheduler.New(col, fusion.New(), aqicalc.New(), hist, store, index,
		a.cfg.NorthAmericaBBox, a.cfg.CollectionLimit, a.logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	srv := server.New(a.cfg.ListenAddr, index, store, a.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil {
			log.Error("HTTP server failed:", err)
			cancel()
		}
	}()

	log.Info("application started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete:", err)
	}

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// buildHistory creates the configured history backend. The S3 backend
// pulls credentials from the ambient AWS environment.
func (a *App) buildHistory(ctx context.Context) (history.Store, error) {
	histCfg := history.Config{
		Backend: a.cfg.History.Backend,
		Path:    a.cfg.History.Path,
		Bucket:  a.cfg.History.Bucket,
	}
	if histCfg.Backend == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		histCfg.S3 = s3.NewFromConfig(awsCfg)
	}
	return history.New(histCfg)
}
