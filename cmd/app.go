package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/modsync/modsync/internal/config"
	"github.com/modsync/modsync/internal/conflict"
	"github.com/modsync/modsync/internal/engine"
	"github.com/modsync/modsync/internal/queue"
	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/telemetry"
	"github.com/modsync/modsync/internal/vcs"
)

// app bundles the wired subsystems every subcommand needs. Build one with
// newApp and Close it when done.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	store   *store.Store
	driver  *vcs.GitDriver
	emitter *telemetry.Emitter
	engine  *engine.Engine
	queue   *queue.Queue
}

// newApp loads config and opens the store, git driver, and engine.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.RepoRoot, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	driver, err := vcs.NewGitDriver(ctx, cfg.RepoRoot)
	if err != nil {
		st.Close()
		return nil, err
	}
	driver.SetTimeout(cfg.GitTimeout)

	var emitter *telemetry.Emitter
	if cfg.TelemetryPath != "" {
		emitter, err = telemetry.NewEmitter(cfg.TelemetryPath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	predictor := conflict.NewPredictor(driver)
	eng := engine.New(st, driver, predictor, emitter, log)
	q := queue.New(st, eng, emitter, log, queue.Config{
		TickInterval: cfg.Queue.TickInterval,
		BatchSize:    cfg.Queue.BatchSize,
		Parallelism:  cfg.Queue.Parallelism,
		StaleAfter:   cfg.Queue.StaleAfter,
		Retention:    cfg.Queue.Retention,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	})

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		driver:  driver,
		emitter: emitter,
		engine:  eng,
		queue:   q,
	}, nil
}

// Close releases the app's resources in reverse dependency order.
func (a *app) Close() {
	if a.emitter != nil {
		_ = a.emitter.Close()
	}
	_ = a.store.Close()
	_ = a.log.Sync()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
