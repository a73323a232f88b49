// Package app wires the configuration into a running set of subsystems: the
// engine, the trigger coordinator, the scheduler and the process lock. The
// CLI builds an App per invocation and tears it down when done.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chartbak/internal/catalog"
	"chartbak/internal/config"
	"chartbak/internal/encryption"
	"chartbak/internal/engine"
	"chartbak/internal/livedb"
	"chartbak/internal/lockfile"
	"chartbak/internal/postrun"
	"chartbak/internal/store"

	"github.com/google/uuid"
)

// App holds one fully wired instance of the backup system.
type App struct {
	Config      *config.Config
	Engine      *engine.Engine
	Coordinator *engine.Coordinator
	Material    *encryption.Material
	Logger      engine.Logger

	catalog engine.Catalog
	lock    *lockfile.Lock
	logFile *os.File
}

// New builds an App from the config file at configPath. It acquires the
// process lock, so two chartbak processes against the same state directory
// cannot run concurrently.
func New(configPath string) (*App, error) {
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg)
}

// NewFromConfig wires all subsystems from an already-loaded config.
func NewFromConfig(cfg *config.Config) (*App, error) {
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("state_dir is not set")
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.StateDir, "log")
	}

	runID := uuid.New().String()[:8]
	slogger, logFile, err := newLogger(logDir, runID)
	if err != nil {
		return nil, err
	}
	logger := &slogAdapter{l: slogger}

	lock, err := lockfile.Acquire(filepath.Join(cfg.StateDir, "chartbak.lock"))
	if err != nil {
		logFile.Close()
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, lock: lock, logFile: logFile}

	st, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		return nil, app.fail(err)
	}

	cat, err := catalog.NewCatalogFromConfig(cfg.Catalog, cfg.StateDir)
	if err != nil {
		return nil, app.fail(err)
	}
	app.catalog = cat

	app.Material = encryption.NewMaterial(
		cfg.Sources.Salt,
		cfg.Sources.PublicKey,
		cfg.Sources.PrivateKey,
	)

	checkpointer := livedb.NewCheckpointer(cfg.Sources.Database)
	verifier := livedb.NewVerifier(app.Material.VerifyStaged)

	settings := engine.Settings{
		DatabasePath:        cfg.Sources.Database,
		KeyFiles:            cfg.Sources.KeyFiles(),
		AttachmentsDir:      cfg.Sources.Attachments,
		StagingDir:          filepath.Join(cfg.StateDir, "staging"),
		FullMaxAge:          days(cfg.Backup.FullMaxAgeDays),
		FullMaxIncrementals: cfg.Backup.FullMaxIncrementals,
		KeepChains:          cfg.Retention.KeepChains,
		MaxChainAge:         days(cfg.Retention.MaxChainAgeDays),
	}

	eng, err := engine.New(settings, cat, st, checkpointer, verifier, logger, engine.RealClock{}, engine.UUIDGenerator{})
	if err != nil {
		return nil, app.fail(err)
	}
	app.Engine = eng

	runner := postrun.NewExecRunner(
		cfg.PostBackup.Command,
		time.Duration(cfg.PostBackup.TimeoutSeconds)*time.Second,
		logger,
	)
	app.Coordinator = engine.NewCoordinator(eng, runner, logger, engine.Mode(frequency(cfg)), cfg.PostBackup.RunOnFailure)

	return app, nil
}

// Close releases the process lock and closes the catalog and log file.
func (a *App) Close() error {
	var firstErr error
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			firstErr = err
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fail tears down what has been wired so far and returns err unchanged.
func (a *App) fail(err error) error {
	a.Close()
	return err
}

func frequency(cfg *config.Config) string {
	if cfg.Backup.Frequency == "" {
		return string(engine.ModeSession)
	}
	return cfg.Backup.Frequency
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
