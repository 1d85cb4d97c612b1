package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"partforge/internal/config"
	"partforge/internal/imageio"
	"partforge/internal/logging"
	"partforge/internal/runstore"
	"partforge/internal/workflow"
)

type commandContext struct {
	configFlag *string
	runFlag    *string

	configOnce  sync.Once
	config      *config.Config
	configPath  string
	configFound bool
	configErr   error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, runFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		runFlag:    runFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, found, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configFound = found
	})
	return c.config, c.configErr
}

func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, _ := c.ensureConfig()
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) runRef() string {
	if c.runFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.runFlag)
}

// withStore opens the run store for the duration of fn.
func (c *commandContext) withStore(fn func(*runstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		if errors.Is(err, runstore.ErrLocked) {
			return fmt.Errorf("%w; wait for the other partforge command to finish", err)
		}
		return err
	}
	defer store.Close()
	return fn(store)
}

// newManager builds a manager for runID whose logger also writes debug JSON
// to the run's own log file. The returned func closes that file.
func (c *commandContext) newManager(runID string) (*workflow.Manager, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := logging.OpenRunLog(c.loggerValue(), runLogPath(cfg, runID))
	if err != nil {
		return nil, nil, err
	}
	m, err := workflow.NewFromConfig(cfg, logger, workflow.WithRunID(runID))
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return m, func() { _ = closer.Close() }, nil
}

func runLogPath(cfg *config.Config, runID string) string {
	return filepath.Join(cfg.Paths.LogDir, "runs", runID+".log")
}

// withRun restores the selected run, calls fn and saves the resulting
// snapshot. The snapshot is saved even when fn fails so the call log and
// last error survive.
func (c *commandContext) withRun(cmd *cobra.Command, fn func(context.Context, *workflow.Manager) error) error {
	return c.withStore(func(store *runstore.Store) error {
		ctx := cmd.Context()
		runID, err := store.Resolve(ctx, c.runRef())
		if err != nil {
			return err
		}
		snap, err := store.Load(ctx, runID)
		if err != nil {
			return err
		}
		var src *imageio.Source
		if snap.Record.Source != nil {
			src, err = imageio.Load(snap.Record.Source.Path)
			if err != nil {
				return fmt.Errorf("reload source image for run %s: %w", runID, err)
			}
		}
		m, closeLog, err := c.newManager(runID)
		if err != nil {
			return err
		}
		defer closeLog()
		if err := m.Restore(snap, src); err != nil {
			return err
		}
		return c.drive(cmd, store, m, fn)
	})
}

// drive runs fn against m with progress output and saves the snapshot.
func (c *commandContext) drive(cmd *cobra.Command, store *runstore.Store, m *workflow.Manager, fn func(context.Context, *workflow.Manager) error) error {
	unsubscribe := m.Subscribe(newProgressPrinter(cmd.ErrOrStderr()).observe)
	defer unsubscribe()

	ctx := cmd.Context()
	runErr := fn(ctx, m)
	if saveErr := store.Save(context.WithoutCancel(ctx), m.Snapshot()); saveErr != nil {
		return errors.Join(runErr, fmt.Errorf("save run %s: %w", m.RunID(), saveErr))
	}
	return runErr
}

// withSnapshot loads the selected run's stored snapshot without building a
// manager.
func (c *commandContext) withSnapshot(cmd *cobra.Command, fn func(*runstore.Store, workflow.Snapshot) error) error {
	return c.withStore(func(store *runstore.Store) error {
		ctx := cmd.Context()
		runID, err := store.Resolve(ctx, c.runRef())
		if err != nil {
			return err
		}
		snap, err := store.Load(ctx, runID)
		if err != nil {
			return err
		}
		return fn(store, snap)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
