package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/tasker/cmd/tasker/commands"
	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/events"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/task"
)

// application wires configuration, logging, status output and the scheduler
// for a single run of the CLI.
type application struct {
	stdout io.Writer
	stderr io.Writer
}

func newApplication(stdout, stderr io.Writer) *application {
	return &application{stdout: stdout, stderr: stderr}
}

// Run loads configuration, starts a scheduler and drives the demo workload on it.
func (app *application) Run(ctx context.Context, opts commands.RunOptions) error {
	loader := config.NewLoader(opts.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: app.stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	ctx = logger.WithLogger(ctx, log)

	log.Info("configuration loaded",
		"config_file", loader.ConfigFile(),
		"max_parallel", cfg.Engine.MaxParallel,
		"max_queue_size", cfg.Engine.MaxQueueSize,
		"log_level", cfg.Log.Level)

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.NewRedactingHandler(events.NewWriterHandler(app.stdout)))
	if cfg.Engine.Debug {
		emitter.RegisterHandler(events.NewRedactingHandler(events.NewLogHandler(log, slog.LevelDebug)))
	}

	scheduler := task.NewScheduler(schedulerConfig(cfg.Engine), log, task.WithEventEmitter(emitter))
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Dispose()

	watching := loader.Watch(func(updated *config.Config) {
		scheduler.SetMaxParallel(updated.Engine.MaxParallel)
		scheduler.SetDebug(updated.Engine.Debug)
		log.Info("configuration reloaded",
			"max_parallel", updated.Engine.MaxParallel,
			"debug", updated.Engine.Debug)
	}, func(err error) {
		log.Warn("ignoring invalid configuration update", "error", err)
	})
	if watching {
		log.Debug("watching configuration file", "path", loader.ConfigFile())
	}

	return runWorkload(ctx, scheduler, opts, app.stdout)
}

// schedulerConfig maps the engine section onto the scheduler settings
func schedulerConfig(cfg config.EngineConfig) task.SchedulerConfig {
	return task.SchedulerConfig{
		MaxParallel:       cfg.MaxParallel,
		MaxQueueSize:      cfg.MaxQueueSize,
		Debug:             cfg.Debug,
		RemoveFailed:      cfg.RemoveFailed,
		ReconcileInterval: cfg.ReconcileInterval,
		IdleInterval:      cfg.IdleInterval,
		WaitPollInterval:  cfg.WaitPollInterval,
		CallbackTimeout:   cfg.CallbackTimeout,
	}
}
