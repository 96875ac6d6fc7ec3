package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Engine EngineConfig `mapstructure:"engine" validate:"required"`
	Log    LogConfig    `mapstructure:"log" validate:"required"`
}

// EngineConfig contains the task engine settings.
type EngineConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel" validate:"gt=0"`
	MaxQueueSize      int           `mapstructure:"max_queue_size" validate:"gte=0"`
	Debug             bool          `mapstructure:"debug"`
	RemoveFailed      bool          `mapstructure:"remove_failed"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
	IdleInterval      time.Duration `mapstructure:"idle_interval" validate:"gt=0"`
	WaitPollInterval  time.Duration `mapstructure:"wait_poll_interval" validate:"gt=0"`
	CallbackTimeout   time.Duration `mapstructure:"callback_timeout" validate:"gt=0"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}
