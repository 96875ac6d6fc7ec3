package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding configuration,
// e.g. TASKER_ENGINE_MAX_PARALLEL.
const EnvPrefix = "TASKER"

// DefaultFileName is the config file looked up in the working directory
// when no explicit path is given.
const DefaultFileName = "tasker"

// Loader reads configuration from defaults, an optional config file and the
// environment. Environment variables take precedence over the file.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	path     string

	mu       sync.Mutex
	watching bool
}

// NewLoader creates a Loader. An empty path looks for tasker.yaml in the
// working directory and tolerates its absence; an explicit path must exist.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		v:        v,
		validate: validator.New(),
		path:     path,
	}
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFile returns the file the configuration was read from, if any
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the config file whenever it changes and calls fn with the
// new configuration. Invalid updates are reported through onError and
// skipped. It returns false if no config file is in use.
func (l *Loader) Watch(fn func(*Config), onError func(error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching {
		return true
	}
	l.watching = true

	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
	return true
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_parallel", 40*runtime.NumCPU())
	v.SetDefault("engine.max_queue_size", 100)
	v.SetDefault("engine.debug", false)
	v.SetDefault("engine.remove_failed", true)
	v.SetDefault("engine.reconcile_interval", "100ms")
	v.SetDefault("engine.idle_interval", "10s")
	v.SetDefault("engine.wait_poll_interval", "1s")
	v.SetDefault("engine.callback_timeout", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
