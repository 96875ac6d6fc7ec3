// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and TASKER_ environment variables.
// It keeps configuration details separate from the engine, which receives
// plain values through task.SchedulerConfig.
package config
