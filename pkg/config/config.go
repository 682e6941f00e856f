package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	APIPort    string           `mapstructure:"api_port"`
	Models     ModelsConfig     `mapstructure:"models"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Events     EventsConfig     `mapstructure:"events"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Jobs       []JobConfig      `mapstructure:"jobs"`
}

// ModelsConfig locates the snapshot directory and controls how it is reloaded.
type ModelsConfig struct {
	Dir            string        `mapstructure:"dir"`
	Watch          bool          `mapstructure:"watch"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// ClassifierConfig sizes the worker pool. Select is an optional expression
// choosing which observations get classified.
type ClassifierConfig struct {
	Workers        int    `mapstructure:"workers"`
	QueueSize      int    `mapstructure:"queue_size"`
	Select         string `mapstructure:"select"`
	MaxStateLength int    `mapstructure:"max_state_length"`
}

type EventsConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	CorrelationWindow time.Duration `mapstructure:"correlation_window"`
}

// IngestConfig describes the observation source. Input is a file path or "-"
// for stdin; RatePerSecond 0 disables the per-protocol limit.
type IngestConfig struct {
	Input         string  `mapstructure:"input"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// JobConfig defines the configuration for a single scheduled job.
type JobConfig struct {
	Name     string `mapstructure:"name"`
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log_level",
	"api-port":   "api_port",
	"models-dir": "models.dir",
	"watch":      "models.watch",
	"workers":    "classifier.workers",
	"select":     "classifier.select",
	"input":      "ingest.input",
}

// LoadConfig reads the configuration from a YAML file and environment
// variables. When path is empty config.yaml is searched for in the current
// directory and /etc/markov-sentinel/, and a missing file means defaults.
// An explicit path must exist. Flags in flags, when set, override both.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/markov-sentinel/")
	}

	setDefaults(v)

	v.SetEnvPrefix("MARKOV_SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, serrors.NewConfigError("config", err, map[string]interface{}{"flag": flag})
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, serrors.NewConfigError("config", fmt.Errorf("failed to read config file: %w", err), nil)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, serrors.NewConfigError("config", fmt.Errorf("failed to unmarshal config: %w", err), nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")

	v.SetDefault("models.dir", "models")
	v.SetDefault("models.watch", true)
	v.SetDefault("models.reload_interval", "0s")

	v.SetDefault("classifier.workers", 0) // 0 = one per logical CPU
	v.SetDefault("classifier.queue_size", 1024)
	v.SetDefault("classifier.select", "")
	v.SetDefault("classifier.max_state_length", 0)

	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.dedup_window", "5m")
	v.SetDefault("events.correlation_window", "30m")

	v.SetDefault("ingest.input", "-")
	v.SetDefault("ingest.rate_per_second", 0)
	v.SetDefault("ingest.burst", 100)

	v.SetDefault("jobs", []map[string]interface{}{
		{"name": "library_reload", "enabled": false, "interval": "1m"},
		{"name": "stats_report", "enabled": true, "interval": "1m"},
	})
}

var validLogLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if !contains(validLogLevels, c.LogLevel) {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of %s", c.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if port, err := strconv.Atoi(c.APIPort); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("api_port %q is not a valid port", c.APIPort))
	}
	if strings.TrimSpace(c.Models.Dir) == "" {
		problems = append(problems, "models.dir is required")
	}
	if c.Models.ReloadInterval < 0 {
		problems = append(problems, "models.reload_interval must not be negative")
	}
	if c.Classifier.Workers < 0 {
		problems = append(problems, "classifier.workers must not be negative")
	}
	if c.Classifier.QueueSize < 1 {
		problems = append(problems, "classifier.queue_size must be at least 1")
	}
	if c.Classifier.MaxStateLength < 0 {
		problems = append(problems, "classifier.max_state_length must not be negative")
	}
	if c.Events.BufferSize < 1 {
		problems = append(problems, "events.buffer_size must be at least 1")
	}
	if c.Events.DedupWindow <= 0 {
		problems = append(problems, "events.dedup_window must be positive")
	}
	if c.Events.CorrelationWindow <= 0 {
		problems = append(problems, "events.correlation_window must be positive")
	}
	if c.Ingest.RatePerSecond < 0 {
		problems = append(problems, "ingest.rate_per_second must not be negative")
	}
	if c.Ingest.Burst < 1 {
		problems = append(problems, "ingest.burst must be at least 1")
	}
	for _, job := range c.Jobs {
		if d, err := time.ParseDuration(job.Interval); err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("job %q has invalid interval %q", job.Name, job.Interval))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return serrors.NewConfigError("config", fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; ")),
		map[string]interface{}{"problems": problems})
}

// GetJobConfig returns the configuration of the named job, or nil.
func (c *Config) GetJobConfig(name string) *JobConfig {
	for i := range c.Jobs {
		if c.Jobs[i].Name == name {
			return &c.Jobs[i]
		}
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// EnableJob turns the named job on with the given interval, adding it when
// it is not configured.
func (c *Config) EnableJob(name string, interval time.Duration) {
	if job := c.GetJobConfig(name); job != nil {
		job.Enabled = true
		job.Interval = interval.String()
		return
	}
	c.Jobs = append(c.Jobs, JobConfig{Name: name, Enabled: true, Interval: interval.String()})
}
