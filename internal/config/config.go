package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kazuhira-dev/apiary/internal/logging"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`

	Resources ResourceConfig  `mapstructure:"resources" yaml:"resources"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Logging   logging.Config  `mapstructure:"logging" yaml:"logging"`
}

// ResourceConfig configures the resource manager core.
type ResourceConfig struct {
	EnablePooling    bool `mapstructure:"enable_pooling" yaml:"enable_pooling"`
	EnableMonitoring bool `mapstructure:"enable_monitoring" yaml:"enable_monitoring"`
	EnableAutoScale  bool `mapstructure:"enable_auto_scale" yaml:"enable_auto_scale"`
	EnableQoS        bool `mapstructure:"enable_qos" yaml:"enable_qos"`
	EnablePrediction bool `mapstructure:"enable_prediction" yaml:"enable_prediction"`
	EnableSharing    bool `mapstructure:"enable_sharing" yaml:"enable_sharing"`

	MonitoringInterval time.Duration `mapstructure:"monitoring_interval" yaml:"monitoring_interval"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	ScalingInterval    time.Duration `mapstructure:"scaling_interval" yaml:"scaling_interval"`
	ReservationTimeout time.Duration `mapstructure:"reservation_timeout" yaml:"reservation_timeout"`

	// first-fit, best-fit, worst-fit or balanced.
	AllocationStrategy string `mapstructure:"allocation_strategy" yaml:"allocation_strategy"`

	// Priority weights applied to the matcher score, keyed by priority name.
	PriorityWeights map[string]float64 `mapstructure:"priority_weights" yaml:"priority_weights"`

	// Defaults used when a requirement leaves a dimension unset.
	DefaultLimits LimitsConfig `mapstructure:"default_limits" yaml:"default_limits"`

	// Register the local host as a compute resource at startup.
	RegisterLocalHost bool `mapstructure:"register_local_host" yaml:"register_local_host"`
}

// LimitsConfig carries per-dimension default ceilings.
type LimitsConfig struct {
	CPU         float64 `mapstructure:"cpu" yaml:"cpu"`
	MemoryMB    float64 `mapstructure:"memory_mb" yaml:"memory_mb"`
	DiskMB      float64 `mapstructure:"disk_mb" yaml:"disk_mb"`
	NetworkMbps float64 `mapstructure:"network_mbps" yaml:"network_mbps"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	AgentCommand       string        `mapstructure:"agent_command" yaml:"agent_command"`
}

// APIConfig configures the read-only status HTTP server.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
}

// StoreConfig configures best-effort snapshot persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Resources: ResourceConfig{
			EnablePooling:      true,
			EnableMonitoring:   true,
			EnableAutoScale:    true,
			EnableQoS:          true,
			EnablePrediction:   true,
			MonitoringInterval: 30 * time.Second,
			CleanupInterval:    5 * time.Minute,
			ScalingInterval:    60 * time.Second,
			ReservationTimeout: 5 * time.Minute,
			AllocationStrategy: "best-fit",
			PriorityWeights: map[string]float64{
				"critical":   1.0,
				"high":       0.8,
				"normal":     0.6,
				"low":        0.4,
				"background": 0.2,
			},
			DefaultLimits: LimitsConfig{
				CPU:         1,
				MemoryMB:    512,
				DiskMB:      1024,
				NetworkMbps: 100,
			},
			RegisterLocalHost: true,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks: 4,
			TaskTimeout:        10 * time.Minute,
			AgentCommand:       "claude",
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: ":8710",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9710",
			Namespace:  "apiary",
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "apiary.db",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from the given file (if it exists), then applies
// APIARY_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APIARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults plus environment.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations, normalizing where safe.
func Validate(cfg *Config) error {
	switch cfg.Resources.AllocationStrategy {
	case "first-fit", "best-fit", "worst-fit", "balanced":
	case "":
		cfg.Resources.AllocationStrategy = "best-fit"
	default:
		return fmt.Errorf("unknown allocation strategy %q", cfg.Resources.AllocationStrategy)
	}

	if cfg.Resources.MonitoringInterval <= 0 {
		cfg.Resources.MonitoringInterval = 30 * time.Second
	}
	if cfg.Resources.CleanupInterval <= 0 {
		cfg.Resources.CleanupInterval = 5 * time.Minute
	}
	if cfg.Resources.ScalingInterval <= 0 {
		cfg.Resources.ScalingInterval = 60 * time.Second
	}
	if cfg.Resources.ReservationTimeout <= 0 {
		cfg.Resources.ReservationTimeout = 5 * time.Minute
	}
	for name, w := range cfg.Resources.PriorityWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("priority weight for %q out of range [0,1]: %v", name, w)
		}
	}
	if cfg.Scheduler.MaxConcurrentTasks <= 0 {
		cfg.Scheduler.MaxConcurrentTasks = 4
	}
	return nil
}
