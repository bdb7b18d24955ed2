// Package config provides configuration management for the CEW lab
// orchestrator.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration file (./config.yaml, ./configs/config.yaml, /etc/cew/config.yaml)
//  3. .env file
//  4. Environment variables (CEW_ prefix)
//
// # Environment Variables
//
// Use the CEW_ prefix and underscores for nested keys:
//   - CEW_SERVER_PORT=8090
//   - CEW_BACKEND_MODE=simulation
//   - CEW_ORCHESTRATOR_POLL_INTERVAL=5s
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/cewlabs/cew/models"
)

// Backend mode values.
const (
	BackendModeAuto       = "auto"
	BackendModeSimulation = "simulation"
)

// Config is the root configuration structure.
type Config struct {
	// Server contains HTTP facade configuration
	Server ServerConfig `mapstructure:"server"`

	// Backend contains container backend selection and timeouts
	Backend BackendConfig `mapstructure:"backend"`

	// Orchestrator contains lab lifecycle and monitoring settings
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address
	Host string `mapstructure:"host"`

	// Port is the server listen port
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug"`

	// AllowedOrigins are the CORS allowed origins for the facade
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BackendConfig selects the container backend and bounds its operations.
type BackendConfig struct {
	// Mode is "auto" (probe the daemon, fall back to simulation) or
	// "simulation" (never touch a daemon)
	Mode string `mapstructure:"mode"`

	// DockerHost overrides the daemon address (empty: SDK default)
	DockerHost string `mapstructure:"docker_host"`

	// PingTimeout bounds the startup daemon probe
	PingTimeout time.Duration `mapstructure:"ping_timeout"`

	// CreateTimeout bounds each network/container creation call
	CreateTimeout time.Duration `mapstructure:"create_timeout"`

	// StopTimeout bounds each stop/remove call
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// SweepOrphans removes leftover cew-labelled resources at startup
	SweepOrphans bool `mapstructure:"sweep_orphans"`
}

// OrchestratorConfig contains lab lifecycle and monitoring settings.
type OrchestratorConfig struct {
	// FailLabIfNoContainerStarts fails creation when zero containers came up.
	// Default false: the lab is reported running with unhealthy containers.
	FailLabIfNoContainerStarts bool `mapstructure:"fail_lab_if_no_container_starts"`

	// PollInterval is the monitoring publisher wake period
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// QueueSize bounds each monitoring subscriber queue (drop-oldest)
	QueueSize int `mapstructure:"queue_size"`

	// MemoryLimit is the default per-container memory limit ("512m", "1g")
	MemoryLimit string `mapstructure:"memory_limit"`

	// CPUPeriod is the default CFS period in microseconds
	CPUPeriod int64 `mapstructure:"cpu_period"`

	// CPUQuota is the default CFS quota in microseconds
	CPUQuota int64 `mapstructure:"cpu_quota"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/cew")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("CEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("backend.mode", BackendModeAuto)
	v.SetDefault("backend.docker_host", "")
	v.SetDefault("backend.ping_timeout", "2s")
	v.SetDefault("backend.create_timeout", "30s")
	v.SetDefault("backend.stop_timeout", "10s")
	v.SetDefault("backend.sweep_orphans", true)

	v.SetDefault("orchestrator.fail_lab_if_no_container_starts", false)
	v.SetDefault("orchestrator.poll_interval", "2s")
	v.SetDefault("orchestrator.queue_size", 16)
	v.SetDefault("orchestrator.memory_limit", "512m")
	v.SetDefault("orchestrator.cpu_period", 100000)
	v.SetDefault("orchestrator.cpu_quota", 50000)
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Backend.Mode {
	case BackendModeAuto, BackendModeSimulation:
	default:
		return fmt.Errorf("invalid backend mode: %q", cfg.Backend.Mode)
	}

	if cfg.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if cfg.Orchestrator.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1")
	}

	if n, err := units.RAMInBytes(cfg.Orchestrator.MemoryLimit); err != nil || n <= 0 {
		return fmt.Errorf("invalid memory limit: %q", cfg.Orchestrator.MemoryLimit)
	}

	if cfg.Orchestrator.CPUPeriod <= 0 || cfg.Orchestrator.CPUQuota <= 0 {
		return fmt.Errorf("cpu period and quota must be positive")
	}

	return nil
}

// ResourceDefaults returns the configured per-container limits.
func (c *OrchestratorConfig) ResourceDefaults() models.ResourceLimits {
	mem, err := units.RAMInBytes(c.MemoryLimit)
	if err != nil || mem <= 0 {
		mem = models.DefaultMemoryBytes
	}
	return models.ResourceLimits{
		MemoryBytes: models.ByteSize(mem),
		CPUPeriod:   c.CPUPeriod,
		CPUQuota:    c.CPUQuota,
	}
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
