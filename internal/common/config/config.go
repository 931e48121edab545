// Package config provides configuration management for Taskforge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Taskforge.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DataConfig holds the persisted state layout.
type DataConfig struct {
	// Dir is the per-user data directory root. Database, task logs,
	// breaker records and the global log live underneath it.
	Dir string `mapstructure:"dir"`
	// DatabasePath overrides the default <dir>/tasks.db location.
	DatabasePath string `mapstructure:"databasePath"`
	// LogDir overrides the default <dir>/tasks task-log location.
	LogDir string `mapstructure:"logDir"`
}

// ExecutorConfig holds execution bounds.
type ExecutorConfig struct {
	// MaxConcurrent bounds the number of in-flight executors.
	MaxConcurrent int `mapstructure:"maxConcurrent"`
	// AgentCommand is the external agent binary invoked per task.
	AgentCommand string `mapstructure:"agentCommand"`
	// Per-tier timeout budgets, in minutes.
	FastTimeoutMin     int `mapstructure:"fastTimeoutMin"`
	BalancedTimeoutMin int `mapstructure:"balancedTimeoutMin"`
	DeepTimeoutMin     int `mapstructure:"deepTimeoutMin"`
}

// RetryConfig holds retry controller parameters.
type RetryConfig struct {
	MaxAttempts  int    `mapstructure:"maxAttempts"`
	BaseDelayMs  int    `mapstructure:"baseDelayMs"`
	MaxDelayMs   int    `mapstructure:"maxDelayMs"`
	Schedule     string `mapstructure:"schedule"` // exponential, linear, fibonacci
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold  int `mapstructure:"failureThreshold"`
	CooldownSec       int `mapstructure:"cooldownSec"`
	HalfOpenSuccesses int `mapstructure:"halfOpenSuccesses"`
	RetentionDays     int `mapstructure:"retentionDays"`
}

// MonitorConfig holds resource monitor parameters.
type MonitorConfig struct {
	IntervalSec int `mapstructure:"intervalSec"`
	RingSize    int `mapstructure:"ringSize"`
	// WarnRSSMB is the process resident-set threshold that triggers a warning.
	WarnRSSMB int `mapstructure:"warnRssMb"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DatabaseFile resolves the sqlite file path.
func (d *DataConfig) DatabaseFile() string {
	if d.DatabasePath != "" {
		return d.DatabasePath
	}
	return filepath.Join(d.Dir, "tasks.db")
}

// TaskLogDir resolves the per-task log directory.
func (d *DataConfig) TaskLogDir() string {
	if d.LogDir != "" {
		return d.LogDir
	}
	return filepath.Join(d.Dir, "tasks")
}

// BreakerDir resolves the circuit breaker record directory.
func (d *DataConfig) BreakerDir() string {
	return filepath.Join(d.Dir, "circuit_breakers")
}

// GlobalLogFile resolves the rotating service log path.
func (d *DataConfig) GlobalLogFile() string {
	return filepath.Join(d.Dir, "global.log")
}

// BaseDelay returns the retry base delay as a time.Duration.
func (r *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a time.Duration.
func (r *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Cooldown returns the breaker cooldown as a time.Duration.
func (b *BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSec) * time.Second
}

// Retention returns the breaker record retention window.
func (b *BreakerConfig) Retention() time.Duration {
	return time.Duration(b.RetentionDays) * 24 * time.Hour
}

// Interval returns the monitor sampling interval.
func (m *MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSec) * time.Second
}

// TimeoutForTier maps a model tier name to its timeout budget.
func (e *ExecutorConfig) TimeoutForTier(tier string) time.Duration {
	switch tier {
	case "fast":
		return time.Duration(e.FastTimeoutMin) * time.Minute
	case "deep":
		return time.Duration(e.DeepTimeoutMin) * time.Minute
	default:
		return time.Duration(e.BalancedTimeoutMin) * time.Minute
	}
}

// defaultDataDir returns the per-user data directory root.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskforge"
	}
	return filepath.Join(home, ".taskforge")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8788)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("data.dir", defaultDataDir())
	v.SetDefault("data.databasePath", "")
	v.SetDefault("data.logDir", "")

	v.SetDefault("executor.maxConcurrent", 4)
	v.SetDefault("executor.agentCommand", "claude")
	v.SetDefault("executor.fastTimeoutMin", 10)
	v.SetDefault("executor.balancedTimeoutMin", 30)
	v.SetDefault("executor.deepTimeoutMin", 60)

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.baseDelayMs", 1000)
	v.SetDefault("retry.maxDelayMs", 30000)
	v.SetDefault("retry.schedule", "exponential")

	v.SetDefault("breaker.failureThreshold", 5)
	v.SetDefault("breaker.cooldownSec", 60)
	v.SetDefault("breaker.halfOpenSuccesses", 2)
	v.SetDefault("breaker.retentionDays", 7)

	v.SetDefault("monitor.intervalSec", 60)
	v.SetDefault("monitor.ringSize", 1440)
	v.SetDefault("monitor.warnRssMb", 1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputPath", "")
}

// Load reads configuration from default locations.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("data.dir", "TASKFORGE_DATA_DIR")
	_ = v.BindEnv("data.databasePath", "TASKFORGE_DATABASE_PATH")
	_ = v.BindEnv("data.logDir", "TASKFORGE_LOG_DIR")
	_ = v.BindEnv("executor.maxConcurrent", "TASKFORGE_MAX_CONCURRENT")
	_ = v.BindEnv("executor.agentCommand", "TASKFORGE_AGENT_COMMAND")
	_ = v.BindEnv("breaker.failureThreshold", "TASKFORGE_BREAKER_THRESHOLD")
	_ = v.BindEnv("breaker.cooldownSec", "TASKFORGE_BREAKER_COOLDOWN_SEC")
	_ = v.BindEnv("retry.maxAttempts", "TASKFORGE_RETRY_ATTEMPTS")
	_ = v.BindEnv("retry.baseDelayMs", "TASKFORGE_RETRY_BASE_DELAY_MS")
	_ = v.BindEnv("monitor.intervalSec", "TASKFORGE_MONITOR_INTERVAL_SEC")
	_ = v.BindEnv("executor.fastTimeoutMin", "TASKFORGE_FAST_TIMEOUT_MIN")
	_ = v.BindEnv("executor.balancedTimeoutMin", "TASKFORGE_BALANCED_TIMEOUT_MIN")
	_ = v.BindEnv("executor.deepTimeoutMin", "TASKFORGE_DEEP_TIMEOUT_MIN")
	_ = v.BindEnv("logging.level", "TASKFORGE_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(defaultDataDir())

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
