package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/garyjia/procurement-approval/internal/infrastructure/directory"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Policies     PoliciesConfig     `mapstructure:"policies"`
	Approvers    ApproversConfig    `mapstructure:"approvers"`
	Notification NotificationConfig `mapstructure:"notification"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Report       ReportConfig       `mapstructure:"report"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// PoliciesConfig points at the policy definitions. Enabled and Disabled list
// policy ids whose active flag is overridden.
type PoliciesConfig struct {
	Path     string   `mapstructure:"path"`
	Enabled  []string `mapstructure:"enabled"`
	Disabled []string `mapstructure:"disabled"`
}

// Enablement is the per-policy override map handed to the matcher
func (p PoliciesConfig) Enablement() map[string]bool {
	out := make(map[string]bool, len(p.Enabled)+len(p.Disabled))
	for _, id := range p.Enabled {
		out[id] = true
	}
	for _, id := range p.Disabled {
		out[id] = false
	}
	return out
}

// ApproversConfig is the static user directory
type ApproversConfig struct {
	Users []directory.User `mapstructure:"users"`
}

// NotificationConfig selects the notification channel ("log" or "lark")
type NotificationConfig struct {
	Channel string `mapstructure:"channel"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID      string        `mapstructure:"app_id"`
	AppSecret  string        `mapstructure:"app_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	APITimeout time.Duration `mapstructure:"api_timeout"`
}

// SchedulerConfig controls the overdue request scanner
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// ReportConfig holds report archive configuration
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// Notification channels
const (
	ChannelLog  = "log"
	ChannelLark = "lark"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/procurement.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "migrations")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Policy defaults
	v.SetDefault("policies.path", "configs/policies.yaml")

	// Notification defaults
	v.SetDefault("notification.channel", ChannelLog)

	// Lark defaults
	v.SetDefault("lark.api_timeout", 30*time.Second)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.expiry_interval", time.Minute)
	v.SetDefault("scheduler.batch_size", 100)

	// Report defaults
	v.SetDefault("report.output_dir", "reports")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Sensitive credentials from environment
	bindings := map[string]string{
		"lark.app_id":          "LARK_APP_ID",
		"lark.app_secret":      "LARK_APP_SECRET",
		"database.path":        "DATABASE_PATH",
		"notification.channel": "NOTIFICATION_CHANNEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Policies.Path == "" {
		return fmt.Errorf("policies.path is required")
	}
	for _, id := range c.Policies.Enabled {
		for _, off := range c.Policies.Disabled {
			if id == off {
				return fmt.Errorf("policy %s is both enabled and disabled", id)
			}
		}
	}

	switch c.Notification.Channel {
	case ChannelLog:
	case ChannelLark:
		// Lark credentials are only needed when messages go through Lark
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	default:
		return fmt.Errorf("notification.channel %q is not supported", c.Notification.Channel)
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.ExpiryInterval <= 0 {
			return fmt.Errorf("scheduler.expiry_interval must be positive")
		}
		if c.Scheduler.BatchSize <= 0 {
			return fmt.Errorf("scheduler.batch_size must be positive")
		}
	}

	if c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required")
	}

	return nil
}
