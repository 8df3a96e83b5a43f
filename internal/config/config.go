// Package config loads runtime settings from the environment and an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. EB_PORT.
const EnvPrefix = "EB"

// Endpoint is a remote platform base URL plus its bearer token.
type Endpoint struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// Schedules holds the cron expressions of the reminder passes.
type Schedules struct {
	LessonReminders string `mapstructure:"lesson_reminders"`
	DailySummary    string `mapstructure:"daily_summary"`
	UnpaidCheck     string `mapstructure:"unpaid_check"`
	Purge           string `mapstructure:"purge"`
}

// Config is the full application configuration.
type Config struct {
	Port             string        `mapstructure:"port"`
	LogLevel         string        `mapstructure:"log_level"`
	DatabaseURL      string        `mapstructure:"database_url"`
	Registry         Endpoint      `mapstructure:"registry"`
	Messenger        Endpoint      `mapstructure:"messenger"`
	AdminMessengerID string        `mapstructure:"admin_messenger_id"`
	Timezone         string        `mapstructure:"timezone"`
	RemoteTimeout    time.Duration `mapstructure:"remote_timeout"`
	DedupRetention   time.Duration `mapstructure:"dedup_retention"`
	DedupLease       time.Duration `mapstructure:"dedup_lease"`
	Schedules        Schedules     `mapstructure:"schedules"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("registry.url", "")
	v.SetDefault("registry.token", "")
	v.SetDefault("messenger.url", "")
	v.SetDefault("messenger.token", "")
	v.SetDefault("admin_messenger_id", "")
	v.SetDefault("timezone", "Asia/Tashkent")
	v.SetDefault("remote_timeout", 10*time.Second)
	v.SetDefault("dedup_retention", 72*time.Hour)
	v.SetDefault("dedup_lease", 5*time.Minute)
	v.SetDefault("schedules.lesson_reminders", "0 18 * * *")
	v.SetDefault("schedules.daily_summary", "0 20 * * *")
	v.SetDefault("schedules.unpaid_check", "0 10 * * *")
	v.SetDefault("schedules.purge", "@every 15m")
}

// Load reads configuration from EB_* environment variables. When path is not
// empty the YAML file it names is read first and the environment overrides it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Registry.URL == "" {
		errs = append(errs, errors.New("registry.url is required"))
	}
	if c.Messenger.URL == "" {
		errs = append(errs, errors.New("messenger.url is required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.RemoteTimeout <= 0 {
		errs = append(errs, errors.New("remote_timeout must be positive"))
	}
	if c.DedupRetention <= 0 {
		errs = append(errs, errors.New("dedup_retention must be positive"))
	}
	if c.DedupLease <= 0 {
		errs = append(errs, errors.New("dedup_lease must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the operator's time zone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
