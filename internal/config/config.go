// Package config loads the slamon TOML configuration file and converts it
// into the typed configs consumed by the internal packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/slamon/internal/alertlog"
	"github.com/loykin/slamon/internal/backlog"
	"github.com/loykin/slamon/internal/breaker"
	"github.com/loykin/slamon/internal/collector"
	"github.com/loykin/slamon/internal/logger"
	"github.com/loykin/slamon/internal/remote"
	"github.com/loykin/slamon/internal/retry"
)

// TokenEnv is consulted when [remote].token is empty, so credentials can
// stay out of the config file.
const TokenEnv = "SLAMON_REMOTE_TOKEN"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Remote   RemoteConfig   `toml:"remote" mapstructure:"remote"`
	Breaker  BreakerConfig  `toml:"breaker" mapstructure:"breaker"`
	Retry    RetryConfig    `toml:"retry" mapstructure:"retry"`
	Backlog  BacklogConfig  `toml:"backlog" mapstructure:"backlog"`
	Resync   ResyncConfig   `toml:"resync" mapstructure:"resync"`
	SLA      SLAConfig      `toml:"sla" mapstructure:"sla"`
	AlertLog AlertLogConfig `toml:"alertlog" mapstructure:"alertlog"`
	Archive  ArchiveConfig  `toml:"archive" mapstructure:"archive"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
}

type RemoteConfig struct {
	URL     string        `toml:"url" mapstructure:"url"`
	Dataset string        `toml:"dataset" mapstructure:"dataset"`
	Token   string        `toml:"token" mapstructure:"token"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
	TLS     TLSConfig     `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	CACert     string `toml:"ca_cert" mapstructure:"ca_cert"`
	ServerName string `toml:"server_name" mapstructure:"server_name"`
	SkipVerify bool   `toml:"skip_verify" mapstructure:"skip_verify"`
}

type BreakerConfig struct {
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	Cooldown         time.Duration `toml:"cooldown" mapstructure:"cooldown"`
	MaxCooldown      time.Duration `toml:"max_cooldown" mapstructure:"max_cooldown"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `toml:"base_delay" mapstructure:"base_delay"`
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
}

type BacklogConfig struct {
	Dir           string `toml:"dir" mapstructure:"dir"`
	MaxFileMB     int    `toml:"max_file_mb" mapstructure:"max_file_mb"`
	RetentionDays int    `toml:"retention_days" mapstructure:"retention_days"`
}

type ResyncConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type SLAConfig struct {
	DefaultThreshold float64            `toml:"default_threshold" mapstructure:"default_threshold"`
	Channels         map[string]float64 `toml:"channels" mapstructure:"channels"`
}

type AlertLogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ArchiveConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen  string `toml:"listen" mapstructure:"listen"`
	Metrics bool   `toml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Load reads a TOML config file and applies defaults. The remote token is
// taken from the SLAMON_REMOTE_TOKEN environment variable when the file
// leaves it empty.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Remote.Token == "" {
		fc.Remote.Token = os.Getenv(TokenEnv)
	}
	if fc.Backlog.Dir == "" {
		fc.Backlog.Dir = "backlog"
	}
	if fc.Server.Listen == "" {
		fc.Server.Listen = ":8080"
	}
}

func (fc *FileConfig) validate() error {
	if strings.TrimSpace(fc.Remote.URL) == "" {
		return errors.New("config: [remote] url is required")
	}
	return nil
}

// RemoteOptions converts the [remote] section for remote.New.
func (fc *FileConfig) RemoteOptions() remote.Config {
	rc := remote.Config{
		URL:     fc.Remote.URL,
		Dataset: fc.Remote.Dataset,
		Token:   fc.Remote.Token,
		Timeout: fc.Remote.Timeout,
	}
	if fc.Remote.TLS != (TLSConfig{}) {
		rc.TLS = &remote.TLSConfig{
			CACert:     fc.Remote.TLS.CACert,
			ServerName: fc.Remote.TLS.ServerName,
			SkipVerify: fc.Remote.TLS.SkipVerify,
		}
	}
	return rc
}

// BreakerOptions converts the [breaker] section; zero values keep the
// package defaults.
func (fc *FileConfig) BreakerOptions() breaker.Config {
	return breaker.Config{
		FailureThreshold: fc.Breaker.FailureThreshold,
		Cooldown:         fc.Breaker.Cooldown,
		MaxCooldown:      fc.Breaker.MaxCooldown,
	}
}

// RetryOptions converts the [retry] section.
func (fc *FileConfig) RetryOptions() retry.Policy {
	return retry.Policy{
		BaseDelay:   fc.Retry.BaseDelay,
		MaxAttempts: fc.Retry.MaxAttempts,
	}
}

// RotationOptions converts the [backlog] section.
func (fc *FileConfig) RotationOptions() backlog.RotationPolicy {
	return backlog.RotationPolicy{
		MaxFileBytes:  int64(fc.Backlog.MaxFileMB) * 1024 * 1024,
		RetentionDays: fc.Backlog.RetentionDays,
	}
}

// SLAOptions converts the [sla] section.
func (fc *FileConfig) SLAOptions() collector.Config {
	return collector.Config{
		Channels:         fc.SLA.Channels,
		DefaultThreshold: fc.SLA.DefaultThreshold,
	}
}

// AlertLogOptions converts the [alertlog] section.
func (fc *FileConfig) AlertLogOptions() alertlog.Config {
	return alertlog.Config{
		File:       fc.AlertLog.File,
		MaxSizeMB:  fc.AlertLog.MaxSizeMB,
		MaxBackups: fc.AlertLog.MaxBackups,
		MaxAgeDays: fc.AlertLog.MaxAgeDays,
		Compress:   fc.AlertLog.Compress,
	}
}

// LoggerOptions converts the [log] section.
func (fc *FileConfig) LoggerOptions() logger.Config {
	return logger.Config{
		Level:      fc.Log.Level,
		File:       fc.Log.File,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}
