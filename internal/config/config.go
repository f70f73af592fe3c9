// Package config defines the application configuration, its defaults, and
// validation. Values come from a YAML file, ADPOST_* environment variables,
// and command-line flags, merged by viper in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/kestrel4d/adpost/internal/humanoid"
	"github.com/kestrel4d/adpost/internal/locator"
)

// Config is the root of all runtime settings.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Target      TargetConfig      `mapstructure:"target"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Session     SessionConfig     `mapstructure:"session"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Humanoid    humanoid.Config   `mapstructure:"humanoid"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	Batch       BatchConfig       `mapstructure:"batch"`
}

// LoggerConfig controls the zap logger and its file rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"` // "console" or "json"
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"` // megabytes per rotated file
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"` // days
	Compress    bool        `mapstructure:"compress"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ColorConfig names the console color per level.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// TargetConfig identifies the remote site being driven.
type TargetConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Domain  string `mapstructure:"domain"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserDataDir       string        `mapstructure:"user_data_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// StabilizeWait is the settle period after navigation before the page is
	// considered interactable.
	StabilizeWait time.Duration `mapstructure:"stabilize_wait"`
}

// SessionConfig locates the persisted cookie document.
type SessionConfig struct {
	CookiesFile string `mapstructure:"cookies_file"`
}

// QueueConfig locates the queue document and the asset backup directory.
type QueueConfig struct {
	File      string `mapstructure:"file"`
	BackupDir string `mapstructure:"backup_dir"`
}

// FingerprintConfig tunes profile selection. Seed zero means a time-derived
// seed; tests pin it for determinism.
type FingerprintConfig struct {
	Locale     string  `mapstructure:"locale"`
	LocaleBias float64 `mapstructure:"locale_bias"`
	Seed       int64   `mapstructure:"seed"`
}

// WorkflowConfig parameterizes the state machine's retry behavior and the
// locator bindings.
type WorkflowConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	StrategyTimeout time.Duration `mapstructure:"strategy_timeout"`
	// Bindings overrides replace the built-in strategy list per target.
	Bindings locator.Bindings `mapstructure:"bindings"`
}

// BatchConfig bounds the randomized pause between queue items.
type BatchConfig struct {
	ItemDelayMin time.Duration `mapstructure:"item_delay_min"`
	ItemDelayMax time.Duration `mapstructure:"item_delay_max"`
	// Seed pins the pacing jitter and humanoid randomness; zero uses time.
	Seed int64 `mapstructure:"seed"`
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.service_name", "adpost")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("target.base_url", "https://www.gumtree.com/")
	v.SetDefault("target.domain", "www.gumtree.com")

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.stabilize_wait", 1500*time.Millisecond)

	v.SetDefault("session.cookies_file", "cookies.json")
	v.SetDefault("queue.file", "listing_queue.json")
	v.SetDefault("queue.backup_dir", "backup_listings")

	v.SetDefault("humanoid.key_delay_mean_ms", 70.0)
	v.SetDefault("humanoid.key_delay_std_dev_ms", 28.0)
	v.SetDefault("humanoid.key_delay_min_ms", 35.0)
	v.SetDefault("humanoid.typo_rate", 0.04)
	v.SetDefault("humanoid.settle_min_ms", 150)
	v.SetDefault("humanoid.settle_max_ms", 450)

	v.SetDefault("fingerprint.locale", "en-GB")
	v.SetDefault("fingerprint.locale_bias", 0.85)
	v.SetDefault("fingerprint.seed", 0)

	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.base_backoff", 2*time.Second)
	v.SetDefault("workflow.max_backoff", 30*time.Second)
	v.SetDefault("workflow.strategy_timeout", 10*time.Second)

	v.SetDefault("batch.item_delay_min", 45*time.Second)
	v.SetDefault("batch.item_delay_max", 120*time.Second)
	v.SetDefault("batch.seed", 0)
}

// Load unmarshals the viper state into a validated Config, expanding ~ in
// file paths.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	for _, p := range []*string{
		&cfg.Session.CookiesFile, &cfg.Queue.File, &cfg.Queue.BackupDir,
		&cfg.Browser.UserDataDir, &cfg.Logger.LogFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("config: expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" || c.Target.Domain == "" {
		return fmt.Errorf("config: target.base_url and target.domain are required")
	}
	if !strings.HasPrefix(c.Target.BaseURL, "http://") && !strings.HasPrefix(c.Target.BaseURL, "https://") {
		return fmt.Errorf("config: target.base_url must be an absolute URL, got %q", c.Target.BaseURL)
	}
	if c.Humanoid.TypoRate < 0 || c.Humanoid.TypoRate >= 1 {
		return fmt.Errorf("config: humanoid.typo_rate must be in [0, 1), got %v", c.Humanoid.TypoRate)
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("config: workflow.max_attempts must be at least 1")
	}
	if c.Batch.ItemDelayMin < 0 || c.Batch.ItemDelayMax < c.Batch.ItemDelayMin {
		return fmt.Errorf("config: batch item delay range is invalid (%v .. %v)",
			c.Batch.ItemDelayMin, c.Batch.ItemDelayMax)
	}
	if c.Fingerprint.LocaleBias < 0 || c.Fingerprint.LocaleBias > 1 {
		return fmt.Errorf("config: fingerprint.locale_bias must be in [0, 1]")
	}
	return nil
}
