// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Delay    DelayConfig    `mapstructure:"delay"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Database DatabaseConfig `mapstructure:"database"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OutputConfig sets where the database file and image archive land.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	DBFile    string `mapstructure:"db_file"`
	ImageDir  string `mapstructure:"image_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// HTTPConfig configures the fetch session.
type HTTPConfig struct {
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	ImageTimeoutSeconds int    `mapstructure:"image_timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
}

// DelayConfig governs request throttling against the target site.
// A zero value disables the corresponding knob.
type DelayConfig struct {
	RequestThreshold int     `mapstructure:"request_threshold"`
	ShortDelaySec    float64 `mapstructure:"short_delay_seconds"`
	LongDelaySec     float64 `mapstructure:"long_delay_seconds"`
}

// HeadlessConfig configures the chromedp renderer used for login and
// JS-rendered poll pages.
type HeadlessConfig struct {
	NavTimeoutSeconds int `mapstructure:"nav_timeout_seconds"`
}

// DatabaseConfig controls upsert behavior.
type DatabaseConfig struct {
	// Update overwrites existing rows on re-scrape instead of skipping.
	Update bool `mapstructure:"update"`
}

// ScrapeConfig governs traversal behavior.
type ScrapeConfig struct {
	UserWorkers int  `mapstructure:"user_workers"`
	SkipUsers   bool `mapstructure:"skip_users"`
}

// MetricsConfig enables the optional /metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from the optional config file and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PBSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "site")
	v.SetDefault("output.db_file", "forum.db")
	v.SetDefault("output.image_dir", "images")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.image_timeout_seconds", 45)
	v.SetDefault("http.user_agent", "proboards-scraper/1.0")
	v.SetDefault("delay.request_threshold", 15)
	v.SetDefault("delay.short_delay_seconds", 1.5)
	v.SetDefault("delay.long_delay_seconds", 20)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("database.update", false)
	v.SetDefault("scrape.user_workers", 8)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.ImageTimeoutSeconds <= 0 {
		return fmt.Errorf("http.image_timeout_seconds must be > 0")
	}
	if c.Scrape.UserWorkers <= 0 {
		return fmt.Errorf("scrape.user_workers must be > 0")
	}
	if c.Delay.RequestThreshold < 0 || c.Delay.ShortDelaySec < 0 || c.Delay.LongDelaySec < 0 {
		return fmt.Errorf("delay values must be >= 0")
	}
	return nil
}

// NoDelay zeroes every throttle knob; used by the --no-delay flag.
func (c *Config) NoDelay() {
	c.Delay.RequestThreshold = 0
	c.Delay.ShortDelaySec = 0
	c.Delay.LongDelaySec = 0
}

// HTTPTimeout returns the page-fetch timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ImageTimeout returns the image-download timeout as a duration.
func (c Config) ImageTimeout() time.Duration {
	return time.Duration(c.HTTP.ImageTimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// ShortDelay returns the between-request delay as a duration.
func (c Config) ShortDelay() time.Duration {
	return time.Duration(c.Delay.ShortDelaySec * float64(time.Second))
}

// LongDelay returns the periodic cool-down delay as a duration.
func (c Config) LongDelay() time.Duration {
	return time.Duration(c.Delay.LongDelaySec * float64(time.Second))
}
