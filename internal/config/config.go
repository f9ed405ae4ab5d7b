// Package config loads and validates capture service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Privacy   PrivacyConfig   `mapstructure:"privacy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CaptureConfig bounds the stages of a single capture job.
type CaptureConfig struct {
	MaxArchiveBytes     int64 `mapstructure:"max_archive_bytes"`
	ResourceLoadSec     int   `mapstructure:"resource_load_timeout_seconds"`
	OnloadEventSec      int   `mapstructure:"onload_timeout_seconds"`
	AfterLoadSec        int   `mapstructure:"after_load_timeout_seconds"`
	RobotsSec           int   `mapstructure:"robots_timeout_seconds"`
	ShutdownGraceSec    int   `mapstructure:"shutdown_grace_seconds"`
	JobHardLimitSec     int   `mapstructure:"job_hard_limit_seconds"`
	MaxScreenshotPixels int64 `mapstructure:"max_screenshot_pixels"`
	IdlePollMs          int   `mapstructure:"idle_poll_ms"`
}

// ProxyConfig governs the recording MITM proxy.
type ProxyConfig struct {
	PortMin     int      `mapstructure:"port_min"`
	PortMax     int      `mapstructure:"port_max"`
	ChunkBytes  int      `mapstructure:"chunk_bytes"`
	MonitorMs   int      `mapstructure:"monitor_interval_ms"`
	AllowedNets []string `mapstructure:"allowed_networks"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	UserAgent      string            `mapstructure:"user_agent"`
	DomainAgents   map[string]string `mapstructure:"domain_agents"`
	WindowWidth    int               `mapstructure:"window_width"`
	WindowHeight   int               `mapstructure:"window_height"`
	NavTimeoutSec  int               `mapstructure:"nav_timeout_seconds"`
	EvalTimeoutSec int               `mapstructure:"eval_timeout_seconds"`
}

// PrivacyConfig controls robots/meta directive matching.
type PrivacyConfig struct {
	AgentName        string `mapstructure:"agent_name"`
	GenericNoarchive bool   `mapstructure:"generic_noarchive"`
	PrivateOnFailure bool   `mapstructure:"private_on_failure"`
}

// StorageConfig selects and parameterizes the archive container store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalRoot string `mapstructure:"local_root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PublisherConfig holds metadata for the preservation upload trigger.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKVAULT")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("capture.max_archive_bytes", 1<<30)
	v.SetDefault("capture.resource_load_timeout_seconds", 45)
	v.SetDefault("capture.onload_timeout_seconds", 30)
	v.SetDefault("capture.after_load_timeout_seconds", 25)
	v.SetDefault("capture.robots_timeout_seconds", 30)
	v.SetDefault("capture.shutdown_grace_seconds", 30)
	v.SetDefault("capture.job_hard_limit_seconds", 600)
	v.SetDefault("capture.max_screenshot_pixels", 15000000)
	v.SetDefault("capture.idle_poll_ms", 2000)
	v.SetDefault("proxy.port_min", 27500)
	v.SetDefault("proxy.port_max", 28000)
	v.SetDefault("proxy.chunk_bytes", 8192)
	v.SetDefault("proxy.monitor_interval_ms", 200)
	v.SetDefault("browser.user_agent", "linkvault-capture/1.0")
	v.SetDefault("browser.window_width", 1024)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.eval_timeout_seconds", 2)
	v.SetDefault("privacy.agent_name", "linkvault")
	v.SetDefault("privacy.generic_noarchive", false)
	v.SetDefault("privacy.private_on_failure", true)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_root", "./archives")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.MaxArchiveBytes <= 0 {
		return fmt.Errorf("capture.max_archive_bytes must be > 0")
	}
	if c.Capture.ResourceLoadSec <= 0 {
		return fmt.Errorf("capture.resource_load_timeout_seconds must be > 0")
	}
	if c.Capture.JobHardLimitSec <= 0 {
		return fmt.Errorf("capture.job_hard_limit_seconds must be > 0")
	}
	if c.Proxy.PortMin <= 0 || c.Proxy.PortMax < c.Proxy.PortMin {
		return fmt.Errorf("proxy.port_min/port_max must describe a non-empty range")
	}
	if c.Proxy.ChunkBytes <= 0 {
		return fmt.Errorf("proxy.chunk_bytes must be > 0")
	}
	if c.Privacy.AgentName == "" {
		return fmt.Errorf("privacy.agent_name is required")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
	}
	return nil
}

// ResourceLoadTimeout bounds the wait for the first substantive response.
func (c CaptureConfig) ResourceLoadTimeout() time.Duration {
	return time.Duration(c.ResourceLoadSec) * time.Second
}

// OnloadTimeout bounds the wait for the browser onload event.
func (c CaptureConfig) OnloadTimeout() time.Duration {
	return time.Duration(c.OnloadEventSec) * time.Second
}

// AfterLoadTimeout bounds the wait for in-flight requests to settle.
func (c CaptureConfig) AfterLoadTimeout() time.Duration {
	return time.Duration(c.AfterLoadSec) * time.Second
}

// RobotsTimeout bounds the robots.txt fetch.
func (c CaptureConfig) RobotsTimeout() time.Duration {
	return time.Duration(c.RobotsSec) * time.Second
}

// ShutdownGrace bounds teardown joins.
func (c CaptureConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// JobHardLimit is the supervisor's staleness cutoff.
func (c CaptureConfig) JobHardLimit() time.Duration {
	return time.Duration(c.JobHardLimitSec) * time.Second
}

// IdlePoll is how long the drain loop sleeps when no job is eligible.
func (c CaptureConfig) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMs) * time.Millisecond
}

// MonitorInterval is the size monitor polling period.
func (c ProxyConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorMs) * time.Millisecond
}

// AgentForDomain returns the configured user agent, honoring per-domain
// overrides keyed by host suffix.
func (c BrowserConfig) AgentForDomain(host string) string {
	host = strings.ToLower(host)
	for suffix, agent := range c.DomainAgents {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return agent
		}
	}
	return c.UserAgent
}
