package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete VFS configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Network    NetworkConfig    `yaml:"network"`
	SFTP       SFTPConfig       `yaml:"sftp"`
	S3         S3Config         `yaml:"s3"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// CacheConfig sizes the handler caches
type CacheConfig struct {
	MetadataTTL        time.Duration `yaml:"metadata_ttl"`
	MetadataMaxEntries int           `yaml:"metadata_max_entries"`
	RedirectMaxEntries int           `yaml:"redirect_max_entries"`
	ConnectionTTL      time.Duration `yaml:"connection_ttl"`
	ConnectionMax      int           `yaml:"connection_max"`
	ArchiveMaxEntries  int           `yaml:"archive_max_entries"`
	CredentialEntries  int           `yaml:"credential_entries"`
}

// NetworkConfig represents HTTP, WebDAV and SFTP transport settings
type NetworkConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds retries of idempotent network reads
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// SFTPConfig represents SFTP transport settings
type SFTPConfig struct {
	DefaultPort           int    `yaml:"default_port"`
	KnownHostsFile        string `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
}

// S3Config represents the s3 scheme settings
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// MonitoringConfig represents metrics settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"`
}

// NewDefault creates a new configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		Cache: CacheConfig{
			MetadataTTL:        10 * time.Second,
			MetadataMaxEntries: 1024,
			RedirectMaxEntries: 200,
			ConnectionTTL:      10 * time.Second,
			ConnectionMax:      32,
			ArchiveMaxEntries:  16,
			CredentialEntries:  256,
		},
		Network: NetworkConfig{
			RequestTimeout: 60 * time.Second,
			UserAgent:      "peppy-vfs/1.0",
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
		},
		SFTP: SFTPConfig{
			DefaultPort:    22,
			KnownHostsFile: filepath.Join(homeDir(), ".ssh", "known_hosts"),
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Namespace: "peppy_vfs",
				Address:   ":9090",
			},
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from PEPPYVFS_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("PEPPYVFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("PEPPYVFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("PEPPYVFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Cache settings
	if val := os.Getenv("PEPPYVFS_METADATA_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.MetadataTTL = d
		}
	}
	if val := os.Getenv("PEPPYVFS_CONNECTION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.ConnectionTTL = d
		}
	}

	// Network settings
	if val := os.Getenv("PEPPYVFS_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Network.RequestTimeout = d
		}
	}
	if val := os.Getenv("PEPPYVFS_RETRY_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Network.Retry.MaxAttempts = n
		}
	}

	// SFTP settings
	if val := os.Getenv("PEPPYVFS_KNOWN_HOSTS"); val != "" {
		c.SFTP.KnownHostsFile = val
	}
	if val := os.Getenv("PEPPYVFS_SFTP_INSECURE"); val != "" {
		c.SFTP.InsecureIgnoreHostKey = strings.ToLower(val) == "true"
	}

	// S3 settings
	if val := os.Getenv("PEPPYVFS_S3_ENABLED"); val != "" {
		c.S3.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PEPPYVFS_S3_REGION"); val != "" {
		c.S3.Region = val
	}
	if val := os.Getenv("PEPPYVFS_S3_ENDPOINT"); val != "" {
		c.S3.Endpoint = val
	}

	// Monitoring
	if val := os.Getenv("PEPPYVFS_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PEPPYVFS_METRICS_ADDRESS"); val != "" {
		c.Monitoring.Metrics.Address = val
	}

	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Cache.MetadataTTL < 0 {
		return fmt.Errorf("metadata_ttl must not be negative")
	}

	if c.Cache.ConnectionTTL <= 0 {
		return fmt.Errorf("connection_ttl must be greater than 0")
	}

	if c.Cache.RedirectMaxEntries <= 0 {
		return fmt.Errorf("redirect_max_entries must be greater than 0")
	}

	if c.Network.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}

	if c.SFTP.DefaultPort <= 0 || c.SFTP.DefaultPort > 65535 {
		return fmt.Errorf("invalid sftp default_port: %d", c.SFTP.DefaultPort)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Global.LogFormat != "json" && c.Global.LogFormat != "console" {
		return fmt.Errorf("invalid log_format: %s (must be json or console)", c.Global.LogFormat)
	}

	return nil
}
