package s3

// Config represents S3 handler configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Retry attempts of the SDK's own retryer.
	MaxRetries int `yaml:"max_retries"`
}

// NewDefaultConfig returns the settings used when none are configured.
func NewDefaultConfig() *Config {
	return &Config{
		Region:     "us-east-1",
		MaxRetries: 3,
	}
}
