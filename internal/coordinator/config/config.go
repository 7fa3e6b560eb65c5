package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "MCP"

// Config holds the server configuration read from MCP_* environment variables
type Config struct {
	// DialogTimeout is the respondent timeout in seconds
	DialogTimeout int `envconfig:"DIALOG_TIMEOUT" default:"60000"`
	// UseFixedURL selects the root URL over the ?session=<id> form
	UseFixedURL bool `envconfig:"USE_FIXED_URL" default:"true"`
	// ForcePort makes the server bind exactly WebPort or fail
	ForcePort bool `envconfig:"FORCE_PORT" default:"false"`
	// KillOnConflict allows terminating a safe occupant of WebPort
	KillOnConflict bool `envconfig:"KILL_PROCESS_ON_PORT_CONFLICT" default:"false"`
	// CleanupPortOnStart vacates WebPort at startup when its occupant is safe to kill
	CleanupPortOnStart bool `envconfig:"CLEANUP_PORT_ON_START" default:"true"`
	// WebPort is the target port for the respondent server
	WebPort int `envconfig:"WEB_PORT" default:"5000"`
	// WebHost is the bind host for the respondent server
	WebHost string `envconfig:"WEB_HOST" default:"127.0.0.1"`
	// PortRangeSize is the width of the contiguous port scan
	PortRangeSize int `envconfig:"PORT_RANGE_SIZE" default:"20"`
	// SweepInterval is how often expired sessions are swept
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	// AutoOpenBrowser opens the respondent page when a session starts
	AutoOpenBrowser bool `envconfig:"AUTO_OPEN_BROWSER" default:"true"`
	// MaxAttachmentBytes caps each decoded attachment
	MaxAttachmentBytes int `envconfig:"MAX_ATTACHMENT_BYTES" default:"10485760"`
	// ProcessPolicyFile is an optional YAML allow/deny overlay
	ProcessPolicyFile string `envconfig:"PROCESS_POLICY_FILE"`
	// HealthPort serves the gRPC health service; 0 disables it
	HealthPort int `envconfig:"HEALTH_PORT" default:"0"`
	// OTLPEndpoint receives metrics over OTLP/gRPC; empty disables export
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	// Debug enables debug logging
	Debug bool `envconfig:"DEBUG" default:"false"`
}

// Load reads and validates the configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.DialogTimeout < MinDialogTimeoutSeconds || c.DialogTimeout > MaxDialogTimeoutSeconds {
		return fmt.Errorf(ErrInvalidConfig, "MCP_DIALOG_TIMEOUT",
			fmt.Sprintf("%d not in [%d, %d]", c.DialogTimeout, MinDialogTimeoutSeconds, MaxDialogTimeoutSeconds))
	}
	if c.WebPort < 1 || c.WebPort > 65535 {
		return fmt.Errorf(ErrInvalidConfig, "MCP_WEB_PORT", fmt.Sprintf("%d not in [1, 65535]", c.WebPort))
	}
	if c.PortRangeSize < 1 {
		return fmt.Errorf(ErrInvalidConfig, "MCP_PORT_RANGE_SIZE", "must be at least 1")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf(ErrInvalidConfig, "MCP_SWEEP_INTERVAL", "must be positive")
	}
	if c.MaxAttachmentBytes < 1 {
		return fmt.Errorf(ErrInvalidConfig, "MCP_MAX_ATTACHMENT_BYTES", "must be positive")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf(ErrInvalidConfig, "MCP_HEALTH_PORT", fmt.Sprintf("%d not in [0, 65535]", c.HealthPort))
	}
	if c.WebHost == "" {
		return fmt.Errorf(ErrInvalidConfig, "MCP_WEB_HOST", "must not be empty")
	}
	return nil
}

// Timeout returns DialogTimeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.DialogTimeout) * time.Second
}
