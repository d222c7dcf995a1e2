package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/filesync/internal/identity"
	"github.com/openmined/filesync/internal/utils"
	"github.com/ulule/limiter/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBind            = "0.0.0.0:32111"
	DefaultRootPath        = "Storage"
	DefaultDBPath          = "Data/server.db"
	DefaultConfigPath      = "config/server.yaml"
	DefaultMaxConnections  = 64
	DefaultRateLimit       = "120-M"
	DefaultReadTimeout     = 2 * time.Minute
	DefaultWriteTimeout    = 2 * time.Minute
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultClientCacheSize = 1024
	DefaultShutdownGrace   = 5 * time.Second
)

type Config struct {
	Bind            string        `yaml:"bind" mapstructure:"bind"`
	RootPath        string        `yaml:"root_path" mapstructure:"root_path"`
	DBPath          string        `yaml:"db_path" mapstructure:"db_path"`
	PublicKey       string        `yaml:"public_key" mapstructure:"public_key"`
	PrivateKey      string        `yaml:"private_key" mapstructure:"private_key"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	RateLimit       string        `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxFrameSize    uint32        `yaml:"max_frame_size,omitempty" mapstructure:"max_frame_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	SessionTimeout  time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`
	Exclude         []string      `yaml:"exclude,omitempty" mapstructure:"exclude"`
	ClientCacheSize int           `yaml:"client_cache_size" mapstructure:"client_cache_size"`
	// ShutdownGrace is how long in-flight sessions may run on after shutdown starts.
	ShutdownGrace   time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
}

// ConfigKeys lists every config key, matching the mapstructure tags above.
var ConfigKeys = []string{
	"bind", "root_path", "db_path", "public_key", "private_key", "max_connections",
	"rate_limit", "max_frame_size", "read_timeout", "write_timeout", "session_timeout",
	"exclude", "client_cache_size", "shutdown_grace",
}

func DefaultConfig() *Config {
	return &Config{
		Bind:            DefaultBind,
		RootPath:        DefaultRootPath,
		DBPath:          DefaultDBPath,
		MaxConnections:  DefaultMaxConnections,
		RateLimit:       DefaultRateLimit,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		SessionTimeout:  DefaultSessionTimeout,
		ClientCacheSize: DefaultClientCacheSize,
		ShutdownGrace:   DefaultShutdownGrace,
	}
}

// Validate resolves paths and rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Bind); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", c.Bind, err)
	}

	root, err := utils.ResolvePath(c.RootPath)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	c.RootPath = root

	if c.DBPath != ":memory:" {
		if c.DBPath, err = utils.ResolvePath(c.DBPath); err != nil {
			return fmt.Errorf("invalid db path: %w", err)
		}
	}

	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("invalid rate limit %q: %w", c.RateLimit, err)
		}
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.SessionTimeout < 0 || c.ShutdownGrace < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if c.PublicKey == "" {
		return errors.New("public key is required")
	}
	return nil
}

// EnsureKeys generates the server key pair on first run. It reports whether the config
// changed and should be saved.
func (c *Config) EnsureKeys() (bool, error) {
	if c.PublicKey != "" && c.PrivateKey != "" {
		kp := &identity.KeyPair{PublicKey: c.PublicKey, PrivateKey: c.PrivateKey}
		return false, kp.Validate()
	}
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return false, err
	}
	c.PublicKey, c.PrivateKey = kp.PublicKey, kp.PrivateKey
	return true, nil
}

// Save writes the config as YAML, readable only by the owner since it holds the private key.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads a YAML config, filling unset fields from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
