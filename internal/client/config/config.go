package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openmined/filesync/internal/identity"
	"github.com/openmined/filesync/internal/utils"
)

const (
	DefaultServerAddress  = "127.0.0.1"
	DefaultServerPort     = 32111
	DefaultReadTimeout    = 2 * time.Minute
	DefaultWriteTimeout   = 2 * time.Minute
	DefaultSessionTimeout = 30 * time.Minute
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".filesync", "config.json")
	DefaultLogPath    = filepath.Join(home, ".filesync", "logs", "filesync.log")
	DefaultRootPath   = filepath.Join(home, "FileSync")
)

var ErrNoIdentity = errors.New("client identity not initialised")

type Config struct {
	ServerAddress   string   `json:"server_address"`
	ServerPort      int      `json:"server_port"`
	RootPath        string   `json:"root_path"`
	ClientID        string   `json:"client_id"`
	PublicKey       string   `json:"public_key"`
	PrivateKey      string   `json:"private_key"`
	ServerPublicKey string   `json:"server_public_key,omitempty"`
	MaxFrameSize    uint32   `json:"max_frame_size,omitempty"`
	ReadTimeout     Duration `json:"read_timeout,omitempty"`
	WriteTimeout    Duration `json:"write_timeout,omitempty"`
	SessionTimeout  Duration `json:"session_timeout,omitempty"`
	Path            string   `json:"-"`
}

// Default returns a config with every field except the identity filled in.
func Default() *Config {
	return &Config{
		ServerAddress:  DefaultServerAddress,
		ServerPort:     DefaultServerPort,
		RootPath:       DefaultRootPath,
		ReadTimeout:    Duration(DefaultReadTimeout),
		WriteTimeout:   Duration(DefaultWriteTimeout),
		SessionTimeout: Duration(DefaultSessionTimeout),
		Path:           DefaultConfigPath,
	}
}

// Validate normalises paths and rejects values a sync round cannot work with.
func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("server address is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerPort)
	}

	root, err := utils.ResolvePath(c.RootPath)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	c.RootPath = root

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
	}

	if c.ClientID != "" {
		if _, err := uuid.Parse(c.ClientID); err != nil {
			return fmt.Errorf("invalid client id %q: %w", c.ClientID, err)
		}
	}
	if c.ServerPublicKey != "" {
		if _, err := identity.ParsePublicKey(c.ServerPublicKey); err != nil {
			return fmt.Errorf("invalid server public key: %w", err)
		}
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.SessionTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	return nil
}

// EnsureIdentity generates a client id and key pair when they are missing. It reports
// whether the config changed and needs saving.
func (c *Config) EnsureIdentity() (bool, error) {
	changed := false
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
		changed = true
	}
	if c.PublicKey == "" || c.PrivateKey == "" {
		kp, err := identity.GenerateKeyPair()
		if err != nil {
			return changed, err
		}
		c.PublicKey, c.PrivateKey = kp.PublicKey, kp.PrivateKey
		changed = true
	}
	return changed, nil
}

// HasIdentity reports whether the client can present itself to a server.
func (c *Config) HasIdentity() bool {
	return c.ClientID != "" && c.PublicKey != ""
}

// Addr is the host:port to dial.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

// Save writes the config with owner-only permissions since it carries the private key.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	c.Path = path
	return nil
}

// Load reads a config file, filling unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Duration marshals as a Go duration string such as "90s".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// plain nanoseconds
		var n int64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
