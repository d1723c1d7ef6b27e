package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Rare-Specie/authkeeper"
	"gopkg.in/yaml.v3"
)

// Storage kinds accepted by --storage and storage.kind.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// MiniRedis as the redis address runs an in-process Redis for demos.
const MiniRedis = "mini"

// Config is the CLI configuration file. Every field can be overridden with
// an AUTHKEEPER_* environment variable and then with a flag.
type Config struct {
	Server  string        `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Session SessionConfig `yaml:"session"`
}

// StorageConfig selects where the credential and snapshot live.
type StorageConfig struct {
	Kind        string `yaml:"kind"`
	Dir         string `yaml:"dir"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig overrides controller timings. Zero keeps the library
// default.
type SessionConfig struct {
	TokenTTL           time.Duration `yaml:"token_ttl"`
	RespectTokenExpiry bool          `yaml:"respect_token_expiry"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	SnapshotTTL        time.Duration `yaml:"snapshot_ttl"`
}

// DefaultConfig returns the settings used without a config file.
func DefaultConfig() Config {
	return Config{
		Server: "http://localhost:8080/api",
		Storage: StorageConfig{
			Kind:        StorageFile,
			Dir:         defaultStateDir(),
			RedisPrefix: "authkeeper",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authkeeper"
	}
	return filepath.Join(home, ".authkeeper")
}

// LoadConfig reads path over the defaults and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Server = envString("AUTHKEEPER_SERVER", c.Server)
	c.Storage.Kind = envString("AUTHKEEPER_STORAGE", c.Storage.Kind)
	c.Storage.Dir = envString("AUTHKEEPER_STATE_DIR", c.Storage.Dir)
	c.Storage.RedisAddr = envString("AUTHKEEPER_REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPrefix = envString("AUTHKEEPER_REDIS_PREFIX", c.Storage.RedisPrefix)
	c.Log.Level = envString("AUTHKEEPER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("AUTHKEEPER_LOG_FORMAT", c.Log.Format)
	c.Session.TokenTTL = envDuration("AUTHKEEPER_TOKEN_TTL", c.Session.TokenTTL)
	c.Session.RespectTokenExpiry = envBool("AUTHKEEPER_RESPECT_TOKEN_EXPIRY", c.Session.RespectTokenExpiry)
	c.Session.MonitorInterval = envDuration("AUTHKEEPER_MONITOR_INTERVAL", c.Session.MonitorInterval)
	c.Session.SnapshotTTL = envDuration("AUTHKEEPER_SNAPSHOT_TTL", c.Session.SnapshotTTL)
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("server %q must be an http or https URL", c.Server)
	}
	switch c.Storage.Kind {
	case StorageFile, StorageSQLite:
		if c.Storage.Dir == "" {
			return errors.New("storage dir is required for file and sqlite storage")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage redis_addr is required for redis storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage kind %q", c.Storage.Kind)
	}
	if c.Session.TokenTTL < 0 || c.Session.MonitorInterval < 0 || c.Session.SnapshotTTL < 0 {
		return errors.New("session durations must be >= 0")
	}
	return nil
}

// Controller returns the library configuration with the session overrides
// applied.
func (c Config) Controller() authkeeper.Config {
	cfg := authkeeper.DefaultConfig()
	if c.Session.TokenTTL > 0 {
		cfg.Credential.TTL = c.Session.TokenTTL
	}
	cfg.Credential.RespectTokenExpiry = c.Session.RespectTokenExpiry
	if c.Session.MonitorInterval > 0 {
		cfg.Controller.MonitorInterval = c.Session.MonitorInterval
	}
	if c.Session.SnapshotTTL > 0 {
		cfg.Snapshot.TTL = c.Session.SnapshotTTL
	}
	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
