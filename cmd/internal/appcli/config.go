// ABOUTME: config.go loads CLI configuration from ~/.tasks/config.yaml with TASKS_* env overrides.
// ABOUTME: Supports loading, saving and first-run initialization.
package appcli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TASKS_SERVER_URL.
const EnvPrefix = "TASKS"

// Config is the CLI configuration.
type Config struct {
	ServerURL     string        `mapstructure:"server_url" yaml:"server_url"`
	AuthToken     string        `mapstructure:"auth_token" yaml:"auth_token"`
	DeviceID      string        `mapstructure:"device_id" yaml:"device_id"`
	DBPath        string        `mapstructure:"db_path" yaml:"db_path"`
	StoreKey      string        `mapstructure:"store_key" yaml:"store_key,omitempty"` // hex key derived from the recovery phrase
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StatusFile    string        `mapstructure:"status_file" yaml:"status_file,omitempty"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval,omitempty"`
	LogFile       string        `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
}

// ConfigPath returns the path to the config file. It can be overridden in tests.
var ConfigPath = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tasks", "config.yaml")
	}
	return filepath.Join(home, ".tasks", "config.yaml")
}

// DefaultConfig returns a config with defaults relative to the config dir.
func DefaultConfig(path string) Config {
	return Config{
		DBPath:   filepath.Join(filepath.Dir(path), "tasks.db"),
		Timeout:  5 * time.Second,
		LogLevel: "warn",
	}
}

// NewViper returns a viper instance reading path with TASKS_* overrides.
func NewViper(path string) *viper.Viper {
	def := DefaultConfig(path)
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("device_id", "")
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("store_key", "")
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("status_file", "")
	v.SetDefault("probe_interval", time.Duration(0))
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", def.LogLevel)
	return v
}

// LoadConfig reads the config file, if any, and applies env and flag
// overrides already bound to v. A missing file yields defaults.
func LoadConfig(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.LogFile = expandPath(cfg.LogFile)
	cfg.StatusFile = expandPath(cfg.StatusFile)
	return cfg, nil
}

// SaveConfig writes cfg to path with owner-only permissions.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ConfigExists returns true if a config file exists at path.
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewDeviceID creates a unique device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// Key decodes StoreKey. ok is false when the store is not sealed.
func (c Config) Key() (key [32]byte, ok bool, err error) {
	if c.StoreKey == "" {
		return key, false, nil
	}
	b, err := hex.DecodeString(c.StoreKey)
	if err != nil || len(b) != len(key) {
		return key, false, errors.New("store_key must be 64 hex characters")
	}
	copy(key[:], b)
	return key, true, nil
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
