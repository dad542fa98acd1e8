// Package config loads and validates the keysmith configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/keysmith/internal/hasher"
	"github.com/faucetdb/keysmith/internal/secret"
	"github.com/faucetdb/keysmith/internal/store"
)

// Config represents the top-level keysmith configuration file.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Keys   KeysConfig   `yaml:"keys" mapstructure:"keys"`
	Hash   HashConfig   `yaml:"hash" mapstructure:"hash"`
	Auth   AuthConfig   `yaml:"auth" mapstructure:"auth"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host" mapstructure:"host"`
	Port            int      `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodySize     int64    `yaml:"max_body_size" mapstructure:"max_body_size"`
}

// StoreConfig selects the credential database.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	// DataDir holds the SQLite file. Empty means in-memory.
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	CandidateLimit int    `yaml:"candidate_limit" mapstructure:"candidate_limit"`
}

// KeysConfig controls the raw key format and owner limits.
type KeysConfig struct {
	Tag             string `yaml:"tag" mapstructure:"tag"`
	PrefixLength    int    `yaml:"prefix_length" mapstructure:"prefix_length"`
	MaxNameLength   int    `yaml:"max_name_length" mapstructure:"max_name_length"`
	MaxKeysPerOwner int    `yaml:"max_keys_per_owner" mapstructure:"max_keys_per_owner"`
}

// HashConfig selects the key derivation parameter set.
type HashConfig struct {
	Version int `yaml:"version" mapstructure:"version"`
	// MaxConcurrent bounds simultaneous derivations. Zero means GOMAXPROCS.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// AuthConfig controls validation of owner tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORSOrigins:     []string{"*"},
			MaxBodySize:     1 << 20,
		},
		Store: StoreConfig{
			Driver:         "sqlite",
			CandidateLimit: store.DefaultCandidateLimit,
		},
		Keys: KeysConfig{
			Tag:           secret.DefaultTag,
			PrefixLength:  secret.DefaultPrefixLen,
			MaxNameLength: 128,
		},
		Hash: HashConfig{
			Version: hasher.CurrentVersion,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default on v so environment variables can
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.data_dir", d.Store.DataDir)
	v.SetDefault("store.candidate_limit", d.Store.CandidateLimit)
	v.SetDefault("keys.tag", d.Keys.Tag)
	v.SetDefault("keys.prefix_length", d.Keys.PrefixLength)
	v.SetDefault("keys.max_name_length", d.Keys.MaxNameLength)
	v.SetDefault("keys.max_keys_per_owner", d.Keys.MaxKeysPerOwner)
	v.SetDefault("hash.version", d.Hash.Version)
	v.SetDefault("hash.max_concurrent", d.Hash.MaxConcurrent)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.jwt_issuer", d.Auth.JWTIssuer)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load decodes the effective configuration held by v and validates it.
// Environment variables referenced as ${VAR_NAME} in the DSN and JWT secret
// are expanded.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	cfg.Auth.JWTSecret = os.ExpandEnv(cfg.Auth.JWTSecret)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML configuration file on top of the
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects impossible combinations.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}

	known := false
	for _, d := range store.Drivers() {
		if d == store.CanonicalDriver(c.Store.Driver) {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("store.driver %q is not supported (have %s)", c.Store.Driver, strings.Join(store.Drivers(), ", "))
	}
	if store.CanonicalDriver(c.Store.Driver) != "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
	}
	if c.Store.CandidateLimit < 1 {
		return fmt.Errorf("store.candidate_limit must be at least 1")
	}

	if _, err := secret.New(c.Keys.Tag, c.Keys.PrefixLength); err != nil {
		return fmt.Errorf("keys: %w", err)
	}
	if c.Keys.MaxNameLength < 1 {
		return fmt.Errorf("keys.max_name_length must be at least 1")
	}
	if c.Keys.MaxKeysPerOwner < 0 {
		return fmt.Errorf("keys.max_keys_per_owner must not be negative")
	}

	if _, ok := hasher.DefaultParams[c.Hash.Version]; !ok {
		return fmt.Errorf("hash.version %d is not a known parameter set", c.Hash.Version)
	}
	if c.Hash.MaxConcurrent < 0 {
		return fmt.Errorf("hash.max_concurrent must not be negative")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ShutdownTimeout parses server.shutdown_timeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	return d, nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Masked returns a copy of c with secrets replaced, for display.
func (c *Config) Masked() *Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "********"
	}
	if out.Store.DSN != "" {
		out.Store.DSN = store.MaskDSN(out.Store.DSN)
	}
	return &out
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := Default().Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
