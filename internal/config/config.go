package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPort = 63063

type Config struct {
	Server ServerConfig `yaml:"server"`
	Sync   SyncConfig   `yaml:"sync"`
	Player PlayerConfig `yaml:"player"`
	Peer   PeerConfig   `yaml:"peer"`
	Log    LogConfig    `yaml:"log"`
	Dir    string       `yaml:"dir"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	MaxPeers       int      `yaml:"max_peers"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SyncConfig struct {
	// Properties is the set observed on the host player and mirrored to peers.
	Properties        []string      `yaml:"properties"`
	Coalesced         []string      `yaml:"coalesced"`
	CoalesceThreshold float64       `yaml:"coalesce_threshold"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type PlayerConfig struct {
	Binary         string        `yaml:"binary"`
	ExtraArgs      []string      `yaml:"extra_args"`
	ReadyAttempts  int           `yaml:"ready_attempts"`
	ReadyInterval  time.Duration `yaml:"ready_interval"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type PeerConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: DefaultPort,
			Host: "0.0.0.0",
		},
		Sync: SyncConfig{
			Properties:        []string{"pause", "playback-time"},
			Coalesced:         []string{"playback-time"},
			CoalesceThreshold: 0.1,
			ProbeInterval:     10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Player: PlayerConfig{
			Binary:         "mpv",
			ReadyAttempts:  5,
			ReadyInterval:  time.Second,
			CommandTimeout: 5 * time.Second,
		},
		Peer: PeerConfig{
			ReconnectDelay:   5 * time.Second,
			SettleDelay:      3 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Dir: DefaultDir(),
	}
}

// Defaults returns a fresh copy of the built-in configuration.
func Defaults() *Config {
	return defaultConfig()
}

// DefaultDir is ~/.config/watchr.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "watchr")
}

// DefaultPath is the config file looked up when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads a YAML config file over the defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// LoadEnv loads .env files into the process environment. Missing files are
// not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from WATCHR_* environment variables.
func (c *Config) ApplyEnv() {
	c.Log.Level = getEnv("WATCHR_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("WATCHR_LOG_FORMAT", c.Log.Format)
	c.Player.Binary = getEnv("WATCHR_PLAYER_BINARY", c.Player.Binary)
	c.Dir = getEnv("WATCHR_DIR", c.Dir)
	c.Server.MaxPeers = getEnvInt("WATCHR_MAX_PEERS", c.Server.MaxPeers)
}

// Validate rejects configurations the sync pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if len(c.Sync.Properties) == 0 {
		return errors.New("sync.properties must not be empty")
	}
	if c.Sync.CoalesceThreshold < 0 {
		return fmt.Errorf("sync.coalesce_threshold must not be negative, got %v", c.Sync.CoalesceThreshold)
	}
	if c.Player.ReadyAttempts <= 0 {
		return fmt.Errorf("player.ready_attempts must be positive, got %d", c.Player.ReadyAttempts)
	}
	if c.Dir == "" {
		return errors.New("dir must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
