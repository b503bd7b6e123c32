package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

const (
	// DefaultPath is where Load looks when no path is given
	DefaultPath = "~/.config/stagelink/config.toml"

	defaultHost         = "localhost"
	defaultPort         = 60157
	defaultVersion      = 6
	defaultCloseBackoff = 10 * time.Second
	defaultErrorBackoff = 30 * time.Second
)

// Role configures one of the two clients
type Role struct {
	Enabled  bool
	Password string
	// Port overrides the shared port when non-zero
	Port int
}

// Config holds application configuration
type Config struct {
	Path    string
	Host    string
	Port    int
	Version int

	Stage  Role
	Remote Role

	CloseBackoff time.Duration
	ErrorBackoff time.Duration
}

// Overrides are command line values; zero values leave the config alone
type Overrides struct {
	Host    string
	Port    int
	Version int
}

type rawRole struct {
	Enabled  *bool  `toml:"enabled"`
	Password string `toml:"password"`
	Port     int    `toml:"port"`
}

type rawConfig struct {
	Host    string  `toml:"host"`
	Port    int     `toml:"port"`
	Version int     `toml:"version"`
	Stage   rawRole `toml:"stage"`
	Remote  rawRole `toml:"remote"`

	Reconnect struct {
		CloseBackoff string `toml:"close_backoff"`
		ErrorBackoff string `toml:"error_backoff"`
	} `toml:"reconnect"`
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		Host:         defaultHost,
		Port:         defaultPort,
		Version:      defaultVersion,
		Stage:        Role{Enabled: true},
		Remote:       Role{Enabled: true},
		CloseBackoff: defaultCloseBackoff,
		ErrorBackoff: defaultErrorBackoff,
	}
}

// Load reads the TOML file at path, falling back to defaults when it does
// not exist, then applies STAGELINK_* environment overrides
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.Path = resolved

	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := cfg.merge(data); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) merge(data []byte) error {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if host := strings.TrimSpace(raw.Host); host != "" {
		c.Host = host
	}
	if raw.Port != 0 {
		c.Port = raw.Port
	}
	if raw.Version != 0 {
		c.Version = raw.Version
	}
	c.Stage = raw.Stage.apply(c.Stage)
	c.Remote = raw.Remote.apply(c.Remote)

	var err error
	if c.CloseBackoff, err = parseBackoff(raw.Reconnect.CloseBackoff, c.CloseBackoff); err != nil {
		return fmt.Errorf("reconnect.close_backoff: %w", err)
	}
	if c.ErrorBackoff, err = parseBackoff(raw.Reconnect.ErrorBackoff, c.ErrorBackoff); err != nil {
		return fmt.Errorf("reconnect.error_backoff: %w", err)
	}
	return nil
}

func (r rawRole) apply(role Role) Role {
	if r.Enabled != nil {
		role.Enabled = *r.Enabled
	}
	role.Password = r.Password
	role.Port = r.Port
	return role
}

func parseBackoff(text string, fallback time.Duration) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(text)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func (c *Config) applyEnv() error {
	if host := strings.TrimSpace(os.Getenv("STAGELINK_HOST")); host != "" {
		c.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("STAGELINK_PORT")); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("STAGELINK_PORT: %w", err)
		}
		c.Port = n
	}
	if pwd, ok := os.LookupEnv("STAGELINK_STAGE_PASSWORD"); ok {
		c.Stage.Password = pwd
	}
	if pwd, ok := os.LookupEnv("STAGELINK_REMOTE_PASSWORD"); ok {
		c.Remote.Password = pwd
	}
	return nil
}

// Apply layers command line overrides on top of the loaded values
func (c *Config) Apply(o Overrides) error {
	if host := strings.TrimSpace(o.Host); host != "" {
		c.Host = host
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.Version != 0 {
		c.Version = o.Version
	}
	return c.Validate()
}

// Validate rejects values no client could connect with
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("config: host is empty")
	}
	for name, port := range map[string]int{"port": c.Port, "stage.port": c.Stage.Port, "remote.port": c.Remote.Port} {
		if port < 0 || port > 65535 || (name == "port" && port == 0) {
			return fmt.Errorf("config: %s %d out of range", name, port)
		}
	}
	if c.Version < 1 {
		return fmt.Errorf("config: version %d must be positive", c.Version)
	}
	if !c.Stage.Enabled && !c.Remote.Enabled {
		return errors.New("config: both stage and remote are disabled")
	}
	return nil
}

// StagePort is the port the stage display client dials
func (c Config) StagePort() int {
	if c.Stage.Port != 0 {
		return c.Stage.Port
	}
	return c.Port
}

// RemotePort is the port the control client dials
func (c Config) RemotePort() int {
	if c.Remote.Port != 0 {
		return c.Remote.Port
	}
	return c.Port
}

// Log writes the effective configuration, without passwords
func (c Config) Log(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("path", c.Path),
		zap.String("host", c.Host),
		zap.Int("stagePort", c.StagePort()),
		zap.Int("remotePort", c.RemotePort()),
		zap.Int("version", c.Version),
		zap.Bool("stage", c.Stage.Enabled),
		zap.Bool("remote", c.Remote.Enabled),
		zap.Duration("closeBackoff", c.CloseBackoff),
		zap.Duration("errorBackoff", c.ErrorBackoff))
}

func expandPath(path string) (string, error) {
	trimmed := os.ExpandEnv(strings.TrimSpace(path))
	if trimmed == "" {
		return "", errors.New("config path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
