// Package config loads termhub configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// TERMHUB_* environment variables, then explicit overrides (command-line
// flags). The result is validated once and treated as immutable.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/bhandras/termhub/internal/logger"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "TERMHUB"

// Config holds server configuration.
//
// Environment names are the field names in upper snake case under EnvPrefix,
// e.g. TERMHUB_LIMIT_PER_USER or TERMHUB_TLS_CERT_FILE. Struct tags carry no
// envconfig names so unprefixed variables such as HOSTNAME are never read.
type Config struct {
	Port     int    `split_words:"true"`
	Hostname string `split_words:"true"`

	// LimitPerUser bounds concurrent terminals per session.
	LimitPerUser int `split_words:"true"`
	// LimitGlobal bounds concurrent terminals across all sessions.
	LimitGlobal int `split_words:"true"`

	// TerminalType is exported to spawned processes as TERM.
	TerminalType     string        `split_words:"true"`
	WorkingDirectory string        `split_words:"true"`
	KillGracePeriod  time.Duration `split_words:"true"`
	// AllowedCommands restricts what clients may spawn. Empty allows any
	// command.
	AllowedCommands []string `split_words:"true"`

	// TLS enables HTTPS when both files are set.
	TLS TLSConfig `split_words:"true"`

	AuthSecret        string   `split_words:"true"`
	RequireAuth       bool     `split_words:"true"`
	AuditDatabasePath string   `split_words:"true"`
	AllowedOrigins    []string `split_words:"true"`

	LogLevel  string `split_words:"true"`
	LogFormat string `split_words:"true"`
	Debug     bool   `split_words:"true"`
}

// TLSConfig holds file paths for serving HTTPS directly from the server.
type TLSConfig struct {
	// CertFile is a PEM-encoded certificate chain.
	CertFile string `split_words:"true"`
	// KeyFile is a PEM-encoded private key.
	KeyFile string `split_words:"true"`
}

// Enabled reports whether TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// Overrides optionally overrides values from the file and environment.
//
// A nil pointer means "keep the loaded value".
type Overrides struct {
	ConfigFile        *string
	Port              *int
	Hostname          *string
	LimitPerUser      *int
	LimitGlobal       *int
	TerminalType      *string
	WorkingDirectory  *string
	KillGracePeriod   *time.Duration
	AuthSecret        *string
	RequireAuth       *bool
	AuditDatabasePath *string
	LogLevel          *string
	LogFormat         *string
	Debug             *bool
	TLS               *TLSConfig
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return &Config{
		Port:             8080,
		LimitPerUser:     10,
		LimitGlobal:      100,
		TerminalType:     "xterm",
		WorkingDirectory: home,
		KillGracePeriod:  2 * time.Second,
		AllowedOrigins:   []string{"*"},
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// fileConfig mirrors the YAML file. Keys follow the classic tty.js-style
// config names where one exists.
type fileConfig struct {
	Port            *int           `yaml:"port"`
	Hostname        *string        `yaml:"hostname"`
	LimitPerUser    *int           `yaml:"limitPerUser"`
	LimitGlobal     *int           `yaml:"limitGlobal"`
	TermName        *string        `yaml:"termName"`
	Cwd             *string        `yaml:"cwd"`
	KillGracePeriod *time.Duration `yaml:"killGracePeriod"`
	AllowedCommands []string       `yaml:"allowedCommands"`
	AuthSecret      *string        `yaml:"authSecret"`
	RequireAuth     *bool          `yaml:"requireAuth"`
	AuditDatabase   *string        `yaml:"auditDatabase"`
	AllowedOrigins  []string       `yaml:"allowedOrigins"`
	LogLevel        *string        `yaml:"logLevel"`
	LogFormat       *string        `yaml:"logFormat"`
	Debug           *bool          `yaml:"debug"`
	HTTPS           *struct {
		Cert string `yaml:"cert"`
		Key  string `yaml:"key"`
	} `yaml:"https"`
}

// Load builds the configuration and validates it.
func Load(overrides Overrides) (*Config, error) {
	cfg := Default()

	path := os.Getenv(EnvPrefix + "_CONFIG")
	if overrides.ConfigFile != nil {
		path = *overrides.ConfigFile
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyOverrides(overrides)
	if cfg.Debug {
		cfg.LogLevel = logger.LevelDebug.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setIf(&c.Port, f.Port)
	setIf(&c.Hostname, f.Hostname)
	setIf(&c.LimitPerUser, f.LimitPerUser)
	setIf(&c.LimitGlobal, f.LimitGlobal)
	setIf(&c.TerminalType, f.TermName)
	setIf(&c.WorkingDirectory, f.Cwd)
	setIf(&c.KillGracePeriod, f.KillGracePeriod)
	setIf(&c.AuthSecret, f.AuthSecret)
	setIf(&c.RequireAuth, f.RequireAuth)
	setIf(&c.AuditDatabasePath, f.AuditDatabase)
	setIf(&c.LogLevel, f.LogLevel)
	setIf(&c.LogFormat, f.LogFormat)
	setIf(&c.Debug, f.Debug)
	if f.AllowedCommands != nil {
		c.AllowedCommands = f.AllowedCommands
	}
	if f.AllowedOrigins != nil {
		c.AllowedOrigins = f.AllowedOrigins
	}
	if f.HTTPS != nil {
		c.TLS = TLSConfig{CertFile: f.HTTPS.Cert, KeyFile: f.HTTPS.Key}
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	setIf(&c.Port, o.Port)
	setIf(&c.Hostname, o.Hostname)
	setIf(&c.LimitPerUser, o.LimitPerUser)
	setIf(&c.LimitGlobal, o.LimitGlobal)
	setIf(&c.TerminalType, o.TerminalType)
	setIf(&c.WorkingDirectory, o.WorkingDirectory)
	setIf(&c.KillGracePeriod, o.KillGracePeriod)
	setIf(&c.AuthSecret, o.AuthSecret)
	setIf(&c.RequireAuth, o.RequireAuth)
	setIf(&c.AuditDatabasePath, o.AuditDatabasePath)
	setIf(&c.LogLevel, o.LogLevel)
	setIf(&c.LogFormat, o.LogFormat)
	setIf(&c.Debug, o.Debug)
	setIf(&c.TLS, o.TLS)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks invariants the rest of the server relies on.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.LimitPerUser < 1 {
		return fmt.Errorf("limitPerUser must be at least 1, got %d", c.LimitPerUser)
	}
	if c.LimitGlobal < 1 {
		return fmt.Errorf("limitGlobal must be at least 1, got %d", c.LimitGlobal)
	}
	if c.KillGracePeriod <= 0 {
		return fmt.Errorf("kill grace period must be positive, got %s", c.KillGracePeriod)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS requires both a certificate and a key")
	}
	if c.RequireAuth && c.AuthSecret == "" {
		return fmt.Errorf("requireAuth is set but no auth secret is configured")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logger.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}
