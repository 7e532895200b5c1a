package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TERMHUB_CONFIG", "")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 10, cfg.LimitPerUser)
	require.Equal(t, 100, cfg.LimitGlobal)
	require.Equal(t, "xterm", cfg.TerminalType)
	require.Equal(t, 2*time.Second, cfg.KillGracePeriod)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Empty(t, cfg.AllowedCommands)
	require.False(t, cfg.TLS.Enabled())
	require.Equal(t, ":8080", cfg.Addr())
}

func TestLoadLayering(t *testing.T) {
	path := writeFile(t, `
port: 9000
hostname: 127.0.0.1
limitPerUser: 3
limitGlobal: 12
termName: xterm-256color
cwd: /srv
killGracePeriod: 5s
allowedCommands: [bash, /usr/bin/fish]
https:
  cert: /etc/termhub/cert.pem
  key: /etc/termhub/key.pem
`)
	t.Setenv("TERMHUB_CONFIG", path)
	t.Setenv("TERMHUB_LIMIT_GLOBAL", "20")
	t.Setenv("TERMHUB_TLS_KEY_FILE", "/run/secrets/key.pem")

	port := 9100
	cfg, err := Load(Overrides{Port: &port})
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "127.0.0.1:9100", cfg.Addr())
	require.Equal(t, 3, cfg.LimitPerUser)
	require.Equal(t, 20, cfg.LimitGlobal)
	require.Equal(t, "xterm-256color", cfg.TerminalType)
	require.Equal(t, "/srv", cfg.WorkingDirectory)
	require.Equal(t, 5*time.Second, cfg.KillGracePeriod)
	require.Equal(t, []string{"bash", "/usr/bin/fish"}, cfg.AllowedCommands)
	require.Equal(t, TLSConfig{CertFile: "/etc/termhub/cert.pem", KeyFile: "/run/secrets/key.pem"}, cfg.TLS)
	require.True(t, cfg.TLS.Enabled())
}

func TestLoadDebugForcesDebugLevel(t *testing.T) {
	t.Setenv("TERMHUB_CONFIG", "")
	t.Setenv("TERMHUB_DEBUG", "true")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"per-user limit": func(c *Config) { c.LimitPerUser = 0 },
		"global limit":   func(c *Config) { c.LimitGlobal = -1 },
		"grace":          func(c *Config) { c.KillGracePeriod = 0 },
		"half tls":       func(c *Config) { c.TLS.CertFile = "cert.pem" },
		"auth secret":    func(c *Config) { c.RequireAuth = true },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
		"port":           func(c *Config) { c.Port = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, Default().Validate())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := writeFile(t, "limitPerUser: [1, 2]\n")
	_, err := Load(Overrides{ConfigFile: &path})
	require.Error(t, err)

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Load(Overrides{ConfigFile: &missing})
	require.Error(t, err)
}
