// termhub serves interactive pty shells to browser clients over socket.io.
//
// Usage:
//
//	termhub [serve] [flags]     run the server (default)
//	termhub token <subject>     mint a handshake token for an identity
//	termhub version             print the version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/termhub/internal/config"
	"github.com/bhandras/termhub/internal/crypto"
	"github.com/bhandras/termhub/internal/logger"
	"github.com/bhandras/termhub/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "token":
		return runToken(args, stdout)
	case "version":
		fmt.Fprintf(stdout, "termhub %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// serveFlags parses serve flags into config overrides. Only flags present on
// the command line override file and environment values.
func serveFlags(args []string) (config.Overrides, error) {
	fs := pflag.NewFlagSet("termhub serve", pflag.ContinueOnError)

	configFile := fs.StringP("config", "c", "", "path to a YAML config file")
	port := fs.IntP("port", "p", 0, "listen port")
	hostname := fs.String("hostname", "", "listen address")
	limitPerUser := fs.Int("limit-per-user", 0, "max concurrent terminals per session")
	limitGlobal := fs.Int("limit-global", 0, "max concurrent terminals per process")
	termName := fs.String("term", "", "TERM value for spawned shells")
	cwd := fs.String("cwd", "", "working directory for spawned shells")
	grace := fs.Duration("kill-grace", 0, "time between SIGHUP and SIGKILL")
	authSecret := fs.String("auth-secret", "", "secret for handshake tokens")
	requireAuth := fs.Bool("require-auth", false, "reject connections without a token")
	auditDB := fs.String("audit-db", "", "SQLite path for the terminal audit log")
	certFile := fs.String("tls-cert", "", "TLS certificate file")
	keyFile := fs.String("tls-key", "", "TLS key file")
	logLevel := fs.String("log-level", "", "trace, debug, info, warn or error")
	logFormat := fs.String("log-format", "", "console or json")
	debug := fs.Bool("debug", false, "enable debug logging and gin debug mode")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}
	if fs.NArg() > 0 {
		return config.Overrides{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	var o config.Overrides
	if fs.Changed("config") {
		o.ConfigFile = configFile
	}
	if fs.Changed("port") {
		o.Port = port
	}
	if fs.Changed("hostname") {
		o.Hostname = hostname
	}
	if fs.Changed("limit-per-user") {
		o.LimitPerUser = limitPerUser
	}
	if fs.Changed("limit-global") {
		o.LimitGlobal = limitGlobal
	}
	if fs.Changed("term") {
		o.TerminalType = termName
	}
	if fs.Changed("cwd") {
		o.WorkingDirectory = cwd
	}
	if fs.Changed("kill-grace") {
		o.KillGracePeriod = grace
	}
	if fs.Changed("auth-secret") {
		o.AuthSecret = authSecret
	}
	if fs.Changed("require-auth") {
		o.RequireAuth = requireAuth
	}
	if fs.Changed("audit-db") {
		o.AuditDatabasePath = auditDB
	}
	if fs.Changed("tls-cert") || fs.Changed("tls-key") {
		o.TLS = &config.TLSConfig{CertFile: *certFile, KeyFile: *keyFile}
	}
	if fs.Changed("log-level") {
		o.LogLevel = logLevel
	}
	if fs.Changed("log-format") {
		o.LogFormat = logFormat
	}
	if fs.Changed("debug") {
		o.Debug = debug
	}
	return o, nil
}

func runServe(args []string) error {
	overrides, err := serveFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	logger.Infof("Limits: %d terminals per session, %d global", cfg.LimitPerUser, cfg.LimitGlobal)
	if len(cfg.AllowedCommands) > 0 {
		logger.Infof("Allowed commands: %v", cfg.AllowedCommands)
	}
	if cfg.AuthSecret == "" {
		logger.Warnf("No auth secret configured; every connection gets a generated identity")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}

func setupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.SetFormat(format)
	logger.SetLevel(level)
	return nil
}

func runToken(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("termhub token", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "path to a YAML config file")
	secret := fs.String("auth-secret", "", "secret for handshake tokens")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime; 0 never expires")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: termhub token [flags] <subject>")
	}

	var o config.Overrides
	if fs.Changed("config") {
		o.ConfigFile = configFile
	}
	if fs.Changed("auth-secret") {
		o.AuthSecret = secret
	}
	cfg, err := config.Load(o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.AuthSecret == "" {
		return errors.New("no auth secret configured")
	}

	jwtManager, err := crypto.NewJWTManager(cfg.AuthSecret)
	if err != nil {
		return err
	}
	token, err := jwtManager.CreateToken(fs.Arg(0), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}
