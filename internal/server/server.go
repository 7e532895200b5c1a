// Package server assembles the HTTP surface: the socket.io endpoint that
// carries terminal sessions plus a few operational routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/termhub/internal/api/middleware"
	"github.com/bhandras/termhub/internal/audit"
	"github.com/bhandras/termhub/internal/config"
	"github.com/bhandras/termhub/internal/crypto"
	"github.com/bhandras/termhub/internal/limiter"
	"github.com/bhandras/termhub/internal/logger"
	"github.com/bhandras/termhub/internal/metrics"
	"github.com/bhandras/termhub/internal/session"
	"github.com/bhandras/termhub/internal/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	// ShutdownTimeout bounds ListenAndServe's graceful shutdown.
	ShutdownTimeout = 15 * time.Second

	auditBuffer = 1024
)

// Server owns the process-wide state: the global terminal counter, the
// session registry, and the optional auth, audit, and metrics components.
type Server struct {
	cfg *config.Config

	counter  *limiter.Counter
	registry *session.Registry
	jwt      *crypto.JWTManager
	metrics  *metrics.Metrics
	store    *audit.Store
	recorder *audit.Recorder
	spawner  session.Spawner
	socketIO *websocket.SocketIOServer

	startedAt time.Time

	mu         sync.Mutex
	middleware []gin.HandlerFunc
	engine     *gin.Engine

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Server.
type Option func(*Server)

// WithSpawner replaces the pty spawner, mostly for tests.
func WithSpawner(sp session.Spawner) Option {
	return func(s *Server) { s.spawner = sp }
}

// New wires a Server from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		counter:   limiter.NewCounter(cfg.LimitGlobal),
		registry:  session.NewRegistry(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.AuthSecret != "" {
		jwtManager, err := crypto.NewJWTManager(cfg.AuthSecret)
		if err != nil {
			return nil, fmt.Errorf("jwt manager: %w", err)
		}
		s.jwt = jwtManager
	}

	s.metrics = metrics.New(s.counter, s.registry)
	observers := session.Observers{s.metrics}

	if cfg.AuditDatabasePath != "" {
		logger.Infof("Opening audit database: %s", cfg.AuditDatabasePath)
		store, err := audit.Open(cfg.AuditDatabasePath)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		s.store = store
		s.recorder = audit.NewRecorder(store, auditBuffer)
		observers = append(observers, s.recorder)
	}

	s.socketIO = websocket.NewSocketIOServer(websocket.Options{
		Session: session.Config{
			LimitPerUser:     cfg.LimitPerUser,
			TerminalType:     cfg.TerminalType,
			WorkingDirectory: cfg.WorkingDirectory,
			KillGracePeriod:  cfg.KillGracePeriod,
			AllowedCommands:  cfg.AllowedCommands,
		},
		Counter:        s.counter,
		Registry:       s.registry,
		Spawner:        s.spawner,
		Observer:       observers,
		JWT:            s.jwt,
		RequireAuth:    cfg.RequireAuth,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return s, nil
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Counter returns the global live-terminal counter.
func (s *Server) Counter() *limiter.Counter { return s.counter }

// JWT returns the token manager, or nil when auth is not configured.
func (s *Server) JWT() *crypto.JWTManager { return s.jwt }

// Use registers middleware that runs before every route. It must be called
// before the first call to Handler.
func (s *Server) Use(mw ...gin.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		logger.Warnf("Server.Use called after the router was built; ignoring %d middleware", len(mw))
		return
	}
	s.middleware = append(s.middleware, mw...)
}

// Handler builds the router on first use and returns it.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		s.engine = s.buildRouter()
	}
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))
	router.Use(middleware.LoggingMiddleware())
	router.Use(s.middleware...)

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := router.Group("/v1")
	if s.jwt != nil {
		v1.Use(middleware.AuthMiddleware(s.jwt))
	}
	{
		v1.GET("/stats", s.handleStats)
		v1.GET("/sessions", s.handleSessions)
		v1.GET("/audit", s.handleAudit)
	}

	socketPath := strings.TrimSuffix(websocket.Path, "/")
	router.Any(socketPath, s.socketIO.HandleSocketIO())
	router.Any(socketPath+"/*any", s.socketIO.HandleSocketIO())

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener. Sessions are torn down
// and the audit log is flushed before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	if s.cfg.TLS.Enabled() {
		scheme = "https"
	}
	logger.Infof("termhub listening on %s://%s", scheme, ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS.Enabled() {
			errCh <- httpServer.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
			return
		}
		errCh <- httpServer.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Infof("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; Close
	// tears their sessions down explicitly.
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	return errors.Join(serveErr, shutdownErr, s.Close(shutdownCtx))
}

// Close disconnects every session, stops the socket.io server, and flushes
// the audit log. It is safe to call more than once.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.registry.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
		s.socketIO.Close()

		if s.recorder != nil {
			if err := s.recorder.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("audit flush: %w", err))
			}
			if dropped := s.recorder.Dropped(); dropped > 0 {
				logger.Warnf("Audit recorder dropped %d events", dropped)
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("audit store: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
