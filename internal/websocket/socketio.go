package websocket

import (
	"net/http"
	"slices"
	"time"

	"github.com/bhandras/termhub/internal/crypto"
	"github.com/bhandras/termhub/internal/limiter"
	"github.com/bhandras/termhub/internal/logger"
	"github.com/bhandras/termhub/internal/session"
	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
)

const (
	// Path is where the socket.io endpoint is mounted.
	Path = "/socket.io/"

	// PingInterval defines how frequently the server pings clients to
	// detect stale sockets. A dead socket is what triggers terminal
	// teardown when the client vanishes without a clean disconnect.
	PingInterval = 10 * time.Second

	// PingTimeout defines how long the server waits for a pong before
	// considering a socket dead.
	PingTimeout = 20 * time.Second

	// disconnectSlack is added to the kill grace period when waiting for
	// a session to finish tearing down.
	disconnectSlack = 5 * time.Second
)

// Options configures the socket.io event router.
type Options struct {
	// Session is handed to every new session unchanged.
	Session session.Config

	Counter  *limiter.Counter
	Registry *session.Registry
	Spawner  session.Spawner
	Observer session.Observer

	// JWT verifies handshake tokens. Nil means tokens are ignored and
	// every connection gets a generated identity.
	JWT *crypto.JWTManager

	// RequireAuth rejects connections that do not present a token.
	RequireAuth bool

	// AllowedOrigins is the CORS origin list for the polling transport.
	AllowedOrigins []string

	// DisconnectTimeout bounds how long a session teardown may take.
	// Defaults to the kill grace period plus a few seconds.
	DisconnectTimeout time.Duration
}

// SocketIOServer binds socket.io connections to terminal sessions. It holds
// no terminal state of its own.
type SocketIOServer struct {
	opts    Options
	server  *socket.Server
	handler http.Handler
}

// NewSocketIOServer creates the socket.io server and installs the connection
// handler.
func NewSocketIOServer(opts Options) *SocketIOServer {
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.DisconnectTimeout <= 0 {
		grace := opts.Session.KillGracePeriod
		if grace <= 0 {
			grace = session.DefaultKillGracePeriod
		}
		opts.DisconnectTimeout = grace + disconnectSlack
	}

	serverOpts := socket.DefaultServerOptions()

	// The gin cors middleware handles explicit origin lists; socket.io
	// only needs to answer on its own when every origin is allowed.
	if len(opts.AllowedOrigins) == 0 || slices.Contains(opts.AllowedOrigins, "*") {
		serverOpts.SetCors(&sockettypes.Cors{
			Origin:      "*",
			Credentials: false,
		})
	}
	serverOpts.SetPingInterval(PingInterval)
	serverOpts.SetPingTimeout(PingTimeout)
	serverOpts.SetPath(Path)

	s := &SocketIOServer{
		opts:   opts,
		server: socket.NewServer(nil, serverOpts),
	}

	// Close needs a bound engine even if no request was ever served.
	s.handler = s.server.ServeHandler(nil)

	// Runs before the namespace connects, so a rejected client receives
	// CONNECT_ERROR with the reason.
	s.server.Use(s.authorize)

	s.server.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			logger.Errorf("Socket.IO connection with unexpected type %T", clients[0])
			return
		}
		s.handleConnection(client)
	})

	return s
}

// Registry returns the session registry connections are registered in.
func (s *SocketIOServer) Registry() *session.Registry { return s.opts.Registry }

// Handler returns the socket.io HTTP handler.
func (s *SocketIOServer) Handler() http.Handler {
	return s.handler
}

// HandleSocketIO adapts Handler for gin routes.
func (s *SocketIOServer) HandleSocketIO() gin.HandlerFunc {
	h := s.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the socket.io server. Sessions are torn down through
// their disconnect handlers.
func (s *SocketIOServer) Close() {
	s.server.Close(nil)
}
