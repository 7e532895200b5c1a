package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/bhandras/termhub/internal/logger"
	"github.com/bhandras/termhub/internal/session"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
)

var (
	errMissingToken = errors.New("authentication token required")
	errInvalidToken = errors.New("invalid authentication token")
)

// socketChannel adapts a socket.io socket to session.Channel.
type socketChannel struct {
	socket *socket.Socket
}

func (c *socketChannel) Emit(event string, args ...any) {
	c.socket.Emit(event, args...)
}

// close tells the client why it is being dropped and disconnects it from
// the namespace. The error event is queued ahead of the disconnect packet.
func (c *socketChannel) close(reason string) {
	c.socket.Emit("error", map[string]string{"message": reason})
	c.socket.Disconnect(false)
}

// handshake is what authorize leaves on an accepted socket.
type handshake struct {
	identity session.Identity
	route    *eventRoute
}

// authorize is the namespace middleware. It resolves the identity and
// installs the event route before the client is told it is connected.
func (s *SocketIOServer) authorize(client *socket.Socket, next func(*socket.ExtendedError)) {
	identity, err := s.identify(client)
	if err != nil {
		logger.Warnf("Socket.IO handshake rejected (socket %s): %v", client.Id(), err)
		next(socket.NewExtendedError(err.Error(), nil))
		return
	}

	route := &eventRoute{}
	client.OnAny(route.dispatch)
	client.SetData(&handshake{identity: identity, route: route})
	next(nil)
}

func (s *SocketIOServer) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())

	hs, ok := client.Data().(*handshake)
	if !ok {
		logger.Errorf("Socket.IO connection without handshake (socket %s)", socketID)
		client.Disconnect(true)
		return
	}

	sess := session.New(hs.identity, &socketChannel{socket: client}, s.opts.Session, session.Deps{
		Counter:  s.opts.Counter,
		Spawner:  s.opts.Spawner,
		Observer: s.opts.Observer,
		Registry: s.opts.Registry,
	})
	if prev := s.opts.Registry.Register(sess); prev != nil {
		logger.Infof("Session %s replaced (socket %s)", sess.ID(), socketID)
		go s.replace(prev)
	}
	logger.Infof("Session %s created (%s, socket %s)", sess.ID(), hs.identity.Kind(), socketID)

	hs.route.bind(sess)

	client.On("disconnect", func(data ...any) {
		reason := describeReason(data)
		logger.Infof("Socket.IO disconnect (socket %s, session %s): %s", socketID, sess.ID(), reason)

		// Listeners run on the transport goroutine; teardown waits for
		// processes to exit.
		go s.teardown(sess, reason)
	})
	if !client.Connected() {
		go s.teardown(sess, "closed during connect")
	}
}

// identify derives the session identity from handshake auth data. Token
// contents are never logged.
func (s *SocketIOServer) identify(client *socket.Socket) (session.Identity, error) {
	var token string
	if auth := client.Handshake().Auth; auth != nil {
		token, _ = auth["token"].(string)
	}

	if token == "" || s.opts.JWT == nil {
		if s.opts.RequireAuth {
			return session.Identity{}, errMissingToken
		}
		return s.opts.Registry.NextGenerated(), nil
	}

	claims, err := s.opts.JWT.VerifyToken(token)
	if err != nil {
		logger.Debugf("Socket.IO token verification failed: %v", err)
		return session.Identity{}, errInvalidToken
	}
	return session.Authenticated(claims.UserID), nil
}

// replace tears down a session whose identity reconnected on another socket.
func (s *SocketIOServer) replace(prev *session.Session) {
	if ch, ok := prev.Channel().(*socketChannel); ok {
		ch.close("session replaced")
	}
	s.teardown(prev, "replaced")
}

// teardown disconnects a session and waits for its terminals to exit. The
// session logs its own close once it leaves the registry.
func (s *SocketIOServer) teardown(sess *session.Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DisconnectTimeout)
	defer cancel()

	if err := sess.Disconnect(ctx); err != nil {
		logger.Warnf("Session %s teardown (%s): %v", sess.ID(), reason, err)
	}
}

func describeReason(data []any) string {
	if len(data) > 0 {
		if reason, ok := data[0].(string); ok && reason != "" {
			return reason
		}
		return fmt.Sprint(data[0])
	}
	return "disconnect"
}
