// Package session implements the per-connection terminal lifecycle manager.
//
// Each Session runs a single actor loop that owns its terminal table; client
// requests and process events are serialized through the loop, so create,
// write, kill, and disconnect never interleave within a session. The only
// state shared across sessions is the global limiter.Counter.
package session

import (
	"context"
	"time"

	"github.com/bhandras/termhub/internal/actor"
	"github.com/bhandras/termhub/internal/limiter"
	"github.com/bhandras/termhub/internal/logger"
)

// Config holds the per-session settings derived from process configuration.
type Config struct {
	LimitPerUser     int
	TerminalType     string
	WorkingDirectory string
	KillGracePeriod  time.Duration
	// AllowedCommands restricts spawnable commands; empty allows any.
	AllowedCommands []string
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	// Counter is the global live-terminal counter. Required.
	Counter *limiter.Counter
	// Spawner starts processes. Defaults to PtySpawner.
	Spawner Spawner
	// Observer receives lifecycle notifications. Optional.
	Observer Observer
	// Registry is the registry the session removes itself from on
	// disconnect. Optional.
	Registry *Registry
}

// DefaultKillGracePeriod is used when Config.KillGracePeriod is unset.
const DefaultKillGracePeriod = 2 * time.Second

// Session is the server-side state bound to one client connection.
type Session struct {
	identity Identity
	channel  Channel
	registry *Registry

	runtime *Runtime
	actor   *actor.Actor[State]
}

// New creates a session and starts its loop. The caller registers it.
func New(identity Identity, ch Channel, cfg Config, deps Deps) *Session {
	if deps.Spawner == nil {
		deps.Spawner = PtySpawner{}
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if cfg.KillGracePeriod <= 0 {
		cfg.KillGracePeriod = DefaultKillGracePeriod
	}

	id := identity.SessionID()
	rt := newRuntime(id, ch, cfg, deps)
	initial := State{
		SessionID:       id,
		Phase:           PhaseOpen,
		Terminals:       make(TerminalTable),
		LimitPerUser:    cfg.LimitPerUser,
		AllowedCommands: append([]string(nil), cfg.AllowedCommands...),
	}

	a := actor.New(initial, Reduce, rt, actor.WithHooks(actor.Hooks[State]{
		OnInput: func(in actor.Input) {
			if logger.Enabled(logger.LevelTrace) {
				logger.Tracef("Session %s: input %T", id, in)
			}
		},
		OnPanic: func(r any) {
			logger.Errorf("Session %s: loop panic: %v", id, r)
		},
	}))
	rt.setStop(a.Stop)

	s := &Session{
		identity: identity,
		channel:  ch,
		registry: deps.Registry,
		runtime:  rt,
		actor:    a,
	}
	a.Start()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.identity.SessionID() }

// Identity returns the identity the session was created with.
func (s *Session) Identity() Identity { return s.identity }

// Channel returns the transport handle bound to the session.
func (s *Session) Channel() Channel { return s.channel }

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.actor.Done() }

// Create requests a new terminal. ack is called exactly once, either from the
// session loop or, if the session is gone, from the calling goroutine.
func (s *Session) Create(p CreateParams, ack CreateAck) {
	if !s.actor.Enqueue(cmdCreate{Params: p, Ack: ack}) && ack != nil {
		ack(Descriptor{}, ErrSessionClosed)
	}
}

type createResult struct {
	desc Descriptor
	err  error
}

// CreateSync is Create for callers that want to wait for the outcome.
func (s *Session) CreateSync(ctx context.Context, p CreateParams) (Descriptor, error) {
	reply := make(chan createResult, 1)
	s.Create(p, func(d Descriptor, err error) {
		reply <- createResult{desc: d, err: err}
	})
	select {
	case r := <-reply:
		return r.desc, r.err
	case <-ctx.Done():
		return Descriptor{}, ctx.Err()
	case <-s.actor.Done():
		select {
		case r := <-reply:
			return r.desc, r.err
		default:
			return Descriptor{}, ErrSessionClosed
		}
	}
}

// Write forwards client input to a running terminal. Unknown ids are dropped.
func (s *Session) Write(id string, data []byte) {
	s.actor.Enqueue(cmdWrite{ID: id, Data: data})
}

// Kill terminates a terminal. Unknown ids are dropped.
func (s *Session) Kill(id string) {
	s.actor.Enqueue(cmdKill{ID: id})
}

// Resize changes a running terminal's window size.
func (s *Session) Resize(id string, cols, rows int) {
	s.actor.Enqueue(cmdResize{ID: id, Cols: cols, Rows: rows})
}

// Process reports a terminal's foreground process name through ack.
func (s *Session) Process(id string, ack ProcessAck) {
	if !s.actor.Enqueue(cmdProcess{ID: id, Ack: ack}) && ack != nil {
		ack("", ErrSessionClosed)
	}
}

// Terminals returns a snapshot of the terminal table.
func (s *Session) Terminals(ctx context.Context) ([]TerminalInfo, error) {
	reply := make(chan []TerminalInfo, 1)
	if !s.actor.Enqueue(cmdSnapshot{Reply: reply}) {
		return nil, ErrSessionClosed
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.actor.Done():
		return nil, ErrSessionClosed
	}
}

// Disconnect kills every terminal, waits until all of them are reaped, and
// removes the session from its registry. If ctx expires first the loop is
// stopped and remaining processes are torn down in the background; their
// slots are still released when they exit.
//
// Disconnect does not communicate with the client.
func (s *Session) Disconnect(ctx context.Context) error {
	defer s.unregister()

	if !s.actor.Enqueue(cmdDisconnect{}) {
		return nil
	}
	select {
	case <-s.actor.Done():
		return nil
	case <-ctx.Done():
		logger.Warnf("Session %s: teardown did not finish: %v", s.ID(), ctx.Err())
		s.actor.Stop()
		return ctx.Err()
	}
}

func (s *Session) unregister() {
	if s.registry == nil {
		return
	}
	if s.registry.Remove(s) {
		logger.Infof("Session %s closed", s.ID())
	}
}

// NopObserver ignores all notifications.
type NopObserver struct{}

// TerminalOpened implements Observer.
func (NopObserver) TerminalOpened(string, Descriptor) {}

// TerminalClosed implements Observer.
func (NopObserver) TerminalClosed(string, string, int, ExitCause) {}

// CreateRejected implements Observer.
func (NopObserver) CreateRejected(string, string, error) {}

// Observers fans notifications out to several observers.
type Observers []Observer

// TerminalOpened implements Observer.
func (o Observers) TerminalOpened(sessionID string, d Descriptor) {
	for _, ob := range o {
		ob.TerminalOpened(sessionID, d)
	}
}

// TerminalClosed implements Observer.
func (o Observers) TerminalClosed(sessionID, terminalID string, pid int, cause ExitCause) {
	for _, ob := range o {
		ob.TerminalClosed(sessionID, terminalID, pid, cause)
	}
}

// CreateRejected implements Observer.
func (o Observers) CreateRejected(sessionID, command string, err error) {
	for _, ob := range o {
		ob.CreateRejected(sessionID, command, err)
	}
}
