package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/termhub/internal/actor"
	"github.com/bhandras/termhub/internal/limiter"
	"github.com/bhandras/termhub/internal/logger"
)

// Channel is the transport handle a session emits server events on.
type Channel interface {
	Emit(event string, args ...any)
}

// tracked is the runtime's view of a process holding a global slot.
type tracked struct {
	id       string
	pid      int
	attached bool
	cause    ExitCause
}

// Runtime interprets session effects.
//
// A global slot is acquired right before spawn and released when the process
// is reaped, once per process, whatever path it takes through the session.
// Runtime never touches the terminal table; outcomes go back through emit.
type Runtime struct {
	sessionID    string
	channel      Channel
	counter      *limiter.Counter
	spawner      Spawner
	observer     Observer
	terminalType string
	dir          string
	grace        time.Duration

	mu    sync.Mutex
	procs map[Process]*tracked
	stop  func()
}

func newRuntime(sessionID string, ch Channel, cfg Config, deps Deps) *Runtime {
	return &Runtime{
		sessionID:    sessionID,
		channel:      ch,
		counter:      deps.Counter,
		spawner:      deps.Spawner,
		observer:     deps.Observer,
		terminalType: cfg.TerminalType,
		dir:          cfg.WorkingDirectory,
		grace:        cfg.KillGracePeriod,
		procs:        make(map[Process]*tracked),
	}
}

// HandleEffects implements actor.Runtime.
//
// Effects are applied in order even after cancellation: a dropped release or
// terminate would leak a process.
func (r *Runtime) HandleEffects(_ context.Context, effects []actor.Effect, emit actor.EmitFunc) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effSpawn:
			go r.spawn(e, emit)
		case effAckCreate:
			if e.Ack != nil {
				e.Ack(e.Descriptor, e.Err)
			}
		case effAttach:
			r.attach(e.ID, e.Proc, emit)
		case effDiscard:
			r.discard(e.Proc)
		case effWrite:
			logger.Tracef("Session %s: %d bytes to %s", r.sessionID, len(e.Data), e.Proc.ID())
			e.Proc.Write(e.Data)
		case effResize:
			if err := e.Proc.Resize(e.Cols, e.Rows); err != nil {
				logger.Debugf("Session %s: resize %s failed: %v", r.sessionID, e.ID, err)
			}
		case effTerminate:
			r.terminate(e.Proc, e.Cause)
		case effEmit:
			r.channel.Emit(e.Event, e.Args...)
		case effQueryProcess:
			go func() {
				name := e.Proc.ForegroundProcess()
				if name == "" {
					name = e.DisplayName
				}
				if e.Ack != nil {
					e.Ack(name, nil)
				}
			}()
		case effAckProcess:
			if e.Ack != nil {
				e.Ack("", e.Err)
			}
		case effOpened:
			logger.Infof("Session %s: opened pty %s (pid %d, %s)",
				r.sessionID, e.Descriptor.ID, e.Descriptor.ProcessID, e.Descriptor.DisplayName)
			r.observer.TerminalOpened(r.sessionID, e.Descriptor)
		case effRejected:
			logger.Debugf("Session %s: create %q rejected: %v", r.sessionID, e.Command, e.Err)
			r.observer.CreateRejected(r.sessionID, e.Command, e.Err)
		case effStop:
			r.mu.Lock()
			stop := r.stop
			r.mu.Unlock()
			if stop != nil {
				stop()
			}
		default:
			// Unknown effect: ignore.
		}
	}
}

// Stop implements actor.Runtime. Every process still holding a slot is
// terminated; processes whose spawn was never observed by the loop are
// attached here so their exit still releases the slot.
func (r *Runtime) Stop() {
	r.mu.Lock()
	procs := make([]Process, 0, len(r.procs))
	for p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		r.discard(p)
	}
}

func (r *Runtime) spawn(eff effSpawn, emit actor.EmitFunc) {
	fail := func(err error) {
		if !emit(evSpawnFailed{Req: eff.Req, Err: err, Ack: eff.Ack}) && eff.Ack != nil {
			eff.Ack(Descriptor{}, ErrSessionClosed)
		}
	}

	if !r.counter.TryAcquire() {
		fail(fmt.Errorf("%w: global", ErrLimitExceeded))
		return
	}

	proc, err := r.spawner.Spawn(SpawnRequest{
		Command:      eff.Req.Command,
		Args:         eff.Req.Args,
		Cols:         eff.Req.Cols,
		Rows:         eff.Req.Rows,
		TerminalType: r.terminalType,
		Dir:          r.dir,
	})
	if err != nil {
		r.counter.Release()
		fail(fmt.Errorf("%w: %v", ErrSpawnFailed, err))
		return
	}

	r.mu.Lock()
	r.procs[proc] = &tracked{id: proc.ID(), pid: proc.PID()}
	r.mu.Unlock()

	if !emit(evSpawned{Req: eff.Req, Proc: proc, Ack: eff.Ack}) {
		if eff.Ack != nil {
			eff.Ack(Descriptor{}, ErrSessionClosed)
		}
		r.discard(proc)
	}
}

// claim marks proc as attached and reports whether the caller should attach
// it. A process is attached once.
func (r *Runtime) claim(proc Process, cause ExitCause) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.procs[proc]
	if !ok || t.attached {
		return false
	}
	t.attached = true
	if cause != "" && t.cause == "" {
		t.cause = cause
	}
	return true
}

func (r *Runtime) attach(id string, proc Process, emit actor.EmitFunc) {
	if !r.claim(proc, "") {
		return
	}
	proc.Attach(
		func(chunk []byte) bool {
			return emit(evOutput{ID: id, Proc: proc, Chunk: chunk})
		},
		func(err error) {
			r.reaped(proc, err)
			emit(evExited{ID: id, Proc: proc, Err: err})
		},
	)
}

// discard tears down a process no terminal table owns.
func (r *Runtime) discard(proc Process) {
	if r.claim(proc, CauseDiscarded) {
		proc.Attach(
			func([]byte) bool { return false },
			func(err error) { r.reaped(proc, err) },
		)
	}
	r.terminate(proc, CauseDisconnect)
}

func (r *Runtime) terminate(proc Process, cause ExitCause) {
	r.mu.Lock()
	if t, ok := r.procs[proc]; ok && t.cause == "" {
		t.cause = cause
	}
	r.mu.Unlock()
	proc.Terminate(r.grace)
}

// reaped releases the slot held by proc. Only the first call per process has
// an effect.
func (r *Runtime) reaped(proc Process, err error) {
	r.mu.Lock()
	t, ok := r.procs[proc]
	if ok {
		delete(r.procs, proc)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.counter.Release()

	cause := t.cause
	if cause == "" {
		cause = CauseExited
	}
	if err != nil {
		logger.Infof("Session %s: closed pty %s (pid %d, %s): %v", r.sessionID, t.id, t.pid, cause, err)
	} else {
		logger.Infof("Session %s: closed pty %s (pid %d, %s)", r.sessionID, t.id, t.pid, cause)
	}
	r.observer.TerminalClosed(r.sessionID, t.id, t.pid, cause)
}

func (r *Runtime) setStop(stop func()) {
	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()
}
