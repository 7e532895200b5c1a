// Package actor provides a small actor-style event loop scaffold: one
// goroutine owns all mutable state, a reducer turns inputs into the next state
// plus declarative effects, and a runtime interprets those effects.
//
// Unlike a fire-and-forget mailbox, Enqueue blocks while the mailbox is full.
// Producers (socket handlers, pty readers, process waiters) therefore feel
// backpressure instead of losing input. The loop itself must never enqueue
// synchronously: runtimes emit follow-up inputs from their own goroutines.
package actor

import (
	"context"
	"sync"
)

// Input is an item delivered to an actor mailbox.
//
// Inputs can be events (observations from the runtime) or commands (requests
// from callers); the loop treats both the same way.
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer.
//
// Effects are data, not execution. The Runtime interprets them and reports
// outcomes back to the mailbox as new inputs.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a state transition function.
//
// Reducers must not perform I/O or spawn goroutines; everything observable
// leaves the reducer as an Effect.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// EmitFunc delivers a follow-up input to the actor. It blocks while the
// mailbox is full and returns false once the actor has stopped, in which case
// the input was not delivered and the caller owns any cleanup it implied.
type EmitFunc func(Input) bool

// Runtime interprets effects and emits follow-up inputs back to the actor.
type Runtime interface {
	// HandleEffects executes effects on the loop goroutine. It must return
	// quickly and must not call emit synchronously; blocking work runs on
	// goroutines that call emit when done.
	HandleEffects(ctx context.Context, effects []Effect, emit EmitFunc)

	// Stop releases any background work. It may be called multiple times.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after reducing, when state changes are applied.
	OnTransition func(prev S, next S, input Input)
	// OnPanic is called when the loop panics. If nil, panics propagate.
	OnPanic func(recovered any)
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
	stop   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n <= 0 {
			return
		}
		a.inbox = make(chan Input, n)
	}
}

// New creates an actor with initial state, reducer, and runtime. The loop
// does not run until Start is called.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the actor loop in its own goroutine. It is idempotent.
func (a *Actor[S]) Start() {
	a.start.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Inputs still queued
// are discarded. Stop is safe to call multiple times and from the loop.
func (a *Actor[S]) Stop() {
	a.stop.Do(func() {
		a.cancel()
		if a.runtime != nil {
			a.runtime.Stop()
		}
	})
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Stopped reports whether Stop has been called.
func (a *Actor[S]) Stopped() bool {
	return a.ctx.Err() != nil
}

// Enqueue delivers an input to the mailbox, waiting for space if needed.
//
// It returns false if the actor is stopped (before or while waiting).
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	if a.ctx.Err() != nil {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// TryEnqueue delivers an input only if the mailbox has room.
func (a *Actor[S]) TryEnqueue(input Input) bool {
	if input == nil || a.ctx.Err() != nil {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// State returns a snapshot of the current actor state.
//
// This is intended for observability and tests. Reference-typed fields inside
// S are shared with the loop; callers must not read them while inputs are
// still being processed.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			a.Stop()
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if a.ctx.Err() != nil {
				return
			}
			a.step(in)
		}
	}
}

func (a *Actor[S]) step(in Input) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if a.runtime != nil && len(effects) > 0 {
		a.runtime.HandleEffects(a.ctx, effects, a.Enqueue)
	}
}

// Step runs reducer once without a loop or runtime, for reducer tests.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}
