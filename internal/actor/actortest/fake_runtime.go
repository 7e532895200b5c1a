// Package actortest provides test helpers for the actor framework.
package actortest

import (
	"context"
	"sync"

	"github.com/bhandras/termhub/internal/actor"
)

// FakeRuntime is a Runtime implementation for unit tests.
//
// It records effects passed to HandleEffects. When EmitFn is set it is
// invoked on a fresh goroutine per batch, mirroring how real runtimes report
// results asynchronously.
type FakeRuntime struct {
	mu sync.Mutex

	effects []actor.Effect
	stopped int

	// EmitFn, when non-nil, is invoked for each effect. Tests use it to
	// synthesize follow-up events.
	EmitFn func(ctx context.Context, eff actor.Effect, emit actor.EmitFunc)
}

// HandleEffects implements actor.Runtime.
func (r *FakeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit actor.EmitFunc) {
	r.mu.Lock()
	r.effects = append(r.effects, effects...)
	emitFn := r.EmitFn
	r.mu.Unlock()

	if emitFn == nil {
		return
	}
	batch := append([]actor.Effect(nil), effects...)
	go func() {
		for _, eff := range batch {
			emitFn(ctx, eff, emit)
		}
	}()
}

// Stop implements actor.Runtime.
func (r *FakeRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

// Effects returns a snapshot of recorded effects.
func (r *FakeRuntime) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]actor.Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

// StopCalls returns how many times Stop was called.
func (r *FakeRuntime) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
