package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhandras/termhub/internal/logger"
	"github.com/bhandras/termhub/internal/session"
	"github.com/google/uuid"
)

// DefaultBuffer is the number of events a Recorder queues before dropping.
const DefaultBuffer = 1024

// Recorder is a session.Observer that writes events to a Store from a
// background worker. Callers never wait on the database.
type Recorder struct {
	store *Store
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}

	dropped atomic.Int64
}

var _ session.Observer = (*Recorder)(nil)

// NewRecorder starts a recorder writing to store.
func NewRecorder(store *Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		store:  store,
		now:    time.Now,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Insert(ctx, ev); err != nil {
			logger.Warnf("audit: %v", err)
		}
		cancel()
	}
}

func (r *Recorder) enqueue(ev Event) {
	ev.ID = uuid.NewString()
	ev.Time = r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			logger.Warnf("audit: queue full, %d events dropped", n)
		}
	}
}

// TerminalOpened implements session.Observer.
func (r *Recorder) TerminalOpened(sessionID string, d session.Descriptor) {
	r.enqueue(Event{
		Kind:        KindOpened,
		SessionID:   sessionID,
		TerminalID:  d.ID,
		PID:         d.ProcessID,
		DisplayName: d.DisplayName,
	})
}

// TerminalClosed implements session.Observer.
func (r *Recorder) TerminalClosed(sessionID, terminalID string, pid int, cause session.ExitCause) {
	r.enqueue(Event{
		Kind:       KindClosed,
		SessionID:  sessionID,
		TerminalID: terminalID,
		PID:        pid,
		Cause:      string(cause),
	})
}

// CreateRejected implements session.Observer.
func (r *Recorder) CreateRejected(sessionID, command string, err error) {
	ev := Event{
		Kind:        KindRejected,
		SessionID:   sessionID,
		DisplayName: command,
		Code:        session.ErrorCode(err),
	}
	if err != nil {
		ev.Detail = err.Error()
	}
	r.enqueue(ev)
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting events and waits for queued ones to be written.
// The store is not closed.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
