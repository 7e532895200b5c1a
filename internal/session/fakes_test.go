package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var errFakeKilled = errors.New("signal: hangup")

type fakeProc struct {
	id  string
	pid int

	mu          sync.Mutex
	onOutput    func([]byte) bool
	onExit      func(error)
	written     []byte
	terminated  int
	cols, rows  int
	foreground  string
	ignoreHUP   bool
	attachCalls int

	attached chan struct{}
	exitOnce sync.Once
}

func newFakeProc(id string, pid int) *fakeProc {
	return &fakeProc{id: id, pid: pid, attached: make(chan struct{})}
}

func (p *fakeProc) ID() string { return p.id }
func (p *fakeProc) PID() int   { return p.pid }

func (p *fakeProc) Attach(onOutput func([]byte) bool, onExit func(error)) {
	p.mu.Lock()
	p.attachCalls++
	if p.onExit != nil {
		p.mu.Unlock()
		return
	}
	p.onOutput = onOutput
	p.onExit = onExit
	p.mu.Unlock()
	close(p.attached)
}

func (p *fakeProc) Write(b []byte) {
	p.mu.Lock()
	p.written = append(p.written, b...)
	p.mu.Unlock()
}

func (p *fakeProc) Resize(cols, rows int) error {
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return nil
}

func (p *fakeProc) Terminate(time.Duration) {
	p.mu.Lock()
	p.terminated++
	ignore := p.ignoreHUP
	p.mu.Unlock()
	if !ignore {
		p.exit(errFakeKilled)
	}
}

func (p *fakeProc) ForegroundProcess() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreground
}

// output delivers a chunk the way the pty reader does: synchronously, from a
// goroutine other than the session loop.
func (p *fakeProc) output(s string) bool {
	<-p.attached
	p.mu.Lock()
	fn := p.onOutput
	p.mu.Unlock()
	return fn([]byte(s))
}

// exit reports process exit once, after attach.
func (p *fakeProc) exit(err error) {
	go func() {
		<-p.attached
		p.exitOnce.Do(func() {
			p.mu.Lock()
			fn := p.onExit
			p.mu.Unlock()
			fn(err)
		})
	}()
}

func (p *fakeProc) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

func (p *fakeProc) terminateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeSpawner struct {
	mu    sync.Mutex
	next  int
	procs []*fakeProc
	reqs  []SpawnRequest
	err   error

	// gate, when non-nil, blocks Spawn until closed; entered receives one
	// value per blocked call.
	gate    chan struct{}
	entered chan struct{}
}

func (s *fakeSpawner) Spawn(req SpawnRequest) (Process, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProc(fmt.Sprintf("/dev/pts/%d", s.next), 1000+s.next)
	s.next++
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type emitted struct {
	Event string
	Args  []any
}

type fakeChannel struct {
	mu     sync.Mutex
	events []emitted
}

func (c *fakeChannel) Emit(event string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{Event: event, Args: args})
}

func (c *fakeChannel) named(event string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitted
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type closedEvent struct {
	terminalID string
	cause      ExitCause
}

type recordingObserver struct {
	mu       sync.Mutex
	opened   []Descriptor
	closed   []closedEvent
	rejected []error
}

func (o *recordingObserver) TerminalOpened(_ string, d Descriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, d)
}

func (o *recordingObserver) TerminalClosed(_ string, terminalID string, _ int, cause ExitCause) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, closedEvent{terminalID: terminalID, cause: cause})
}

func (o *recordingObserver) CreateRejected(_ string, _ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, err)
}

func (o *recordingObserver) closedEvents() []closedEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]closedEvent(nil), o.closed...)
}

func (o *recordingObserver) rejections() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.rejected...)
}
