// Package pty spawns processes attached to pseudo-terminals and manages their
// I/O and lifetime.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bhandras/termhub/internal/logger"
	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	// DefaultCols is used when a caller supplies no usable width.
	DefaultCols = 80
	// DefaultRows is used when a caller supplies no usable height.
	DefaultRows = 24

	readBufferSize = 32 * 1024

	// outputDrainTimeout bounds how long exit reporting waits for the reader
	// to hit EOF. A background job that inherited the tty can keep the slave
	// side open indefinitely.
	outputDrainTimeout = 250 * time.Millisecond
)

// Options describes a process to spawn.
type Options struct {
	Command string
	Args    []string
	Cols    int
	Rows    int
	// TerminalType is exported to the child as TERM.
	TerminalType string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
}

// Terminal is one process running on its own pseudo-terminal.
type Terminal struct {
	id   string
	pid  int
	cmd  *exec.Cmd
	ptmx *os.File

	// pending holds input not yet written to the master, oldest first.
	inputMu    sync.Mutex
	pending    [][]byte
	inputReady chan struct{}

	exited chan struct{}
	stopCh chan struct{}

	attachOnce sync.Once
	termOnce   sync.Once
}

// Start opens a pty pair and starts the process on the slave side, as a new
// session leader with the pty as its controlling terminal.
//
// The terminal id is the slave device name (e.g. /dev/pts/4).
func Start(opts Options) (*Terminal, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("empty command")
	}

	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	if err := pty.Setsize(ptmx, winsize(opts.Cols, opts.Rows)); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("set pty size: %w", err)
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = environ(opts)
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, err
	}

	// The child holds its own copy; keeping ours open would hide EOF.
	id := tty.Name()
	_ = tty.Close()

	return &Terminal{
		id:     id,
		pid:    cmd.Process.Pid,
		cmd:    cmd,
		ptmx:   ptmx,
		inputReady: make(chan struct{}, 1),
		exited:     make(chan struct{}),
		stopCh:     make(chan struct{}),
	}, nil
}

func environ(opts Options) []string {
	env := append(os.Environ(), opts.Env...)
	if opts.TerminalType != "" {
		env = append(env, "TERM="+opts.TerminalType)
	}
	return env
}

func winsize(cols, rows int) *pty.Winsize {
	if cols <= 0 || cols > 0xffff {
		cols = DefaultCols
	}
	if rows <= 0 || rows > 0xffff {
		rows = DefaultRows
	}
	return &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
}

// ID returns the pty device name.
func (t *Terminal) ID() string { return t.id }

// PID returns the OS process id of the spawned command.
func (t *Terminal) PID() int { return t.pid }

// Attach starts the output, input, and exit goroutines.
//
// onOutput receives chunks in the order the process produced them, each
// ending on a UTF-8 boundary; once it returns false output is drained but no
// longer forwarded. onExit is called exactly once, after output has been
// drained (bounded by a short timeout), with the error from Wait.
// Attach is idempotent.
func (t *Terminal) Attach(onOutput func([]byte) bool, onExit func(error)) {
	t.attachOnce.Do(func() {
		readerDone := make(chan struct{})
		go t.readLoop(onOutput, readerDone)
		go t.writeLoop()
		go t.waitLoop(readerDone, onExit)
	})
}

func (t *Terminal) readLoop(onOutput func([]byte) bool, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, readBufferSize)
	var carry []byte
	forward := true
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 && forward {
			chunk := make([]byte, 0, len(carry)+n)
			chunk = append(chunk, carry...)
			chunk = append(chunk, buf[:n]...)

			var text []byte
			text, carry = splitUTF8(chunk)
			if len(text) > 0 && !onOutput(text) {
				forward = false
			}
		}
		if err != nil {
			if forward && len(carry) > 0 {
				onOutput(carry)
			}
			return
		}
	}
}

// writeLoop drains pending input in order. A process that stops reading
// blocks this goroutine only; Write keeps queueing.
func (t *Terminal) writeLoop() {
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.inputReady:
		}

		for {
			t.inputMu.Lock()
			batch := t.pending
			t.pending = nil
			t.inputMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, p := range batch {
				if _, err := t.ptmx.Write(p); err != nil {
					logger.Debugf("pty %s: write failed: %v", t.id, err)
					return
				}
			}
		}
	}
}

func (t *Terminal) waitLoop(readerDone <-chan struct{}, onExit func(error)) {
	err := t.cmd.Wait()
	close(t.exited)

	timer := time.NewTimer(outputDrainTimeout)
	select {
	case <-readerDone:
	case <-timer.C:
	}
	timer.Stop()

	// Report before closing the master: the device name cannot be handed to
	// a new pty until the master is closed, so the exit is always observed
	// ahead of any reuse of this id.
	onExit(err)
	close(t.stopCh)
	_ = t.ptmx.Close()

	t.inputMu.Lock()
	t.pending = nil
	t.inputMu.Unlock()
}

// Write queues input for the process. It never blocks and never drops input
// while the process is alive; input arriving after exit is discarded.
func (t *Terminal) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	select {
	case <-t.stopCh:
		return
	default:
	}

	t.inputMu.Lock()
	t.pending = append(t.pending, append([]byte(nil), p...))
	t.inputMu.Unlock()

	select {
	case t.inputReady <- struct{}{}:
	default:
	}
}

// Resize changes the pty window size.
func (t *Terminal) Resize(cols, rows int) error {
	return pty.Setsize(t.ptmx, winsize(cols, rows))
}

// Exited returns a channel closed once the process has been reaped.
func (t *Terminal) Exited() <-chan struct{} { return t.exited }

// Terminate asks the process group to hang up and force-kills it if it is
// still alive after grace. Only the first call has an effect.
func (t *Terminal) Terminate(grace time.Duration) {
	t.termOnce.Do(func() {
		select {
		case <-t.exited:
			return
		default:
		}

		t.signal(unix.SIGHUP)
		if grace <= 0 {
			t.signal(unix.SIGKILL)
			return
		}
		go func() {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-t.exited:
			case <-timer.C:
				logger.Debugf("pty %s: pid %d ignored SIGHUP for %s, killing", t.id, t.pid, grace)
				t.signal(unix.SIGKILL)
			}
		}()
	})
}

func (t *Terminal) signal(sig unix.Signal) {
	// Setsid made the child a process group leader; signal the whole group
	// so jobs started from the shell go down with it.
	err := unix.Kill(-t.pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return
	}
	_ = t.cmd.Process.Signal(sig)
}
