package pty

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capture struct {
	mu     sync.Mutex
	out    bytes.Buffer
	exitCh chan error
}

func newCapture() *capture {
	return &capture{exitCh: make(chan error, 1)}
}

func (c *capture) onOutput(p []byte) bool {
	c.mu.Lock()
	c.out.Write(p)
	c.mu.Unlock()
	return true
}

func (c *capture) onExit(err error) { c.exitCh <- err }

func (c *capture) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func waitExit(t *testing.T, c *capture) error {
	t.Helper()
	select {
	case err := <-c.exitCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
		return nil
	}
}

func TestTerminalOutputAndExitStatus(t *testing.T) {
	requireShell(t)

	term, err := Start(Options{
		Command:      "/bin/sh",
		Args:         []string{"-c", "printf hello; exit 3"},
		TerminalType: "xterm",
	})
	require.NoError(t, err)
	require.NotEmpty(t, term.ID())
	require.Positive(t, term.PID())

	c := newCapture()
	term.Attach(c.onOutput, c.onExit)

	exitErr := waitExit(t, c)
	var ee *exec.ExitError
	require.True(t, errors.As(exitErr, &ee))
	require.Equal(t, 3, ee.ExitCode())
	require.Contains(t, c.output(), "hello")
}

func TestTerminalEchoesInput(t *testing.T) {
	requireShell(t)

	term, err := Start(Options{Command: "/bin/sh", Args: []string{"-c", "read line; echo got:$line"}})
	require.NoError(t, err)

	c := newCapture()
	term.Attach(c.onOutput, c.onExit)
	term.Write([]byte("ping\n"))

	require.NoError(t, waitExit(t, c))
	require.Contains(t, c.output(), "got:ping")
}

func TestTerminalInputBurstKeepsEveryLineInOrder(t *testing.T) {
	requireShell(t)

	term, err := Start(Options{
		Command: "/bin/sh",
		Args:    []string{"-c", "stty -echo; echo ready; exec cat"},
	})
	require.NoError(t, err)
	defer term.Terminate(0)

	c := newCapture()
	term.Attach(c.onOutput, c.onExit)
	require.Eventually(t, func() bool {
		return strings.Contains(c.output(), "ready")
	}, 5*time.Second, 10*time.Millisecond)

	const lines = 2000
	for i := 0; i < lines; i++ {
		term.Write([]byte(strconv.Itoa(i) + "\n"))
	}

	var got []string
	require.Eventually(t, func() bool {
		out := c.output()
		out = out[strings.Index(out, "ready")+len("ready"):]
		got = strings.Fields(out)
		return len(got) >= lines
	}, 10*time.Second, 20*time.Millisecond)

	require.Len(t, got, lines)
	for i, line := range got {
		require.Equal(t, strconv.Itoa(i), line)
	}
}

func TestTerminalTerminateHangsUp(t *testing.T) {
	requireShell(t)

	term, err := Start(Options{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	c := newCapture()
	term.Attach(c.onOutput, c.onExit)

	start := time.Now()
	term.Terminate(2 * time.Second)
	require.Error(t, waitExit(t, c))
	require.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-term.Exited():
	default:
		t.Fatal("exited channel not closed")
	}

	// Writes after exit are dropped silently.
	term.Write([]byte("ignored"))
}

func TestTerminalTerminateKillsAfterGrace(t *testing.T) {
	requireShell(t)

	term, err := Start(Options{Command: "/bin/sh", Args: []string{"-c", "trap '' HUP; while :; do sleep 1; done"}})
	require.NoError(t, err)

	c := newCapture()
	term.Attach(c.onOutput, c.onExit)

	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)
	term.Terminate(300 * time.Millisecond)
	require.Error(t, waitExit(t, c))
}

func TestTerminalResize(t *testing.T) {
	requireShell(t)

	term, err := Start(Options{Command: "/bin/sh", Args: []string{"-c", "sleep 1; stty size"}, Cols: 100, Rows: 30})
	require.NoError(t, err)
	require.NoError(t, term.Resize(120, 40))

	c := newCapture()
	term.Attach(c.onOutput, c.onExit)
	waitExit(t, c)
	require.Contains(t, c.output(), "40 120")
}

func TestStartUnknownCommand(t *testing.T) {
	_, err := Start(Options{Command: "/nonexistent/termhub-test-binary"})
	require.Error(t, err)

	_, err = Start(Options{})
	require.Error(t, err)
}

func TestForegroundProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("foreground lookup is linux only")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	term, err := Start(Options{Command: "sleep", Args: []string{"5"}})
	require.NoError(t, err)
	c := newCapture()
	term.Attach(c.onOutput, c.onExit)
	defer func() {
		term.Terminate(0)
		waitExit(t, c)
	}()

	require.Eventually(t, func() bool {
		return term.ForegroundProcess() == "sleep"
	}, 2*time.Second, 20*time.Millisecond)
}
