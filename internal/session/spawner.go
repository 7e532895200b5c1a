package session

import (
	"time"

	"github.com/bhandras/termhub/internal/pty"
)

// Process is one spawned terminal process as seen by a session.
type Process interface {
	// ID is the pty handle assigned at spawn time.
	ID() string
	PID() int
	// Attach starts I/O. onOutput returns false once output is no longer
	// wanted; onExit is called exactly once.
	Attach(onOutput func([]byte) bool, onExit func(error))
	// Write queues input without blocking.
	Write(p []byte)
	Resize(cols, rows int) error
	// Terminate hangs up the process and force-kills it after grace.
	Terminate(grace time.Duration)
	// ForegroundProcess returns the name of the foreground job, or "".
	ForegroundProcess() string
}

// SpawnRequest describes a process to start.
type SpawnRequest struct {
	Command      string
	Args         []string
	Cols         int
	Rows         int
	TerminalType string
	Dir          string
}

// Spawner starts processes on pseudo-terminals.
type Spawner interface {
	Spawn(req SpawnRequest) (Process, error)
}

// PtySpawner spawns processes with the pty package.
type PtySpawner struct{}

// Spawn implements Spawner.
func (PtySpawner) Spawn(req SpawnRequest) (Process, error) {
	t, err := pty.Start(pty.Options{
		Command:      req.Command,
		Args:         req.Args,
		Cols:         req.Cols,
		Rows:         req.Rows,
		TerminalType: req.TerminalType,
		Dir:          req.Dir,
	})
	if err != nil {
		// Avoid returning a typed nil inside the interface.
		return nil, err
	}
	return t, nil
}
