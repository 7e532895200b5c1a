package session

import (
	"sort"

	"github.com/bhandras/termhub/internal/actor"
)

// TerminalState is the lifecycle state of one terminal.
//
// Requested terminals are counted in State.Pending until spawn completes;
// Closed terminals are no longer in the table.
type TerminalState string

const (
	// TerminalRequested means admission or spawn is still in progress.
	TerminalRequested TerminalState = "Requested"
	// TerminalRunning means the process is live and routed.
	TerminalRunning TerminalState = "Running"
	// TerminalClosing means termination was requested and exit is pending.
	TerminalClosing TerminalState = "Closing"
	// TerminalClosed means the entry was removed and its slot released.
	TerminalClosed TerminalState = "Closed"
)

// Phase is the session lifecycle phase.
type Phase string

const (
	// PhaseOpen accepts client requests.
	PhaseOpen Phase = "Open"
	// PhaseClosing tears down remaining terminals and rejects new creates.
	PhaseClosing Phase = "Closing"
)

// ExitCause records why a terminal closed.
type ExitCause string

const (
	// CauseExited means the process ended on its own.
	CauseExited ExitCause = "exited"
	// CauseKilled means the client asked for the terminal to be killed.
	CauseKilled ExitCause = "killed"
	// CauseDisconnect means the owning session went away.
	CauseDisconnect ExitCause = "disconnect"
	// CauseDiscarded means the process was spawned for a session that could
	// no longer take it.
	CauseDiscarded ExitCause = "discarded"
)

// Descriptor confirms a successful create.
type Descriptor struct {
	ID          string `json:"id"`
	ProcessID   int    `json:"processId"`
	DisplayName string `json:"displayName"`
}

// TerminalInfo is a point-in-time view of one terminal.
type TerminalInfo struct {
	ID          string        `json:"id"`
	ProcessID   int           `json:"processId"`
	DisplayName string        `json:"displayName"`
	State       TerminalState `json:"state"`
}

// TerminalEntry is the session's bookkeeping for one terminal.
type TerminalEntry struct {
	Proc        Process
	DisplayName string
	State       TerminalState
}

// TerminalTable maps terminal id to entry. It is owned by the session loop.
type TerminalTable map[string]TerminalEntry

// Len returns the number of terminals in the table.
func (t TerminalTable) Len() int { return len(t) }

// running returns the entry for id if it is Running.
func (t TerminalTable) running(id string) (TerminalEntry, bool) {
	e, ok := t[id]
	if !ok || e.State != TerminalRunning {
		return TerminalEntry{}, false
	}
	return e, true
}

// Infos returns the table contents ordered by id.
func (t TerminalTable) Infos() []TerminalInfo {
	out := make([]TerminalInfo, 0, len(t))
	for id, e := range t {
		out = append(out, TerminalInfo{
			ID:          id,
			ProcessID:   e.Proc.PID(),
			DisplayName: e.DisplayName,
			State:       e.State,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State is the loop-owned state of a session actor.
type State struct {
	SessionID string
	Phase     Phase
	Terminals TerminalTable

	// Pending counts creates admitted by the per-session check whose spawn
	// has not completed. They count against LimitPerUser.
	Pending int

	LimitPerUser    int
	AllowedCommands []string
}

// drained reports whether a closing session has nothing left to wait for.
func (s State) drained() bool {
	return s.Phase == PhaseClosing && len(s.Terminals) == 0 && s.Pending == 0
}

// Observer receives terminal lifecycle notifications from the session
// runtime. TerminalClosed fires when the process is reaped, right after its
// global slot is released. Implementations must not block.
type Observer interface {
	TerminalOpened(sessionID string, d Descriptor)
	TerminalClosed(sessionID, terminalID string, pid int, cause ExitCause)
	CreateRejected(sessionID, command string, err error)
}

// CreateAck completes a create request.
type CreateAck func(Descriptor, error)

// ProcessAck completes a process query.
type ProcessAck func(string, error)

// Inputs

// cmdCreate asks for a new terminal.
type cmdCreate struct {
	actor.InputBase
	Params CreateParams
	Ack    CreateAck
}

// cmdWrite forwards client input to a terminal.
type cmdWrite struct {
	actor.InputBase
	ID   string
	Data []byte
}

// cmdKill asks for a terminal to be terminated.
type cmdKill struct {
	actor.InputBase
	ID string
}

// cmdResize changes a terminal's window size.
type cmdResize struct {
	actor.InputBase
	ID   string
	Cols int
	Rows int
}

// cmdProcess queries a terminal's foreground process name.
type cmdProcess struct {
	actor.InputBase
	ID  string
	Ack ProcessAck
}

// cmdDisconnect tears the session down.
type cmdDisconnect struct {
	actor.InputBase
}

// cmdSnapshot reads the terminal table.
type cmdSnapshot struct {
	actor.InputBase
	Reply chan []TerminalInfo
}

// evSpawned reports a started process.
type evSpawned struct {
	actor.InputBase
	Req  CreateRequest
	Proc Process
	Ack  CreateAck
}

// evSpawnFailed reports a create that was refused after the per-session
// check: global admission or the spawn itself failed. No slot is held.
type evSpawnFailed struct {
	actor.InputBase
	Req CreateRequest
	Err error
	Ack CreateAck
}

// evOutput carries one chunk of process output.
type evOutput struct {
	actor.InputBase
	ID    string
	Proc  Process
	Chunk []byte
}

// evExited reports that a process was reaped.
type evExited struct {
	actor.InputBase
	ID   string
	Proc Process
	Err  error
}

// Effects

// effSpawn acquires a global slot and starts the process.
type effSpawn struct {
	actor.EffectBase
	Req CreateRequest
	Ack CreateAck
}

// effAckCreate completes a create request.
type effAckCreate struct {
	actor.EffectBase
	Ack        CreateAck
	Descriptor Descriptor
	Err        error
}

// effAttach starts a process's output and exit listeners.
type effAttach struct {
	actor.EffectBase
	ID   string
	Proc Process
}

// effDiscard tears down a process the table could not take.
type effDiscard struct {
	actor.EffectBase
	Proc Process
}

// effWrite forwards input to a process.
type effWrite struct {
	actor.EffectBase
	Proc Process
	Data []byte
}

// effResize changes a process's window size.
type effResize struct {
	actor.EffectBase
	ID   string
	Proc Process
	Cols int
	Rows int
}

// effTerminate starts graceful termination.
type effTerminate struct {
	actor.EffectBase
	Proc  Process
	Cause ExitCause
}

// effEmit sends a server event on the channel.
type effEmit struct {
	actor.EffectBase
	Event string
	Args  []any
}

// effQueryProcess resolves a process query off the loop.
type effQueryProcess struct {
	actor.EffectBase
	Proc        Process
	DisplayName string
	Ack         ProcessAck
}

// effAckProcess completes a process query without a lookup.
type effAckProcess struct {
	actor.EffectBase
	Ack ProcessAck
	Err error
}

// effOpened notifies observers of a new terminal.
type effOpened struct {
	actor.EffectBase
	Descriptor Descriptor
}

// effRejected notifies observers of a refused create.
type effRejected struct {
	actor.EffectBase
	Command string
	Err     error
}

// effStop stops the session loop.
type effStop struct {
	actor.EffectBase
}
