package session

import (
	"fmt"

	"github.com/bhandras/termhub/internal/actor"
	"github.com/bhandras/termhub/internal/procname"
)

// Reduce is the session reducer. It is the only code that touches the
// terminal table.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdCreate:
		return reduceCreate(state, in)
	case cmdWrite:
		return reduceWrite(state, in)
	case cmdKill:
		return reduceKill(state, in)
	case cmdResize:
		return reduceResize(state, in)
	case cmdProcess:
		return reduceProcess(state, in)
	case cmdDisconnect:
		return reduceDisconnect(state)
	case cmdSnapshot:
		select {
		case in.Reply <- state.Terminals.Infos():
		default:
		}
		return state, nil

	case evSpawned:
		return reduceSpawned(state, in)
	case evSpawnFailed:
		return reduceSpawnFailed(state, in)
	case evOutput:
		return reduceOutput(state, in)
	case evExited:
		return reduceExited(state, in)
	default:
		return state, nil
	}
}

func reject(state State, command string, ack CreateAck, err error) (State, []actor.Effect) {
	return state, []actor.Effect{
		effAckCreate{Ack: ack, Err: err},
		effRejected{Command: command, Err: err},
	}
}

func reduceCreate(state State, cmd cmdCreate) (State, []actor.Effect) {
	rawCommand, _ := cmd.Params.Command.(string)
	if state.Phase != PhaseOpen {
		return reject(state, rawCommand, cmd.Ack, ErrSessionClosed)
	}

	req, err := ParseCreateRequest(cmd.Params)
	if err != nil {
		return reject(state, rawCommand, cmd.Ack, err)
	}
	if !commandAllowed(state.AllowedCommands, req.Command) {
		return reject(state, req.Command, cmd.Ack, fmt.Errorf("%w: %s", ErrCommandNotAllowed, procname.Sanitize(req.Command)))
	}
	if state.Terminals.Len()+state.Pending >= state.LimitPerUser {
		return reject(state, req.Command, cmd.Ack, fmt.Errorf("%w: per-session", ErrLimitExceeded))
	}

	state.Pending++
	return state, []actor.Effect{effSpawn{Req: req, Ack: cmd.Ack}}
}

func reduceSpawnFailed(state State, ev evSpawnFailed) (State, []actor.Effect) {
	state.Pending--
	effects := []actor.Effect{
		effAckCreate{Ack: ev.Ack, Err: ev.Err},
		effRejected{Command: ev.Req.Command, Err: ev.Err},
	}
	if state.drained() {
		effects = append(effects, effStop{})
	}
	return state, effects
}

func reduceSpawned(state State, ev evSpawned) (State, []actor.Effect) {
	state.Pending--
	id := ev.Proc.ID()

	if _, exists := state.Terminals[id]; exists {
		err := fmt.Errorf("%w: duplicate terminal id %s", ErrSpawnFailed, id)
		effects := []actor.Effect{
			effAckCreate{Ack: ev.Ack, Err: err},
			effRejected{Command: ev.Req.Command, Err: err},
			effDiscard{Proc: ev.Proc},
		}
		if state.drained() {
			effects = append(effects, effStop{})
		}
		return state, effects
	}

	desc := Descriptor{
		ID:          id,
		ProcessID:   ev.Proc.PID(),
		DisplayName: procname.Sanitize(ev.Req.Command),
	}

	if state.Phase != PhaseOpen {
		// The session went away mid-spawn: track the process so its exit
		// releases the slot, but close it right away.
		state.Terminals[id] = TerminalEntry{
			Proc:        ev.Proc,
			DisplayName: desc.DisplayName,
			State:       TerminalClosing,
		}
		return state, []actor.Effect{
			effAckCreate{Ack: ev.Ack, Err: ErrSessionClosed},
			effAttach{ID: id, Proc: ev.Proc},
			effTerminate{Proc: ev.Proc, Cause: CauseDisconnect},
		}
	}

	state.Terminals[id] = TerminalEntry{
		Proc:        ev.Proc,
		DisplayName: desc.DisplayName,
		State:       TerminalRunning,
	}
	// The ack goes out before listeners attach so no data event can precede
	// the confirmation.
	return state, []actor.Effect{
		effAckCreate{Ack: ev.Ack, Descriptor: desc},
		effOpened{Descriptor: desc},
		effAttach{ID: id, Proc: ev.Proc},
	}
}

func reduceOutput(state State, ev evOutput) (State, []actor.Effect) {
	e, ok := state.Terminals.running(ev.ID)
	if !ok || e.Proc != ev.Proc {
		return state, nil
	}
	return state, []actor.Effect{effEmit{Event: "data", Args: []any{ev.ID, string(ev.Chunk)}}}
}

func reduceExited(state State, ev evExited) (State, []actor.Effect) {
	e, ok := state.Terminals[ev.ID]
	if !ok || e.Proc != ev.Proc {
		return state, nil
	}
	delete(state.Terminals, ev.ID)

	// The runtime has already released the slot. Only an unexpected exit is
	// reported; a kill request is its own acknowledgment.
	var effects []actor.Effect
	if e.State == TerminalRunning {
		effects = append(effects, effEmit{Event: "kill", Args: []any{ev.ID}})
	}
	if state.drained() {
		effects = append(effects, effStop{})
	}
	return state, effects
}

func reduceWrite(state State, cmd cmdWrite) (State, []actor.Effect) {
	e, ok := state.Terminals.running(cmd.ID)
	if !ok {
		return state, nil
	}
	return state, []actor.Effect{effWrite{Proc: e.Proc, Data: cmd.Data}}
}

func reduceKill(state State, cmd cmdKill) (State, []actor.Effect) {
	e, ok := state.Terminals.running(cmd.ID)
	if !ok {
		return state, nil
	}
	e.State = TerminalClosing
	state.Terminals[cmd.ID] = e
	return state, []actor.Effect{effTerminate{Proc: e.Proc, Cause: CauseKilled}}
}

func reduceResize(state State, cmd cmdResize) (State, []actor.Effect) {
	e, ok := state.Terminals.running(cmd.ID)
	if !ok {
		return state, nil
	}
	return state, []actor.Effect{effResize{ID: cmd.ID, Proc: e.Proc, Cols: cmd.Cols, Rows: cmd.Rows}}
}

func reduceProcess(state State, cmd cmdProcess) (State, []actor.Effect) {
	e, ok := state.Terminals.running(cmd.ID)
	if !ok {
		return state, []actor.Effect{effAckProcess{Ack: cmd.Ack, Err: ErrUnknownTerminal}}
	}
	return state, []actor.Effect{effQueryProcess{Proc: e.Proc, DisplayName: e.DisplayName, Ack: cmd.Ack}}
}

func reduceDisconnect(state State) (State, []actor.Effect) {
	if state.Phase == PhaseClosing {
		return state, nil
	}
	state.Phase = PhaseClosing

	var effects []actor.Effect
	for id, e := range state.Terminals {
		if e.State != TerminalRunning {
			continue
		}
		e.State = TerminalClosing
		state.Terminals[id] = e
		effects = append(effects, effTerminate{Proc: e.Proc, Cause: CauseDisconnect})
	}
	if state.drained() {
		effects = append(effects, effStop{})
	}
	return state, effects
}
