package websocket

import (
	"sync"

	"github.com/bhandras/termhub/internal/logger"
	"github.com/bhandras/termhub/internal/session"
)

// createAck is the success payload of a create acknowledgement. pty and
// process mirror id and displayName for older clients.
type createAck struct {
	ID          string `json:"id"`
	ProcessID   int    `json:"processId"`
	DisplayName string `json:"displayName"`
	Pty         string `json:"pty"`
	Process     string `json:"process"`
}

// wireError is the first acknowledgement argument on failure.
type wireError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func errorPayload(err error) wireError {
	return wireError{Error: err.Error(), Code: session.ErrorCode(err)}
}

func newCreateAck(d session.Descriptor) createAck {
	return createAck{
		ID:          d.ID,
		ProcessID:   d.ProcessID,
		DisplayName: d.DisplayName,
		Pty:         d.ID,
		Process:     d.DisplayName,
	}
}

// eventRoute delivers a socket's events to its session. It is installed as
// the socket's OnAny listener, which the socket calls synchronously in
// arrival order; per-event listeners run on their own goroutines and would
// let keystrokes overtake each other. Events that arrive before the session
// is bound are held and replayed by bind.
type eventRoute struct {
	mu      sync.Mutex
	sess    *session.Session
	pending [][]any
}

func (r *eventRoute) dispatch(data ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess == nil {
		r.pending = append(r.pending, data)
		return
	}
	routeEvent(r.sess, data)
}

func (r *eventRoute) bind(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sess = sess
	for _, data := range r.pending {
		routeEvent(sess, data)
	}
	r.pending = nil
}

// routeEvent handles one client event. data is the event name followed by
// its arguments and an optional trailing ack.
func routeEvent(sess *session.Session, data []any) {
	if len(data) == 0 {
		return
	}
	event, _ := data[0].(string)
	args, ack := splitAck(data[1:])

	switch event {
	case "create":
		handleCreate(sess, args, ack)
	case "data":
		handleData(sess, args)
	case "kill":
		if id, ok := stringAt(args, 0); ok {
			sess.Kill(id)
		}
	case "resize":
		handleResize(sess, args)
	case "process":
		handleProcess(sess, args, ack)
	default:
		logger.Tracef("Session %s: ignoring event %q", sess.ID(), event)
	}
}

// create(cols, rows, command, args, ack)
func handleCreate(sess *session.Session, args []any, ack func(...any)) {
	params := session.CreateParams{
		Cols:    argAt(args, 0),
		Rows:    argAt(args, 1),
		Command: argAt(args, 2),
		Args:    argAt(args, 3),
	}
	sess.Create(params, func(d session.Descriptor, err error) {
		if ack == nil {
			return
		}
		if err != nil {
			ack(errorPayload(err))
			return
		}
		ack(nil, newCreateAck(d))
	})
}

// data(id, payload)
func handleData(sess *session.Session, args []any) {
	id, ok := stringAt(args, 0)
	if !ok {
		return
	}
	payload, ok := payloadAt(args, 1)
	if !ok {
		logger.Tracef("Session %s: data for %s with unsupported payload", sess.ID(), id)
		return
	}
	sess.Write(id, payload)
}

// resize(id, cols, rows)
func handleResize(sess *session.Session, args []any) {
	id, ok := stringAt(args, 0)
	if !ok {
		return
	}
	cols := session.ParseDimension(argAt(args, 1))
	rows := session.ParseDimension(argAt(args, 2))
	if cols == 0 || rows == 0 {
		return
	}
	sess.Resize(id, cols, rows)
}

// process(id, ack)
func handleProcess(sess *session.Session, args []any, ack func(...any)) {
	if ack == nil {
		return
	}
	id, ok := stringAt(args, 0)
	if !ok {
		ack(errorPayload(session.ErrUnknownTerminal))
		return
	}
	sess.Process(id, func(name string, err error) {
		if err != nil {
			ack(errorPayload(err))
			return
		}
		ack(nil, name)
	})
}
