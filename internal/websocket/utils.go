package websocket

import (
	socket "github.com/zishang520/socket.io/servers/socket/v3"
)

// splitAck separates a trailing acknowledgement callback from event
// arguments. The returned ack is nil when the client did not ask for one.
func splitAck(data []any) ([]any, func(...any)) {
	if len(data) == 0 {
		return nil, nil
	}
	switch cb := data[len(data)-1].(type) {
	case func(...any):
		return data[:len(data)-1], cb
	case socket.Ack:
		return data[:len(data)-1], func(args ...any) {
			cb(args, nil)
		}
	}
	return data, nil
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringAt(args []any, i int) (string, bool) {
	s, ok := argAt(args, i).(string)
	return s, ok && s != ""
}

// payloadAt accepts text or binary terminal input. Binary attachments are
// decoded into buffers.
func payloadAt(args []any, i int) ([]byte, bool) {
	switch v := argAt(args, i).(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	case interface{ Bytes() []byte }:
		return v.Bytes(), true
	}
	return nil, false
}
