package session

import (
	"encoding/json"
	"math"
	"path/filepath"
)

// CreateParams are the raw, undecoded arguments of a create event.
type CreateParams struct {
	Cols    any
	Rows    any
	Command any
	Args    any
}

// CreateRequest is a validated create request.
type CreateRequest struct {
	Cols    int
	Rows    int
	Command string
	Args    []string
}

// ParseCreateRequest validates raw create arguments. Unusable dimensions
// decode as 0 and are replaced by pty defaults at spawn time.
func ParseCreateRequest(p CreateParams) (CreateRequest, error) {
	command, ok := p.Command.(string)
	if !ok {
		return CreateRequest{}, ErrInvalidCommand
	}
	args, err := decodeArgs(p.Args)
	if err != nil {
		return CreateRequest{}, err
	}
	return CreateRequest{
		Cols:    ParseDimension(p.Cols),
		Rows:    ParseDimension(p.Rows),
		Command: command,
		Args:    args,
	}, nil
}

func decodeArgs(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, ErrInvalidArgs
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ErrInvalidArgs
	}
}

// ParseDimension decodes a terminal width or height from a JSON-ish value.
// Anything that is not a positive number that fits a window size yields 0.
func ParseDimension(raw any) int {
	var f float64
	switch v := raw.(type) {
	case int:
		return clampDimension(int64(v))
	case int64:
		return clampDimension(v)
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0
		}
		f = n
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return clampDimension(int64(f))
}

func clampDimension(v int64) int {
	if v <= 0 || v > math.MaxUint16 {
		return 0
	}
	return int(v)
}

// commandAllowed reports whether command may be spawned under allowed. An
// empty list allows everything; otherwise the command must match an entry
// exactly or by base name.
func commandAllowed(allowed []string, command string) bool {
	if len(allowed) == 0 {
		return true
	}
	base := filepath.Base(command)
	for _, a := range allowed {
		if a == command || a == base {
			return true
		}
	}
	return false
}
