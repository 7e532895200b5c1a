// Package procname derives display names for spawned commands.
package procname

import (
	"path/filepath"
	"strings"
)

// Sanitize returns the base name of the executable in raw.
//
// Only the first whitespace-separated token is considered, so argument text
// that was concatenated into the command field is discarded. The result is
// informational and must never be used to build spawn arguments.
func Sanitize(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	base := filepath.Base(fields[0])
	switch base {
	case ".", string(filepath.Separator):
		return ""
	}
	return base
}
