//go:build linux

package pty

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ForegroundProcess returns the command name of the pty's foreground process
// group leader, or "" if it cannot be determined.
func (t *Terminal) ForegroundProcess() string {
	raw, err := t.ptmx.SyscallConn()
	if err != nil {
		return ""
	}
	pgrp := -1
	// Control keeps the descriptor in non-blocking mode, unlike Fd().
	_ = raw.Control(func(fd uintptr) {
		if v, err := unix.IoctlGetInt(int(fd), unix.TIOCGPGRP); err == nil {
			pgrp = v
		}
	})
	if pgrp <= 0 {
		return ""
	}
	comm, err := os.ReadFile("/proc/" + strconv.Itoa(pgrp) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(comm))
}
