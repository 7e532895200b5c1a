//go:build !linux

package pty

// ForegroundProcess is not supported on this platform.
func (t *Terminal) ForegroundProcess() string {
	return ""
}
