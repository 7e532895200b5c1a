//go:build termhubdebug

package limiter

const strictRelease = true
