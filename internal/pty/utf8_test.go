package pty

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitUTF8(t *testing.T) {
	euro := []byte("€") // e2 82 ac

	complete, rest := splitUTF8([]byte("abc"))
	require.Equal(t, "abc", string(complete))
	require.Empty(t, rest)

	in := append([]byte("ab"), euro[:2]...)
	complete, rest = splitUTF8(in)
	require.Equal(t, "ab", string(complete))
	require.Equal(t, euro[:2], rest)

	complete, rest = splitUTF8(append([]byte("x"), euro...))
	require.Equal(t, "x€", string(complete))
	require.Empty(t, rest)

	// Stray continuation bytes are passed through, not held back forever.
	complete, rest = splitUTF8([]byte{'a', 0x80, 0x80, 0x80, 0x80})
	require.Len(t, complete, 5)
	require.Empty(t, rest)

	complete, rest = splitUTF8(nil)
	require.Empty(t, complete)
	require.Empty(t, rest)
}
