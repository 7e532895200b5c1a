package pty

import "unicode/utf8"

// splitUTF8 splits b into a prefix that ends on a rune boundary and a tail
// holding an incomplete trailing sequence, if any.
func splitUTF8(b []byte) (complete, rest []byte) {
	i := len(b) - 1
	for i >= 0 && len(b)-i < utf8.UTFMax && !utf8.RuneStart(b[i]) {
		i--
	}
	if i < 0 || utf8.FullRune(b[i:]) {
		return b, nil
	}
	return b[:i], b[i:]
}
