// Package wire holds the protocol-agnostic byte-level helpers shared by
// the UDP relays and the Analyser: Latin-1 decoding (the boiler and IGW
// speak ISO-8859-1 end to end, spec.md §6) and CRLF line scanning.
package wire

import (
	"golang.org/x/text/encoding/charmap"
)

// DecodeLatin1 converts raw ISO-8859-1 bytes to a UTF-8 Go string
// without allocating through an io.Reader pipeline; option labels
// contain accented characters that must round-trip exactly.
func DecodeLatin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = charmap.ISO8859_1.DecodeByte(b)
	}
	return string(runes)
}

// EncodeLatin1 converts a UTF-8 Go string back to raw ISO-8859-1 bytes,
// the inverse of DecodeLatin1. No package in this module calls it; the
// parameter-discovery batch (orchestrator.defaultParameterQueries) is
// built from ASCII byte literals.
func EncodeLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			b = byte(r)
		}
		out = append(out, b)
	}
	return out
}
