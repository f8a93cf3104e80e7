// Package relay implements the two UDP discovery/broadcast relays
// (spec.md §4.3): gateway-side, which observes the IGW and rebroadcasts
// to the boiler segment, and boiler-side, the reverse.
package relay

import (
	"bytes"
	"strings"

	"github.com/hargassner/hproxy/internal/wire"
)

const (
	vendorTagPrefix  = "HargaWebApp v"
	vendorTagOffset  = 13 // spec.md §6: "the version is extracted from byte offset 13 onward"
	serialLinePrefix = "SN:"

	boilerMagicPrefix = "\x00\x02HSV"
	hardwareIDStart   = 2
	hardwareIDEnd     = 32
	systemCodeLen     = 16
)

// ParseGatewayPayload extracts the vendor tag ("webapp version") and
// serial number lines from a gateway discovery broadcast, per spec.md
// §6. Either return value is empty when its line was not present.
func ParseGatewayPayload(data []byte) (webappVersion, serial string) {
	for _, line := range bytes.Split(data, []byte("\r\n")) {
		s := wire.DecodeLatin1(line)
		switch {
		case strings.HasPrefix(s, vendorTagPrefix) && len(s) > vendorTagOffset:
			webappVersion = s[vendorTagOffset:]
		case strings.HasPrefix(s, serialLinePrefix):
			serial = strings.TrimPrefix(s, serialLinePrefix)
		}
	}
	return webappVersion, serial
}

// ParseBoilerPayload recognises the boiler's 5-byte magic prefix and
// extracts the hardware-identity substring (bytes 2..32) and the
// system-code substring (the trailing 16 bytes), per spec.md §6. ok is
// false when data does not start with the magic prefix.
func ParseBoilerPayload(data []byte) (hardwareID, systemCode string, ok bool) {
	if !bytes.HasPrefix(data, []byte(boilerMagicPrefix)) {
		return "", "", false
	}
	if len(data) < hardwareIDEnd {
		return "", "", false
	}

	hardwareID = wire.DecodeLatin1(bytes.TrimRight(data[hardwareIDStart:hardwareIDEnd], "\x00"))

	tail := data
	if len(tail) >= systemCodeLen {
		tail = tail[len(tail)-systemCodeLen:]
	}
	systemCode = wire.DecodeLatin1(bytes.TrimRight(tail, "\x00"))
	return hardwareID, systemCode, true
}
