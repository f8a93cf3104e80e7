package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGatewayPayload(t *testing.T) {
	data := []byte("HargaWebApp v6.4.1\r\nSN:0039808\r\n")
	version, serial := ParseGatewayPayload(data)
	assert.Equal(t, "6.4.1", version)
	assert.Equal(t, "0039808", serial)
}

func TestParseGatewayPayloadPartial(t *testing.T) {
	version, serial := ParseGatewayPayload([]byte("get services"))
	assert.Empty(t, version)
	assert.Empty(t, serial)
}

func TestParseBoilerPayload(t *testing.T) {
	data := append([]byte("\x00\x02HSV/CL 9-60KW V14.0n3\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), []byte("4FBBB70C1234567A")...)
	hardwareID, systemCode, ok := ParseBoilerPayload(data)
	assert.True(t, ok)
	assert.Equal(t, "HSV/CL 9-60KW V14.0n3", hardwareID)
	assert.Equal(t, "4FBBB70C1234567A", systemCode)
}

func TestParseBoilerPayloadRejectsWrongPrefix(t *testing.T) {
	_, _, ok := ParseBoilerPayload([]byte("not-a-boiler-frame"))
	assert.False(t, ok)
}
