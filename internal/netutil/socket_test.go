package netutil

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameHostByInterface(t *testing.T) {
	a := Endpoint{Interface: "eth0"}
	b := Endpoint{Interface: "eth0"}
	assert.True(t, SameHost(a, b))

	c := Endpoint{Interface: "eth1"}
	assert.False(t, SameHost(a, c))
}

func TestSameHostByLoopback(t *testing.T) {
	a := Endpoint{Address: net.ParseIP("127.0.0.1")}
	b := Endpoint{Address: net.ParseIP("127.0.0.2")}
	assert.True(t, SameHost(a, b))
}

func TestBindAndReceiveRoundTrip(t *testing.T) {
	mgr := Manager{
		Source:      Endpoint{Address: net.ParseIP("127.0.0.1")},
		Destination: Endpoint{Address: net.ParseIP("127.0.0.1")},
		Tick:        200 * time.Millisecond,
	}

	sock, err := mgr.Create()
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.BindWithDelta(0, 0, false))
	require.True(t, sock.Bound())

	sender, err := net.DialUDP("udp", nil, sock.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, _, err := sock.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReceiveTimesOut(t *testing.T) {
	mgr := Manager{
		Source:      Endpoint{Address: net.ParseIP("127.0.0.1")},
		Destination: Endpoint{Address: net.ParseIP("127.0.0.1")},
		Tick:        20 * time.Millisecond,
	}
	sock, err := mgr.Create()
	require.NoError(t, err)
	defer sock.Close()
	require.NoError(t, sock.BindWithDelta(0, 0, false))

	buf := make([]byte, 64)
	_, _, err = sock.Receive(buf)
	require.Error(t, err)

	var timeout Timeout
	assert.ErrorAs(t, err, &timeout)
}

func TestBindWithDeltaAppliesOnSameHost(t *testing.T) {
	mgr := Manager{
		Source:      Endpoint{Address: net.ParseIP("127.0.0.1")},
		Destination: Endpoint{Address: net.ParseIP("127.0.0.1")},
	}
	sock, err := mgr.Create()
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.BindWithDelta(20000, 5, false))
	addr := sock.conn.LocalAddr().(*net.UDPAddr)
	assert.Equal(t, 20005, addr.Port)
}
