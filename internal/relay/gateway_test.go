package relay

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hargassner/hproxy/internal/bus"
	"github.com/hargassner/hproxy/internal/netutil"
)

// freePort binds a throwaway listener on ip to learn an unused port,
// then releases it immediately.
func freePort(t *testing.T, ip string) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestGatewayRelayForwardsFirstDatagramAndPublishesPeer(t *testing.T) {
	b := bus.New(0)
	info := b.Subscribe(bus.ChannelBootstrap, "test-watch")
	defer b.Unsubscribe(bus.ChannelBootstrap, info)

	discoveryPort := freePort(t, "127.0.0.1")

	rcv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: discoveryPort})
	require.NoError(t, err)
	defer rcv.Close()

	g := &Gateway{
		Bus:             b,
		Log:             logrus.NewEntry(logrus.New()),
		GatewaySeg:      netutil.Endpoint{Address: net.ParseIP("127.0.0.1")},
		BoilerSeg:       netutil.Endpoint{Address: net.ParseIP("127.0.0.2")},
		BoilerBroadcast: net.ParseIP("127.0.0.2"),
		DiscoveryPort:   discoveryPort,
		Delta:           0,
		Tick:            20 * time.Millisecond,
	}

	var wg sync.WaitGroup
	go g.Run(&wg)
	defer func() {
		g.RequestStop()
		wg.Wait()
	}()

	// Give the inbound listener time to bind before sending.
	time.Sleep(50 * time.Millisecond)

	sender, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: discoveryPort})
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write([]byte("hello-igw"))
	require.NoError(t, err)

	rcv.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, _, err := rcv.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello-igw", string(buf[:n]))

	msg, ok := info.Listen(time.Second)
	require.True(t, ok)
	ev, isEvent := msg.Payload.(bus.BootstrapEvent)
	require.True(t, isEvent)
	assert.Equal(t, bus.KeyGatewayAddr, ev.Key)
}
