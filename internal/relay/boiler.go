package relay

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hargassner/hproxy/internal/bus"
	"github.com/hargassner/hproxy/internal/lifecycle"
	"github.com/hargassner/hproxy/internal/metrics"
	"github.com/hargassner/hproxy/internal/netutil"
)

// Boiler is the boiler-side UDP relay. Its inbound port is not
// configured directly: it is learned from the gateway-side peer
// information published on the bootstrap channel, because the two
// ports are linked by the vendor's protocol (spec.md §4.3). It must
// not bind until that value is available, expressed as a blocking
// subscribe→listen rather than any direct reference between the two
// relay instances (spec.md §9).
type Boiler struct {
	lifecycle.Worker

	Bus        *bus.Bus
	Log        *logrus.Entry
	GatewaySeg netutil.Endpoint
	BoilerSeg  netutil.Endpoint
	Delta      int
	Tick       time.Duration

	// Metrics is optional; nil disables counting.
	Metrics *metrics.Collector
}

// Run blocks for the gateway port, then relays datagrams between the
// boiler segment and the IGW's known address until RequestStop.
func (b *Boiler) Run(wg *sync.WaitGroup) {
	b.Bind(wg)
	defer b.Done()

	q := b.Bus.Subscribe(bus.ChannelBootstrap, "boiler-relay")
	defer b.Bus.Unsubscribe(bus.ChannelBootstrap, q)

	gwPort, gwAddr, ok := b.awaitGatewayPeer(q)
	if !ok {
		return // shutdown requested before discovery completed
	}

	inboundMgr := netutil.Manager{Source: b.BoilerSeg, Destination: b.GatewaySeg, Tick: b.Tick}
	inbound, err := inboundMgr.Create()
	if err != nil {
		b.Log.WithError(err).Error("boiler relay: create inbound socket failed")
		return
	}
	defer inbound.Close()

	if err := inbound.BindWithDelta(gwPort, b.Delta, true); err != nil {
		b.Log.WithError(err).Error("boiler relay: bind inbound socket failed")
		return
	}

	var outbound *netutil.Socket
	defer func() {
		if outbound != nil {
			outbound.Close()
		}
	}()

	buf := make([]byte, 4096)
	for !b.Stopped() {
		n, peer, err := inbound.Receive(buf)
		if err != nil {
			if _, isTimeout := err.(netutil.Timeout); isTimeout {
				continue
			}
			b.Log.WithError(err).Warn("boiler relay: receive failed")
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		if b.Metrics != nil {
			b.Metrics.IncRelayDatagram("boiler_inbound")
		}

		if outbound == nil {
			outbound, err = b.bindOutbound(peer)
			if err != nil {
				b.Log.WithError(err).Error("boiler relay: bind outbound socket failed")
				return
			}
			b.Bus.Publish(bus.ChannelBootstrap, bus.BootstrapEvent{Key: bus.KeyBoilerAddr, Value: peer.IP.String()})
			b.Bus.Publish(bus.ChannelBootstrap, bus.BootstrapEvent{Key: bus.KeyBoilerPort, Value: strconv.Itoa(peer.Port)})
		}

		// Only the system code is published; the hardware-id substring
		// is parsed but not forwarded, matching
		// original_source/myhargassner/boiler.py's "we do not publish
		// HSV as it is not used by other components". SNIO/SNBCE are
		// the TCP $info-response keys (internal/analyser) and must not
		// be reused here for an unrelated UDP-sourced value.
		if _, systemCode, recognised := ParseBoilerPayload(data); recognised {
			b.Bus.Publish(bus.ChannelInfo, bus.InfoPair{Key: "SYS", Value: systemCode})
		}

		dest := &net.UDPAddr{IP: gwAddr, Port: gwPort}
		if err := outbound.SendTo(data, dest); err != nil {
			b.Log.WithError(err).Warn("boiler relay: forward to gateway segment failed")
		} else if b.Metrics != nil {
			b.Metrics.IncRelayDatagram("boiler_outbound")
		}
	}
}

// awaitGatewayPeer blocks, rechecking the shutdown flag once per tick,
// until both GW_ADDR and GW_PORT have been consumed from q.
func (b *Boiler) awaitGatewayPeer(q *bus.Queue) (port int, addr net.IP, ok bool) {
	for port == 0 || addr == nil {
		if b.Stopped() {
			return 0, nil, false
		}
		msg, received := q.Listen(b.Tick)
		if !received {
			continue
		}
		ev, isEvent := msg.Payload.(bus.BootstrapEvent)
		if !isEvent {
			continue
		}
		switch ev.Key {
		case bus.KeyGatewayPort:
			if p, err := strconv.Atoi(ev.Value); err == nil {
				port = p
			}
		case bus.KeyGatewayAddr:
			addr = net.ParseIP(ev.Value)
		}
	}
	return port, addr, true
}

// bindOutbound binds the gateway-segment-facing socket to the
// boiler's observed source port (delta-adjusted), so the IGW sees
// traffic as if it came directly from the boiler (spec.md §4.3).
func (b *Boiler) bindOutbound(peer *net.UDPAddr) (*netutil.Socket, error) {
	mgr := netutil.Manager{Source: b.GatewaySeg, Destination: b.BoilerSeg, Tick: b.Tick}
	sock, err := mgr.Create()
	if err != nil {
		return nil, err
	}
	if err := sock.BindWithDelta(peer.Port, b.Delta, true); err != nil {
		return nil, err
	}
	return sock, nil
}
