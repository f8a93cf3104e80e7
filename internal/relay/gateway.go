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

// Gateway is the gateway-side UDP relay: it owns the well-known
// discovery listener on the gateway segment and rebroadcasts to the
// boiler segment (spec.md §4.3).
type Gateway struct {
	lifecycle.Worker

	Bus           *bus.Bus
	Log           *logrus.Entry
	GatewaySeg    netutil.Endpoint
	BoilerSeg     netutil.Endpoint
	BoilerBroadcast net.IP
	DiscoveryPort int
	Delta         int
	Tick          time.Duration

	// Metrics is optional; nil disables counting (spec.md §4.3's relay
	// has no hard dependency on the observability stack).
	Metrics *metrics.Collector
}

// Run subscribes to the bootstrap channel, binds the inbound listener
// on the discovery port, then relays datagrams from the gateway
// segment to the boiler segment until RequestStop is called (the
// reverse direction is the Boiler relay's job). Intended to run in its own goroutine;
// call wg.Add is handled by Bind.
func (g *Gateway) Run(wg *sync.WaitGroup) {
	g.Bind(wg)
	defer g.Done()

	// Subscribed before the listener binds so no early publication is
	// missed, per the shared relay template (spec.md §4.3 step 1).
	// The gateway side has no producer to wait on itself, but stays
	// subscribed throughout in case future restarts race with binds.
	q := g.Bus.Subscribe(bus.ChannelBootstrap, "gateway-relay")
	defer g.Bus.Unsubscribe(bus.ChannelBootstrap, q)

	inboundMgr := netutil.Manager{Source: g.GatewaySeg, Destination: g.BoilerSeg, Tick: g.Tick}
	inbound, err := inboundMgr.Create()
	if err != nil {
		g.Log.WithError(err).Error("gateway relay: create inbound socket failed")
		return
	}
	defer inbound.Close()

	if err := inbound.BindWithDelta(g.DiscoveryPort, g.Delta, true); err != nil {
		g.Log.WithError(err).Error("gateway relay: bind inbound socket failed")
		return
	}

	var outbound *netutil.Socket
	defer func() {
		if outbound != nil {
			outbound.Close()
		}
	}()

	buf := make([]byte, 4096)
	for !g.Stopped() {
		n, peer, err := inbound.Receive(buf)
		if err != nil {
			if _, isTimeout := err.(netutil.Timeout); isTimeout {
				continue
			}
			g.Log.WithError(err).Warn("gateway relay: receive failed")
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		if g.Metrics != nil {
			g.Metrics.IncRelayDatagram("gateway_inbound")
		}

		if outbound == nil {
			outbound, err = g.bindOutbound(peer)
			if err != nil {
				g.Log.WithError(err).Error("gateway relay: bind outbound socket failed")
				return
			}
			g.Bus.Publish(bus.ChannelBootstrap, bus.BootstrapEvent{Key: bus.KeyGatewayAddr, Value: peer.IP.String()})
			g.Bus.Publish(bus.ChannelBootstrap, bus.BootstrapEvent{Key: bus.KeyGatewayPort, Value: strconv.Itoa(peer.Port)})
		}

		if version, serial := ParseGatewayPayload(data); version != "" || serial != "" {
			if version != "" {
				g.Bus.Publish(bus.ChannelInfo, bus.InfoPair{Key: "HargaWebApp", Value: version})
			}
			if serial != "" {
				g.Bus.Publish(bus.ChannelInfo, bus.InfoPair{Key: "SN", Value: serial})
			}
		}

		if err := outbound.SendWithDelta(data, g.DiscoveryPort, g.Delta, g.BoilerBroadcast); err != nil {
			g.Log.WithError(err).Warn("gateway relay: forward to boiler segment failed")
		} else if g.Metrics != nil {
			g.Metrics.IncRelayDatagram("gateway_outbound")
		}
	}
}

// bindOutbound binds the boiler-segment-facing socket to the IGW's
// observed source port (delta-adjusted), so the real boiler sees
// traffic as if it came directly from the IGW (spec.md §4.3).
func (g *Gateway) bindOutbound(peer *net.UDPAddr) (*netutil.Socket, error) {
	mgr := netutil.Manager{
		Source:      g.BoilerSeg,
		Destination: g.GatewaySeg,
		Broadcast:   g.BoilerBroadcast,
		Tick:        g.Tick,
	}
	sock, err := mgr.Create()
	if err != nil {
		return nil, err
	}
	if err := sock.BindWithDelta(peer.Port, g.Delta, true); err != nil {
		return nil, err
	}
	return sock, nil
}
