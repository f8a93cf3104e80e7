// Package netutil implements SocketManager (spec.md §4.2): the
// platform-aware UDP socket construction and the delta-adjusted
// bind/send used to colocate both endpoints on one host for testing.
package netutil

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Failure taxonomy, spec.md §4.2. Timeout is not treated as an error
// at the caller layer — callers type-assert for it and continue.
var (
	ErrInterface = errors.New("netutil: interface not usable on this platform")
	ErrBind      = errors.New("netutil: bind failed")
	ErrSend      = errors.New("netutil: send failed")
	ErrReceive   = errors.New("netutil: receive failed")
)

// Timeout is returned by Receive when no datagram arrives within the
// configured tick; it is not an error the caller layer surfaces, just
// a "no traffic, continue" signal (spec.md §4.2, §7).
type Timeout struct{ Cause error }

func (t Timeout) Error() string { return "netutil: receive timeout" }
func (t Timeout) Unwrap() error { return t.Cause }

// Endpoint is one side of the proxy's attachment to a segment: an
// interface name (used where the platform supports binding by
// interface) and/or a source IP (used where it doesn't, or as the
// fallback wildcard-bind address).
type Endpoint struct {
	Interface string
	Address   net.IP
}

// isLoopback reports whether e resolves to a loopback address, one
// half of the same-host detection rule (spec.md §4.2).
func (e Endpoint) isLoopback() bool {
	return e.Address != nil && e.Address.IsLoopback()
}

// SameHost implements spec.md §4.2's same-host detection rule: source
// and destination interface identifiers compare equal, or both
// resolve to a loopback address.
func SameHost(source, destination Endpoint) bool {
	if source.Interface != "" && source.Interface == destination.Interface {
		return true
	}
	return source.isLoopback() && destination.isLoopback()
}

// Socket wraps a UDP PacketConn with the delta-adjusted bind/send
// behaviour from spec.md §4.2. The zero value is not usable; use
// Manager{...}.Create().
type Socket struct {
	conn       *net.UDPConn
	tick       time.Duration
	source     Endpoint
	dest       Endpoint
	sameHost   bool
	bound      bool
	broadcast  net.IP
}

// Manager builds Sockets for one segment of the proxy (spec.md §4.2:
// "abstracts the platform-specific differences ... centralises the
// port delta mechanism").
type Manager struct {
	Source      Endpoint
	Destination Endpoint
	Broadcast   net.IP
	Tick        time.Duration
}

// Create builds a datagram socket with address-reuse and broadcast
// enabled, applies interface binding when the platform supports it
// (see socket_linux.go / socket_other.go), and sets a receive timeout
// equal to the configured tick. The socket is not yet bound to a
// port; call BindWithDelta next.
func (m Manager) Create() (*Socket, error) {
	s := &Socket{
		tick:      m.Tick,
		source:    m.Source,
		dest:      m.Destination,
		sameHost:  SameHost(m.Source, m.Destination),
		broadcast: m.Broadcast,
	}
	return s, nil
}

// BindWithDelta binds to port+delta when source and destination are
// the same host, or to port otherwise (spec.md §4.2). On platforms
// that bind by IP, and on Linux when no interface name is given, it
// binds to the configured source IP; otherwise it binds to the
// wildcard address and bindInterface then restricts the socket to the
// named interface.
func (s *Socket) BindWithDelta(port, delta int, broadcastEnabled bool) error {
	effectivePort := port
	if s.sameHost {
		effectivePort = port + delta
	}

	ip, err := bindAddress(s.source)
	if err != nil {
		return errors.Wrap(err, ErrInterface.Error())
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: effectivePort})
	if err != nil {
		return errors.Wrap(err, ErrBind.Error())
	}

	if err := bindInterface(conn, s.source); err != nil {
		conn.Close()
		return errors.Wrap(err, ErrInterface.Error())
	}
	if broadcastEnabled {
		if err := setSocketBroadcast(conn); err != nil {
			conn.Close()
			return errors.Wrap(err, ErrBind.Error())
		}
	}
	if s.tick > 0 {
		conn.SetReadDeadline(time.Now().Add(s.tick))
	}

	s.conn = conn
	s.bound = true
	return nil
}

// Bound reports whether BindWithDelta has succeeded.
func (s *Socket) Bound() bool { return s.bound }

// SendWithDelta sends data to destination:port+delta (same-host) or
// destination:port (cross-host). destination defaults to the
// configured broadcast address when nil.
func (s *Socket) SendWithDelta(data []byte, port, delta int, destination net.IP) error {
	if destination == nil {
		destination = s.broadcast
	}
	effectivePort := port
	if s.sameHost {
		effectivePort = port + delta
	}

	_, err := s.conn.WriteToUDP(data, &net.UDPAddr{IP: destination, Port: effectivePort})
	if err != nil {
		return errors.Wrap(err, ErrSend.Error())
	}
	return nil
}

// Receive blocks up to the configured tick and returns the next
// datagram and its sender. It returns a Timeout when no datagram
// arrives in time — the caller's loop layer treats that as "no
// traffic, continue" rather than an error (spec.md §4.2, §7).
func (s *Socket) Receive(buf []byte) (n int, peer *net.UDPAddr, err error) {
	if s.tick > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.tick))
	}
	n, peer, err = s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, Timeout{Cause: err}
		}
		return 0, nil, errors.Wrap(err, ErrReceive.Error())
	}
	return n, peer, nil
}

// SendTo sends data to a literal, already-resolved peer address with
// no delta adjustment — used to reply to a peer whose address:port
// was just observed on the wire (spec.md §4.3's "outbound delivers
// back to the IGW's source address and port"), as opposed to
// SendWithDelta's well-known-port-plus-broadcast case.
func (s *Socket) SendTo(data []byte, destination *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, destination)
	if err != nil {
		return errors.Wrap(err, ErrSend.Error())
	}
	return nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

