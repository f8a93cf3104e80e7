// Package proxy implements TelnetProxy (spec.md §4.4): the dual TCP
// listener, boiler client connection and three-way forwarder that
// drives the Analyser and detects session termination. It is the
// hardest component in the system — the single place where the
// vendor's lack of request IDs has to be worked around by a
// last-caller-wins routing heuristic.
package proxy

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hargassner/hproxy/internal/analyser"
	"github.com/hargassner/hproxy/internal/bus"
	"github.com/hargassner/hproxy/internal/lifecycle"
	"github.com/hargassner/hproxy/internal/model"
	"github.com/hargassner/hproxy/internal/wire"
)

// caller identifies which accepted socket last wrote a request that
// the next boiler response should be routed back to (spec.md §4.4
// "request-response routing rule").
type caller int

const (
	callerNone caller = iota
	callerControl
	callerAux
)

// Proxy is created fresh by the orchestrator for every session; nothing
// here is reused across a restart.
type Proxy struct {
	lifecycle.Worker

	Bus      *bus.Bus
	Log      *logrus.Entry
	Analyser *analyser.Analyser

	ControlPort int // the vendor's well-known port, serviced for the IGW
	AuxPort     int // serviced for the local parameter-query actuator
	Tick        time.Duration
	BufferSize  int

	// ParameterQueries is the batch of complete CRLF-terminated request
	// lines issued once the Analyser reports login-complete (spec.md
	// §4.4), e.g. "$par get PR001\r\n".
	ParameterQueries [][]byte

	// Parameters holds the select/number records decoded from the
	// discovery batch's responses (spec.md §3 BoilerParameter),
	// populated once by issueParameterQueries. Not itself a bus
	// contract — spec.md §6 only defines the raw BoilerConfig blob on
	// the bus — but available to callers and tests that want the
	// structured form.
	Parameters []model.BoilerParameter

	controlListener *net.TCPListener
	auxListener     *net.TCPListener

	control net.Conn
	boiler  net.Conn

	auxMu sync.Mutex
	aux   net.Conn

	// serviceLock is the process-shared lock from spec.md §4.4
	// ("Concurrency with external actuator"): held across one
	// auxiliary request/response pair so the IGW side is not processed
	// in between and cannot steal the routing heuristic's `caller`.
	serviceLock sync.Mutex

	boilerAddr net.IP
	boilerPort int

	state  model.SessionState
	caller caller

	endOnce sync.Once
}

// Run drives one full session: discover the boiler, open both
// listeners, accept the IGW's connection, connect to the boiler, then
// service the session until it ends. It returns exactly once, matching
// the `service()` contract in spec.md §4.4 — the Orchestrator is
// responsible for building a fresh Proxy for the next session.
func (p *Proxy) Run(wg *sync.WaitGroup) {
	p.Bind(wg)
	defer p.Done()

	if p.Tick <= 0 {
		p.Tick = time.Second
	}
	if p.BufferSize <= 0 {
		p.BufferSize = 4096
	}

	q := p.Bus.Subscribe(bus.ChannelBootstrap, "telnet-proxy")
	defer p.Bus.Unsubscribe(bus.ChannelBootstrap, q)

	if !p.discover(q) {
		return // shutdown requested before the boiler was discovered
	}

	if err := p.bindAndListen(); err != nil {
		p.Log.WithError(err).Error("telnet proxy: bind failed")
		return
	}
	defer p.controlListener.Close()
	defer p.auxListener.Close()

	go p.acceptAux()

	p.control = p.acceptOn(p.controlListener)
	if p.control == nil {
		return // shutdown requested before the IGW connected
	}
	defer p.control.Close()

	boiler, err := net.DialTimeout("tcp", net.JoinHostPort(p.boilerAddr.String(), strconv.Itoa(p.boilerPort)), p.Tick)
	if err != nil {
		p.Log.WithError(err).Error("telnet proxy: connect to boiler failed")
		return
	}
	p.boiler = boiler
	defer p.boiler.Close()

	p.service(q)

	if aux := p.getAux(); aux != nil {
		aux.Close()
	}
}

// discover blocks until the boiler's address and port are known,
// rechecking the shutdown flag once per tick (spec.md §4.4 `discover()`).
func (p *Proxy) discover(q *bus.Queue) bool {
	for p.boilerAddr == nil || p.boilerPort == 0 {
		if p.Stopped() {
			return false
		}
		msg, ok := q.Listen(p.Tick)
		if !ok {
			continue
		}
		ev, isEvent := msg.Payload.(bus.BootstrapEvent)
		if !isEvent {
			continue
		}
		switch ev.Key {
		case bus.KeyBoilerAddr:
			p.boilerAddr = net.ParseIP(ev.Value)
		case bus.KeyBoilerPort:
			if port, err := strconv.Atoi(ev.Value); err == nil {
				p.boilerPort = port
			}
		}
	}
	return true
}

func (p *Proxy) bindAndListen() error {
	ctl, err := net.ListenTCP("tcp", &net.TCPAddr{Port: p.ControlPort})
	if err != nil {
		return errors.Wrap(err, "telnet proxy: bind control listener")
	}
	p.controlListener = ctl

	auxL, err := net.ListenTCP("tcp", &net.TCPAddr{Port: p.AuxPort})
	if err != nil {
		ctl.Close()
		return errors.Wrap(err, "telnet proxy: bind auxiliary listener")
	}
	p.auxListener = auxL
	return nil
}

// acceptOn blocks for one connection, rechecking Stopped() once per
// tick via the listener's deadline, matching the bounded-timeout
// polling used throughout (spec.md §5).
func (p *Proxy) acceptOn(listener *net.TCPListener) net.Conn {
	for !p.Stopped() {
		listener.SetDeadline(time.Now().Add(p.Tick))
		conn, err := listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil
		}
		return conn
	}
	return nil
}

// acceptAux accepts the auxiliary connection in the background: unlike
// the IGW's control connection it is not required before the session
// can start servicing, since the local actuator may connect at any
// point during the session.
func (p *Proxy) acceptAux() {
	conn := p.acceptOn(p.auxListener)
	if conn == nil {
		return
	}
	p.auxMu.Lock()
	p.aux = conn
	p.auxMu.Unlock()
}

func (p *Proxy) getAux() net.Conn {
	p.auxMu.Lock()
	defer p.auxMu.Unlock()
	return p.aux
}

// service runs the main cooperative loop until one of the three
// session-end triggers fires (spec.md §4.4).
func (p *Proxy) service(q *bus.Queue) {
	subTick := p.Tick / 4
	if subTick <= 0 {
		subTick = p.Tick
	}

	controlBuf := make([]byte, p.BufferSize)
	auxBuf := make([]byte, p.BufferSize)
	boilerBuf := make([]byte, p.BufferSize)

	for !p.Stopped() {
		if p.reconnectSignalled(q) {
			p.endSession("new_igw_announcement_during_active_session")
			return
		}

		if !p.locked() {
			if done := p.pollControl(controlBuf, subTick); done {
				return
			}
		}
		if aux := p.getAux(); aux != nil && !p.locked() {
			if done := p.pollAux(aux, auxBuf, subTick); done {
				return
			}
		}
		if done := p.pollBoiler(boilerBuf, subTick); done {
			return
		}
	}
}

// pollControl reads and processes one chunk from the IGW, if any
// arrived within subTick. Returns true once the session has ended.
func (p *Proxy) pollControl(buf []byte, timeout time.Duration) bool {
	n, err := readChunk(p.control, buf, timeout)
	if err != nil {
		if isTimeout(err) {
			return false
		}
		p.endSession("connection_closed")
		return true
	}
	if n == 0 {
		p.endSession("connection_closed")
		return true
	}
	chunk := append([]byte(nil), buf[:n]...)

	// Forward before any state derived from chunk is published
	// (invariant, spec.md §8).
	if _, err := p.boiler.Write(chunk); err != nil {
		p.Log.WithError(err).Warn("telnet proxy: forward to boiler failed")
	}
	p.caller = callerControl

	tag, sessionEndRequested := p.Analyser.ParseRequest(chunk)
	p.state.StateTag = tag
	if sessionEndRequested {
		p.state.PendingEnd = true
		p.endSession("igw_clear_command")
		return true
	}
	return false
}

// pollAux reads and forwards one chunk from the auxiliary actuator
// connection, taking the service lock until the matching boiler
// response has been routed back (spec.md §4.4 "Concurrency with
// external actuator").
func (p *Proxy) pollAux(aux net.Conn, buf []byte, timeout time.Duration) bool {
	n, err := readChunk(aux, buf, timeout)
	if err != nil {
		if isTimeout(err) {
			return false
		}
		p.endSession("aux_connection_closed")
		return true
	}
	if n == 0 {
		p.endSession("aux_connection_closed")
		return true
	}
	chunk := append([]byte(nil), buf[:n]...)

	p.serviceLock.Lock()
	if _, err := p.boiler.Write(chunk); err != nil {
		p.Log.WithError(err).Warn("telnet proxy: forward auxiliary request to boiler failed")
	}
	p.caller = callerAux
	return false
}

// pollBoiler reads one chunk from the boiler, routes it to the right
// caller, and hands it to the Analyser for reassembly and parsing.
func (p *Proxy) pollBoiler(buf []byte, timeout time.Duration) bool {
	n, err := readChunk(p.boiler, buf, timeout)
	if err != nil {
		if isTimeout(err) {
			return false
		}
		p.endSession("boiler_disconnected")
		return true
	}
	if n == 0 {
		p.endSession("boiler_disconnected")
		return true
	}
	chunk := append([]byte(nil), buf[:n]...)

	p.routeResponse(chunk)

	loginComplete, sessionEndComplete := p.Analyser.AnalyseResponse(&p.state, chunk, p.state.PendingEnd)

	// Release the auxiliary side's hold on serviceLock once this
	// response's terminating CRLF has arrived — the same signal the
	// Analyser itself uses to decide a frame is complete (spec.md
	// §4.4's routing heuristic needs `caller` to stay stable for the
	// whole of one auxiliary request/response pair).
	if p.caller == callerAux && wire.EndsWithCRLF(chunk) && p.locked() {
		p.serviceLock.Unlock()
	}

	if sessionEndComplete {
		p.endSession("igw_clear_command")
		return true
	}
	if loginComplete {
		p.issueParameterQueries()
	}
	return false
}

// routeResponse implements the last-caller-wins heuristic: streaming
// "pm" telemetry always goes to the IGW regardless of the current
// caller. Responses to an auxiliary-originated request are also echoed
// to the IGW — an observed-but-not-fully-understood vendor behaviour
// preserved per spec.md §9's Open Question, not a general broadcast.
func (p *Proxy) routeResponse(chunk []byte) {
	switch {
	case wire.IsStreamingFrame(chunk):
		p.writeTo(p.control, chunk)
	case p.caller == callerControl:
		p.writeTo(p.control, chunk)
	case p.caller == callerAux:
		p.writeTo(p.getAux(), chunk)
		p.writeTo(p.control, chunk)
	default:
		p.writeTo(p.control, chunk)
	}
}

func (p *Proxy) writeTo(conn net.Conn, chunk []byte) {
	if conn == nil {
		return
	}
	if _, err := conn.Write(chunk); err != nil {
		p.Log.WithError(err).Warn("telnet proxy: send response failed")
	}
}

// reconnectSignalled drains any bootstrap messages queued since the
// last tick without blocking, reporting true as soon as a fresh
// gateway announcement is seen (session-end trigger 3, spec.md §4.4).
func (p *Proxy) reconnectSignalled(q *bus.Queue) bool {
	for {
		msg, ok := q.Listen(time.Millisecond)
		if !ok {
			return false
		}
		ev, isEvent := msg.Payload.(bus.BootstrapEvent)
		if isEvent && ev.Key == bus.KeyGatewayPort {
			return true
		}
	}
}

// locked reports whether serviceLock is currently held, without
// blocking — the Go equivalent of the vendor code's `lock.locked()`
// poll (spec.md §4.4).
func (p *Proxy) locked() bool {
	if p.serviceLock.TryLock() {
		p.serviceLock.Unlock()
		return false
	}
	return true
}

// endSession publishes RESTART_REQUESTED exactly once and raises the
// shutdown flag so service's loop exits within one tick (spec.md §8:
// "exactly one RESTART_REQUESTED message").
func (p *Proxy) endSession(reason string) {
	p.endOnce.Do(func() {
		p.Log.WithField("reason", reason).Info("telnet proxy: session ending")
		p.RequestStop()
		p.Bus.Publish(bus.ChannelSystem, bus.RestartRequested)
	})
}

// issueParameterQueries sends the boiler-parameter discovery batch
// directly over the boiler connection once login completes, and
// publishes the combined raw response as a single BoilerConfig blob
// (spec.md §4.4, grounded on original_source's get_boiler_config).
func (p *Proxy) issueParameterQueries() {
	var combined strings.Builder
	combined.WriteString(bus.KeyBoilerConfig + ":")

	readBuf := make([]byte, p.BufferSize)
	for _, cmd := range p.ParameterQueries {
		if _, err := p.boiler.Write(cmd); err != nil {
			p.Log.WithError(err).Warn("telnet proxy: boiler-parameter query failed")
			continue
		}
		resp, err := p.readFullResponse(readBuf)
		if err != nil && len(resp) == 0 {
			p.Log.WithError(err).Warn("telnet proxy: boiler-parameter response failed")
			continue
		}
		decoded := wire.DecodeLatin1(resp)
		combined.WriteString(decoded)

		for _, line := range strings.Split(decoded, "\r\n") {
			if line == "" {
				continue
			}
			param, err := model.ParseParameter(line)
			if err != nil {
				// Most lines are not parameter records at all (e.g.
				// $ack); only semicolon-separated records matching
				// spec.md §6 are decoded, everything else is skipped
				// per §7's protocol-violation handling.
				continue
			}
			p.Parameters = append(p.Parameters, param)
		}
	}
	p.Bus.Publish(bus.ChannelBootstrap, bus.BootstrapEvent{Key: bus.KeyBoilerConfig, Value: combined.String()})
}

// readFullResponse reads directly from the boiler connection until a
// CRLF-terminated line completes, bypassing the main loop's Analyser
// dispatch — these queries are synchronous, proxy-originated requests
// with no caller to route back to.
func (p *Proxy) readFullResponse(buf []byte) ([]byte, error) {
	var full []byte
	for {
		n, err := readChunk(p.boiler, buf, p.Tick)
		if n > 0 {
			full = append(full, buf[:n]...)
			if wire.EndsWithCRLF(full) {
				return full, nil
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return full, err
		}
	}
}

func readChunk(conn net.Conn, buf []byte, timeout time.Duration) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	return conn.Read(buf)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
