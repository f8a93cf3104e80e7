// Package model holds the data shared across the proxy's components:
// the network addresses learned during discovery, the boiler's
// parameter set, and a TCP session's reassembly state.
package model

import "net"

// NetworkData is populated incrementally by the UDP relays as peers
// announce themselves, and treated as stable for the rest of the
// session once every field has been set.
type NetworkData struct {
	GatewayIP        net.IP
	GatewayUDPPort   int
	GatewayTCPPort   int
	BoilerIP         net.IP
	BoilerUDPPort    int
}

// HasGateway reports whether the gateway's UDP peer has been observed.
func (n *NetworkData) HasGateway() bool {
	return n.GatewayIP != nil && n.GatewayUDPPort != 0
}

// HasBoiler reports whether the boiler's UDP peer has been observed.
func (n *NetworkData) HasBoiler() bool {
	return n.BoilerIP != nil && n.BoilerUDPPort != 0
}

// ParameterKind distinguishes the two BoilerParameter wire shapes.
type ParameterKind int

const (
	// ParameterSelect is a multiple-choice parameter ($PR... record).
	ParameterSelect ParameterKind = iota
	// ParameterNumber is a decimal-valued parameter.
	ParameterNumber
)

// BoilerParameter is a single boiler-exposed control value. Labels and
// identifiers are set once at discovery time and never rewritten;
// only CurrentIndex/CurrentValue change over the session.
type BoilerParameter struct {
	Kind ParameterKind
	ID   string
	Name string

	// select variant
	Options      []string
	CurrentIndex int
	DefaultIndex int

	// number variant
	Current, Min, Max, Step, Default float64
	Unit                              string
}

// ReassemblyMode tracks which response-reconstruction strategy the
// Analyser is currently applying to bytes arriving from the boiler. A
// `$<<<...>>>` framed envelope has no reassembly mode of its own: like
// the original implementation, it is recognised only once a normal
// CRLF-terminated buffer is already complete (see
// Analyser.AnalyseResponse), not tracked across chunks by a declared
// length.
type ReassemblyMode int

const (
	// ReassemblyNormal accumulates a CRLF-terminated line sequence.
	ReassemblyNormal ReassemblyMode = iota
	// ReassemblyStreaming accumulates a "pm" telemetry line.
	ReassemblyStreaming
)

// SessionState is TelnetProxy's per-connection bookkeeping. It is
// created when the proxy starts servicing a connection and discarded
// at session end; nothing here survives a restart.
type SessionState struct {
	StateTag      string
	Buffer        []byte
	Mode          ReassemblyMode
	PendingEnd    bool
	LoginComplete bool
}

// Reset clears the reassembly buffer and returns to normal mode,
// matching the Analyser invariant that a full response dispatch
// resets the state tag.
func (s *SessionState) Reset() {
	s.StateTag = ""
	s.Buffer = s.Buffer[:0]
	s.Mode = ReassemblyNormal
}
