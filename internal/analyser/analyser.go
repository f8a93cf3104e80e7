// Package analyser implements the vendor telnet-protocol interpreter
// (spec.md §4.5): request classification, response reassembly (normal
// and streaming modes, plus detection of the framed `$<<<...>>>`
// envelope), per-state payload extraction and streaming-telemetry
// rate limiting. It is purely synchronous — the caller (TelnetProxy)
// invokes it inline for every chunk read from either TCP stream.
package analyser

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hargassner/hproxy/internal/bus"
	"github.com/hargassner/hproxy/internal/metrics"
	"github.com/hargassner/hproxy/internal/model"
	"github.com/hargassner/hproxy/internal/wire"
)

// requestRule matches one recognised command prefix. Rules are tried
// in order, so more specific prefixes (e.g. "$par get all") must
// precede their generic counterparts ("$par get").
type requestRule struct {
	prefix  string
	tag     string
	publish func(a *Analyser, line string)
}

var requestRules = []requestRule{
	{prefix: "$login token", tag: "$login token"},
	{prefix: "$login key", tag: "$login key", publish: func(a *Analyser, line string) {
		a.push("KEY", strings.TrimPrefix(line, "$login key "))
	}},
	{prefix: "$apiversion", tag: "$apiversion"},
	{prefix: "$setkomm", tag: "$setkomm"},
	{prefix: "$asnr get", tag: "$asnr get"},
	{prefix: "$igw set", tag: "$igw set", publish: func(a *Analyser, line string) {
		a.push("IGW", strings.TrimPrefix(line, "$igw set "))
	}},
	{prefix: "$igw clear", tag: "$igw clear"},
	{prefix: "$daq stop", tag: "$daq stop"},
	{prefix: "$logging disable", tag: "$logging disable"},
	{prefix: "$daq desc", tag: "$daq desc"},
	{prefix: "$daq start", tag: "$daq start"},
	{prefix: "$logging enable", tag: "$logging enable"},
	{prefix: "$bootversion", tag: "$bootversion"},
	{prefix: "$info", tag: "$info"},
	{prefix: "$uptime", tag: "$uptime"},
	{prefix: "$rtc get", tag: "$rtc get"},
	{prefix: "$par get all", tag: "$par get all"},
	{prefix: "$par get changed", tag: "$par get changed"},
	{prefix: "$par get", tag: "$par get"},
	{prefix: "$erract", tag: "$erract"},
}

// push publishes a key/value pair on the info channel.
func (a *Analyser) push(key, value string) {
	a.Bus.Publish(bus.ChannelInfo, bus.InfoPair{Key: key, Value: value})
}

// Analyser holds the telemetry rate-limiting state that must survive
// across chunks within one session; it is instantiated fresh by the
// orchestrator for every session, matching SessionState's lifetime.
type Analyser struct {
	Bus          *bus.Bus
	Log          *logrus.Entry
	ScanPeriod   time.Duration
	TelemetryMap map[int]string // pm vector position -> published channel name

	// Metrics is optional; nil disables counting.
	Metrics *metrics.Collector

	pmBuffer  []byte
	pmStamp   time.Time
	pmValues  map[int]string
}

// ParseRequest classifies a chunk read from the IGW (or auxiliary)
// socket, per spec.md §4.5. It returns the resulting state tag and
// whether the chunk requested session end (the vendor's `$igw clear`
// command). Recognised commands that carry an immediate payload (login
// key, igw set) are published as a side effect.
func (a *Analyser) ParseRequest(data []byte) (stateTag string, sessionEndRequested bool) {
	for _, line := range strings.Split(string(data), wire.CRLF) {
		if line == "" {
			continue
		}
		matched := false
		for _, rule := range requestRules {
			if strings.HasPrefix(line, rule.prefix) {
				stateTag = rule.tag
				if rule.publish != nil {
					rule.publish(a, line)
				}
				if rule.prefix == "$igw clear" {
					sessionEndRequested = true
				}
				matched = true
				break
			}
		}
		if !matched {
			a.Log.WithField("line", line).Debug("analyser: unrecognised request, passthrough")
			stateTag = "passthrough"
		}
	}
	return stateTag, sessionEndRequested
}

// AnalyseResponse folds one chunk read from the boiler into state's
// reassembly buffer in normal or streaming mode; a completed normal
// buffer that opens a framed envelope is recognised and not parsed. It
// returns the two special signals TelnetProxy acts on: login-complete
// and session-end-complete. sessionEndRequested must reflect whatever
// ParseRequest last reported for an `$igw clear` request, so the
// acknowledgement can be correlated back to it.
func (a *Analyser) AnalyseResponse(state *model.SessionState, chunk []byte, sessionEndRequested bool) (loginComplete, sessionEndComplete bool) {
	if wire.IsStreamingFrame(chunk) {
		state.Mode = model.ReassemblyStreaming
	}

	if state.Mode == model.ReassemblyStreaming {
		a.foldStreaming(chunk)
		if wire.EndsWithCRLF(chunk) {
			state.Mode = model.ReassemblyNormal
		}
		return false, false
	}

	if !wire.EndsWithCRLF(chunk) {
		state.Buffer = append(state.Buffer, chunk...)
		return false, false
	}

	full := chunk
	if len(state.Buffer) > 0 {
		full = append(state.Buffer, chunk...)
	}
	state.Buffer = state.Buffer[:0]

	if wire.IsFramedEnvelope(full) {
		a.Log.WithField("bytes", len(full)).Debug("analyser: framed envelope forwarded, not parsed")
		state.StateTag = ""
		return false, false
	}

	a.Bus.Publish(bus.ChannelTrack, wire.DecodeLatin1(full))
	loginComplete, sessionEndComplete = a.parseResponse(state, full, sessionEndRequested)
	return loginComplete, sessionEndComplete
}

// foldStreaming accumulates a "pm" telemetry chunk and, once its
// terminating CRLF arrives, applies the scan-period rate gate before
// handing the frame to parsePM (spec.md §4.5, "streaming (pm)").
func (a *Analyser) foldStreaming(chunk []byte) {
	a.pmBuffer = append(a.pmBuffer, chunk...)
	if !wire.EndsWithCRLF(chunk) {
		return
	}

	now := time.Now()
	if a.pmStamp.IsZero() || now.Sub(a.pmStamp) > a.ScanPeriod {
		frame := a.pmBuffer
		a.pmStamp = now
		a.parsePM(frame)
	} else if a.Metrics != nil {
		a.Metrics.IncFrameDiscard()
	}
	a.pmBuffer = nil
}

// parsePM splits a complete "pm ..." frame on whitespace and publishes
// the configured subset of positions under their mapped channel names.
// Positions are counted from the frame's second token (position 0),
// matching the vendor layout where the "pm" marker itself occupies
// position -1 and is never mapped. A position whose value is the same
// as in the previous accepted frame is not published again.
func (a *Analyser) parsePM(frame []byte) {
	fields := strings.Fields(wire.DecodeLatin1(frame))
	if len(fields) == 0 {
		return
	}
	if a.pmValues == nil {
		a.pmValues = make(map[int]string)
	}
	for i, field := range fields[1:] {
		if prev, seen := a.pmValues[i]; seen && prev == field {
			continue
		}
		a.pmValues[i] = field
		if name, ok := a.TelemetryMap[i]; ok {
			a.push(name, field)
		}
	}
}

// responseRule matches the current state tag against an expected
// acknowledgement prefix and extracts a payload at a fixed offset.
type responseRule struct {
	tag     string
	match   func(line string) bool
	extract func(line string) (key, value string)
	clears  bool
}

var responseRules = []responseRule{
	{
		tag:     "$login token",
		match:   func(line string) bool { return true },
		extract: func(line string) (string, string) { return "TOKEN", strings.TrimPrefix(line, "$") },
		clears:  true,
	},
	{
		tag:    "$apiversion",
		match:  func(line string) bool { return strings.HasPrefix(line, "$") },
		extract: func(line string) (string, string) { return "API", strings.TrimPrefix(line, "$") },
		clears: true,
	},
	{
		tag:    "$setkomm",
		match:  func(line string) bool { return strings.Contains(line, "ack") },
		extract: func(line string) (string, string) {
			v := strings.TrimPrefix(line, "$")
			v = strings.TrimSuffix(v, " ack")
			return "SETKOMM", v
		},
		clears: true,
	},
	{
		tag:    "$asnr get",
		match:  func(line string) bool { return strings.HasPrefix(line, "$") },
		extract: func(line string) (string, string) { return "ASNR", strings.TrimPrefix(line, "$") },
		clears: true,
	},
	{
		tag:    "$igw set",
		match:  func(line string) bool { return strings.Contains(line, "ack") },
		clears: true,
	},
	{
		tag:    "$bootversion",
		match:  func(line string) bool { return strings.HasPrefix(line, "$V") },
		extract: func(line string) (string, string) { return "BOOT", strings.TrimPrefix(line, "$V") },
		clears: true,
	},
	{
		tag:    "$uptime",
		match:  func(line string) bool { return strings.HasPrefix(line, "$") },
		extract: func(line string) (string, string) { return "UPTIME", strings.TrimPrefix(line, "$") },
		clears: true,
	},
	{
		tag:    "$rtc get",
		match:  func(line string) bool { return strings.HasPrefix(line, "$") },
		extract: func(line string) (string, string) { return "RTC", strings.TrimPrefix(line, "$") },
		clears: true,
	},
	{
		tag:    "$par get changed",
		match:  func(line string) bool { return line == "$--" },
		clears: true,
	},
	{
		tag:    "$par get",
		match:  func(line string) bool { return strings.HasPrefix(line, "$") },
		clears: true,
	},
	{
		tag:    "$par get all",
		match:  func(line string) bool { return true },
		clears: true,
	},
	{
		tag:    "$erract",
		match:  func(line string) bool { return true },
		extract: func(line string) (string, string) { return "ERRACT", strings.TrimPrefix(line, "$") },
		clears: true,
	},
}

// parseResponse dispatches a complete response on the current state
// tag. It mirrors the vendor's per-command acknowledgement formats
// (spec.md §4.5, "per-state response parsing") line by line, since a
// single boiler write can carry several CRLF-terminated lines (e.g.
// the $info batch, or "zclient login" followed by "$ack").
func (a *Analyser) parseResponse(state *model.SessionState, full []byte, sessionEndRequested bool) (loginComplete, sessionEndComplete bool) {
	tag := state.StateTag
	for _, line := range wire.SplitLines(full) {
		switch {
		case tag == "$login key":
			if strings.Contains(line, "zclient login") {
				loginComplete = true
			}
			if strings.HasPrefix(line, "$ack") {
				tag = ""
			}
		case tag == "$igw clear":
			if strings.Contains(line, "$ack") {
				if sessionEndRequested {
					sessionEndComplete = true
				}
				tag = ""
			}
		case strings.Contains(line, "$daq stopped"), strings.Contains(line, "logging disabled"),
			strings.Contains(line, "daq started"), strings.Contains(line, "logging enabled"):
			tag = ""
		case tag == "$daq desc":
			if strings.HasPrefix(line, "$<<") && strings.HasSuffix(line, ">>") {
				tag = ""
			}
		case tag == "$info":
			tag = a.parseInfoLine(line, tag)
		default:
			if rule := lookupResponseRule(tag); rule != nil && rule.match(line) {
				if rule.extract != nil {
					key, value := rule.extract(line)
					a.push(key, value)
				}
				if rule.clears {
					tag = ""
				}
			}
		}
	}
	state.StateTag = tag
	return loginComplete, sessionEndComplete
}

// parseInfoLine handles the $info batch, whose single request yields
// five distinct acknowledgement lines (KT/SWV/FWV/SNIO/SNBCE); only the
// last of them clears the state tag.
func (a *Analyser) parseInfoLine(line, tag string) string {
	switch {
	case strings.HasPrefix(line, "$KT:"):
		a.push("KT", strings.TrimPrefix(line, "$KT: "))
	case strings.HasPrefix(line, "$SWV:"):
		a.push("SWV", strings.TrimPrefix(line, "$SWV: "))
	case strings.HasPrefix(line, "$FWV I/O:"):
		a.push("FWV", strings.TrimPrefix(line, "$FWV I/O: "))
	case strings.HasPrefix(line, "$SN I/O:"):
		a.push("SNIO", strings.TrimPrefix(line, "$SN I/O: "))
	case strings.HasPrefix(line, "$SN BCE:"):
		a.push("SNBCE", strings.TrimPrefix(line, "$SN BCE: "))
		return ""
	}
	return tag
}

func lookupResponseRule(tag string) *responseRule {
	for i := range responseRules {
		if responseRules[i].tag == tag {
			return &responseRules[i]
		}
	}
	return nil
}
