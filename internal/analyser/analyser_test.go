package analyser

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hargassner/hproxy/internal/bus"
	"github.com/hargassner/hproxy/internal/model"
)

func newTestAnalyser(t *testing.T) (*Analyser, *bus.Bus, *bus.Queue) {
	t.Helper()
	b := bus.New(16)
	q := b.Subscribe(bus.ChannelInfo, "test")
	a := &Analyser{
		Bus:        b,
		Log:        logrus.NewEntry(logrus.New()),
		ScanPeriod: 100 * time.Millisecond,
		TelemetryMap: map[int]string{
			0: "BOILER_TEMP",
			1: "FLUE_TEMP",
		},
	}
	return a, b, q
}

func TestParseRequestRecognisesLoginToken(t *testing.T) {
	a, _, _ := newTestAnalyser(t)
	tag, end := a.ParseRequest([]byte("$login token\r\n"))
	assert.Equal(t, "$login token", tag)
	assert.False(t, end)
}

func TestParseRequestPublishesLoginKey(t *testing.T) {
	a, _, q := newTestAnalyser(t)
	tag, _ := a.ParseRequest([]byte("$login key 137171BD\r\n"))
	assert.Equal(t, "$login key", tag)

	msg, ok := q.Listen(time.Second)
	require.True(t, ok)
	pair := msg.Payload.(bus.InfoPair)
	assert.Equal(t, "KEY", pair.Key)
	assert.Equal(t, "137171BD", pair.Value)
}

func TestParseRequestIgwClearSignalsSessionEnd(t *testing.T) {
	a, _, _ := newTestAnalyser(t)
	tag, end := a.ParseRequest([]byte("$igw clear\r\n"))
	assert.Equal(t, "$igw clear", tag)
	assert.True(t, end)
}

func TestParseRequestUnrecognisedIsPassthrough(t *testing.T) {
	a, _, _ := newTestAnalyser(t)
	tag, end := a.ParseRequest([]byte("get services"))
	assert.Equal(t, "passthrough", tag)
	assert.False(t, end)
}

func TestAnalyseResponseLoginHandshake(t *testing.T) {
	a, _, q := newTestAnalyser(t)
	state := &model.SessionState{StateTag: "$login token"}

	login, end := a.AnalyseResponse(state, []byte("$3313C1F2\r\n"), false)
	assert.False(t, login)
	assert.False(t, end)
	assert.Equal(t, "", state.StateTag)

	msg, ok := q.Listen(time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.InfoPair{Key: "TOKEN", Value: "3313C1F2"}, msg.Payload)

	state.StateTag = "$login key"
	login, end = a.AnalyseResponse(state, []byte("zclient login (7421)\r\n$ack\r\n"), false)
	assert.True(t, login)
	assert.False(t, end)
	assert.Equal(t, "", state.StateTag)
}

func TestAnalyseResponseSessionEndComplete(t *testing.T) {
	a, _, _ := newTestAnalyser(t)
	state := &model.SessionState{StateTag: "$igw clear"}
	login, end := a.AnalyseResponse(state, []byte("$ack\r\n"), true)
	assert.False(t, login)
	assert.True(t, end)
}

func TestAnalyseResponseSplitAcrossReads(t *testing.T) {
	a, _, q := newTestAnalyser(t)
	state := &model.SessionState{StateTag: "$uptime"}

	login, end := a.AnalyseResponse(state, []byte("$00"), false)
	assert.False(t, login)
	assert.False(t, end)
	assert.Equal(t, "$uptime", state.StateTag) // still waiting for the CRLF

	login, end = a.AnalyseResponse(state, []byte("12\r\n"), false)
	assert.False(t, login)
	assert.False(t, end)
	assert.Equal(t, "", state.StateTag)

	msg, ok := q.Listen(time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.InfoPair{Key: "UPTIME", Value: "0012"}, msg.Payload)
}

func TestAnalyseResponseFramedEnvelopeNotParsed(t *testing.T) {
	a, _, _ := newTestAnalyser(t)
	state := &model.SessionState{StateTag: "$daq desc"}
	login, end := a.AnalyseResponse(state, []byte("$<<<DAQPRJ>huge payload>>>\r\n"), false)
	assert.False(t, login)
	assert.False(t, end)
	assert.Equal(t, "", state.StateTag)
}

func TestAnalyseResponseStreamingRateLimited(t *testing.T) {
	a, _, q := newTestAnalyser(t)
	state := &model.SessionState{}

	login, end := a.AnalyseResponse(state, []byte("pm 10.5 20.1 3\r\n"), false)
	assert.False(t, login)
	assert.False(t, end)

	msg, ok := q.Listen(time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.InfoPair{Key: "BOILER_TEMP", Value: "10.5"}, msg.Payload)

	msg, ok = q.Listen(time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.InfoPair{Key: "FLUE_TEMP", Value: "20.1"}, msg.Payload)

	// A second frame arriving immediately, well within the scan period,
	// must be discarded (spec.md §4.5, §8 scenario 5).
	a.AnalyseResponse(state, []byte("pm 11.0 20.1 3\r\n"), false)
	_, ok = q.Listen(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestAnalyseResponseStreamingSplitAcrossReads(t *testing.T) {
	a, _, q := newTestAnalyser(t)
	state := &model.SessionState{}

	login, end := a.AnalyseResponse(state, []byte("pm 10.5 "), false)
	assert.False(t, login)
	assert.False(t, end)
	assert.Equal(t, model.ReassemblyStreaming, state.Mode)

	login, end = a.AnalyseResponse(state, []byte("20.1 3\r\n"), false)
	assert.False(t, login)
	assert.False(t, end)
	assert.Equal(t, model.ReassemblyNormal, state.Mode)

	msg, ok := q.Listen(time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.InfoPair{Key: "BOILER_TEMP", Value: "10.5"}, msg.Payload)
}
