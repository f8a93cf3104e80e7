package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParameterSelect(t *testing.T) {
	line := "$PR001;6;2;4;1;0;0;0;Mode;Manu;Arr;Ballon;Auto;Arr combustion;0;\r\n"

	p, err := ParseParameter(line)
	require.NoError(t, err)

	assert.Equal(t, ParameterSelect, p.Kind)
	assert.Equal(t, "PR001", p.ID)
	assert.Equal(t, "Mode", p.Name)
	assert.Equal(t, []string{"Manu", "Arr", "Ballon", "Auto", "Arr combustion"}, p.Options)
	assert.Equal(t, 2, p.CurrentIndex)
	assert.Equal(t, 1, p.DefaultIndex)
}

func TestParseParameterNumber(t *testing.T) {
	line := "$4;3;20.5;10;30;0.5;C;21;0;0;0;Room setpoint;\r\n"

	p, err := ParseParameter(line)
	require.NoError(t, err)

	assert.Equal(t, ParameterNumber, p.Kind)
	assert.Equal(t, "4", p.ID)
	assert.Equal(t, "Room setpoint", p.Name)
	assert.Equal(t, 20.5, p.Current)
	assert.Equal(t, 10.0, p.Min)
	assert.Equal(t, 30.0, p.Max)
	assert.Equal(t, 0.5, p.Step)
	assert.Equal(t, "C", p.Unit)
	assert.Equal(t, 21.0, p.Default)
}

func TestParseParameterRejectsUnknownKind(t *testing.T) {
	_, err := ParseParameter("$PR001;9;1;2;3;\r\n")
	assert.Error(t, err)
}

func TestParseParameterRejectsMalformedLine(t *testing.T) {
	_, err := ParseParameter("not-a-parameter-line")
	assert.Error(t, err)
}

// TestSelectParameterRoundTrip exercises spec.md §8's round-trip
// property: parsing a select-parameter line, re-serialising it, and
// parsing again yields the same record.
func TestSelectParameterRoundTrip(t *testing.T) {
	line := "$PR001;6;2;4;1;0;0;0;Mode;Manu;Arr;Ballon;Auto;Arr combustion;0;"

	first, err := ParseParameter(line)
	require.NoError(t, err)

	second, err := ParseParameter(first.Serialize())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNumberParameterRoundTrip(t *testing.T) {
	line := "$4;3;20.5;10;30;0.5;C;21;0;0;0;Room setpoint;"

	first, err := ParseParameter(line)
	require.NoError(t, err)

	second, err := ParseParameter(first.Serialize())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
