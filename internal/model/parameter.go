package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// selectFieldsBeforeName is the number of fixed fields preceding the
// name field in a select-parameter record: id, kind, current, max,
// default, and three reserved zeroes (spec.md §6).
const selectFieldsBeforeName = 8

// numberFieldsBeforeName is the same count for a number-parameter
// record: id, kind, current, min, max, step, unit, default, and three
// reserved zeroes.
const numberFieldsBeforeName = 11

// ParseParameter decodes one boiler-parameter response line (spec.md
// §6's semicolon-separated record formats) into a BoilerParameter.
// The second field distinguishes the two wire shapes: "6" is a select
// parameter, "3" is a numeric parameter.
func ParseParameter(line string) (BoilerParameter, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ";")
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "$") {
		return BoilerParameter{}, errors.Errorf("model: malformed parameter line %q", line)
	}
	id := strings.TrimPrefix(fields[0], "$")

	switch fields[1] {
	case "6":
		return parseSelectParameter(id, fields)
	case "3":
		return parseNumberParameter(id, fields)
	default:
		return BoilerParameter{}, errors.Errorf("model: unknown parameter kind %q in %q", fields[1], line)
	}
}

// parseSelectParameter decodes
// $PR<nnn>;6;<current>;<max>;<default>;0;0;0;<name>;<option1>;…;<optionN>;0;
func parseSelectParameter(id string, fields []string) (BoilerParameter, error) {
	if len(fields) < selectFieldsBeforeName+1 {
		return BoilerParameter{}, errors.Errorf("model: short select-parameter record for %q", id)
	}

	current, err := strconv.Atoi(fields[2])
	if err != nil {
		return BoilerParameter{}, errors.Wrapf(err, "model: parsing current index for %q", id)
	}
	defaultIdx, err := strconv.Atoi(fields[4])
	if err != nil {
		return BoilerParameter{}, errors.Wrapf(err, "model: parsing default index for %q", id)
	}
	name := fields[selectFieldsBeforeName]

	// The record ends with a trailing "0" sentinel, then an empty
	// field produced by the line's own terminating ";"; both are
	// stripped to recover the option list.
	options := append([]string(nil), fields[selectFieldsBeforeName+1:]...)
	for len(options) > 0 && (options[len(options)-1] == "" || options[len(options)-1] == "0") {
		options = options[:len(options)-1]
	}

	return BoilerParameter{
		Kind:         ParameterSelect,
		ID:           id,
		Name:         name,
		Options:      options,
		CurrentIndex: current,
		DefaultIndex: defaultIdx,
	}, nil
}

// parseNumberParameter decodes
// $<id>;3;<current>;<min>;<max>;<step>;<unit>;<default>;0;0;0;<name>;
func parseNumberParameter(id string, fields []string) (BoilerParameter, error) {
	if len(fields) < numberFieldsBeforeName+1 {
		return BoilerParameter{}, errors.Errorf("model: short number-parameter record for %q", id)
	}

	values := make([]float64, 5)
	for i, idx := range []int{2, 3, 4, 5, 7} {
		v, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return BoilerParameter{}, errors.Wrapf(err, "model: parsing field %d for %q", idx, id)
		}
		values[i] = v
	}

	return BoilerParameter{
		Kind:    ParameterNumber,
		ID:      id,
		Name:    fields[numberFieldsBeforeName],
		Current: values[0],
		Min:     values[1],
		Max:     values[2],
		Step:    values[3],
		Unit:    fields[6],
		Default: values[4],
	}, nil
}

// Serialize re-encodes p in the canonical wire format spec.md §6
// describes, the inverse of ParseParameter. Used to satisfy spec.md
// §8's round-trip property: parse, serialise, parse again yields the
// same record.
func (p BoilerParameter) Serialize() string {
	switch p.Kind {
	case ParameterSelect:
		fields := []string{
			"$" + p.ID, "6",
			strconv.Itoa(p.CurrentIndex), strconv.Itoa(len(p.Options) - 1), strconv.Itoa(p.DefaultIndex),
			"0", "0", "0", p.Name,
		}
		fields = append(fields, p.Options...)
		fields = append(fields, "0")
		return strings.Join(fields, ";") + ";"

	case ParameterNumber:
		fields := []string{
			"$" + p.ID, "3",
			formatParameterFloat(p.Current), formatParameterFloat(p.Min), formatParameterFloat(p.Max),
			formatParameterFloat(p.Step), p.Unit, formatParameterFloat(p.Default),
			"0", "0", "0", p.Name,
		}
		return strings.Join(fields, ";") + ";"
	}
	return ""
}

// formatParameterFloat renders a numeric field in its shortest exact
// decimal form with no trailing zeroes, so a value with up to three
// fractional digits (spec.md §3) round-trips unchanged. The number of
// fractional digits is not capped.
func formatParameterFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
