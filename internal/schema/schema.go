// Package schema versions the wire formats the compiler emits: the
// structured diagnostic record, the MIR text dump, and the SMT
// obligation dump. Consumers check versions through the registry
// instead of guessing from shape.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Known schema identifiers.
const (
	DiagnosticV1 = "bmb.diagnostic/v1"
	MIRDumpV1    = "bmb.mir/v1"
	ObligationV1 = "bmb.obligation/v1"
)

var registry = map[string]bool{
	DiagnosticV1: true,
	MIRDumpV1:    true,
	ObligationV1: true,
}

// Known reports whether a schema identifier is registered. Unknown
// names are rejected rather than passed through.
func Known(name string) bool { return registry[name] }

// Accepts checks compatibility: an exact match, or a sub-version of
// the requested major (want "bmb.x/v1" accepts got "bmb.x/v1.2").
func Accepts(got, want string) bool {
	if got == want {
		return true
	}
	return strings.HasPrefix(got, want+".")
}

// MarshalDeterministic renders a value as JSON with sorted keys and no
// HTML escaping, so identical inputs produce byte-identical output.
func MarshalDeterministic(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return data, nil // not an object; already deterministic
	}
	return marshalSorted(m)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, el := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalSorted(el)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
	}
}
