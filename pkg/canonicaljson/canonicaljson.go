// Package canonicaljson produces a deterministic JSON serialization for
// hashing and signing. Object keys are sorted bytewise and no insignificant
// whitespace is emitted, so the same logical payload always canonicalizes to
// the same bytes regardless of input ordering or the process that produced
// it. Integrity records are only comparable across service boundaries when
// both sides canonicalize with this package.
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal serializes v to canonical JSON. The value is first round-tripped
// through encoding/json so struct tags and custom marshalers apply, then
// re-emitted with sorted object keys.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	return Transform(raw)
}

// Transform rewrites an existing JSON document into canonical form.
func Transform(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Preserve numbers verbatim; converting through float64 would change
	// the textual representation of large integers.
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicaljson: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return encodeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicaljson: unsupported type %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	// encoding/json escapes deterministically for a given string, so its
	// output is canonical as long as we use it for every string.
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("canonicaljson: encode string: %w", err)
	}
	buf.Write(b)
	return nil
}
