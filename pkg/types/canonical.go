package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON re-encodes arbitrary JSON (an object, array, or scalar) with
// object keys sorted and no insignificant whitespace. All content-address
// hashing in this package goes through this function so that hashes are
// stable across platforms and independent of map iteration order or the
// original byte-for-byte formatting of input JSON.
//
// raw may be nil, in which case CanonicalJSON returns the canonical
// encoding of JSON null.
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical json: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalJSONValue canonicalizes a Go value (map[string]interface{},
// []interface{}, or a scalar) directly, without a round trip through
// encoding/json's default marshaling order.
func CanonicalJSONValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		// Strings, bools, and json.Number all marshal deterministically
		// and without insignificant whitespace via encoding/json.
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// CanonicalJSONSize returns the byte length of the canonical encoding of
// raw, used for the protocol's size ceilings (output/input data, block
// data) and for fee computation (100 x size(canonical_json(data))).
func CanonicalJSONSize(raw json.RawMessage) (int, error) {
	c, err := CanonicalJSON(raw)
	if err != nil {
		return 0, err
	}
	return len(c), nil
}
