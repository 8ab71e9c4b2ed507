// Package canon implements deterministic canonical encoding and content
// hashing for the JSON-compatible values that flow through the engine:
// input payloads, resolved-input sets, blueprint fragments, and manifests.
//
// Canonical form fixes object key order, number formatting, and string
// encoding so that two semantically equal values always produce identical
// bytes, and therefore identical hashes, regardless of how they were
// constructed or decoded.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Hash returns the hex-encoded SHA-256 digest of v's canonical encoding.
func Hash(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of raw bytes. Used when
// the caller already holds canonical bytes (e.g. blob content) and only
// needs the digest, such as when hashing raw blob data rather than a
// JSON-compatible value.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Encode produces the canonical byte form of v: a value that round-trips
// through encoding/json (so v may be a map[string]any, []any, string,
// float64/json.Number, bool, nil, or a struct/pointer encodeable via
// json.Marshal). Object keys are sorted lexicographically, arrays preserve
// order, numbers are written in their shortest unambiguous form, and
// strings are escaped as encoding/json escapes them (including its HTML-safe
// escaping of <, > and & and of U+2028/U+2029).
func Encode(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf, err = appendCanonical(buf, norm)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// normalize round-trips v through encoding/json using UseNumber so that
// numeric literals retain their original textual form until re-encoded,
// and so that arbitrary struct types are reduced to the
// map[string]any/[]any/json.Number/string/bool/nil universe canon operates
// over.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canon: decode value: %w", err)
	}
	return out, nil
}

func appendCanonical(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case json.Number:
		return appendCanonicalNumber(buf, t)
	case string:
		return appendCanonicalString(buf, t), nil
	case []any:
		buf = append(buf, '[')
		for i, elem := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendCanonical(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonicalString(buf, k)
			buf = append(buf, ':')
			var err error
			buf, err = appendCanonical(buf, t[k])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("canon: unsupported value type %T", v)
	}
}

// appendCanonicalNumber re-renders a JSON number in its shortest unambiguous
// form: integral values that fit exactly are written without a decimal
// point or exponent, everything else uses Go's shortest round-tripping
// float format.
func appendCanonicalNumber(buf []byte, n json.Number) ([]byte, error) {
	if i, err := n.Int64(); err == nil {
		return strconv.AppendInt(buf, i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("canon: invalid number %q: %w", n.String(), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canon: number %q is not finite", n.String())
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

func appendCanonicalString(buf []byte, s string) []byte {
	b, _ := json.Marshal(s)
	return append(buf, b...)
}

