// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for every hashed or signed structure in a shard: manifests,
// identity inputs, registry documents, and lockfiles.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/gowebpki/jcs"
)

// ErrCanonInvalid corresponds to E_CANON_INVALID: an input containing
// non-finite floats or non-string object keys.
var ErrCanonInvalid = errors.New("canonicalize: E_CANON_INVALID")

// JCS returns the RFC 8785 canonical JSON encoding of v: object keys in
// ascending UTF-8 order, no insignificant whitespace, minimal number
// formatting, unescaped non-ASCII text.
//
// v is first marshaled with the standard encoder (so struct tags are
// honored) and then transformed into canonical form by the gowebpki/jcs
// library, which implements the RFC 8785 number- and string-formatting
// rules precisely.
func JCS(v interface{}) ([]byte, error) {
	if err := rejectNonFinite(v); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: pre-marshal failed: %v", ErrCanonInvalid, err)
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanonInvalid, err)
	}
	return out, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical encoding of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// rejectNonFinite walks v (which may be a struct, map, slice, or scalar)
// looking for NaN/Inf float64 values, which encoding/json would otherwise
// reject deep in Marshal with a less specific error. Non-string map keys
// are rejected naturally by json.Marshal for map[T]V with T not a string
// or integer type; Go's own json package already enforces that. This pass
// covers float32/float64 scalars and floats nested in map[string]interface{}
// and []interface{} values; it does not walk structs, whose non-finite
// float fields are instead caught by json.Marshal and reported by JCS as
// ErrCanonInvalid.
func rejectNonFinite(v interface{}) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: non-finite float", ErrCanonInvalid)
		}
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite float", ErrCanonInvalid)
		}
	case map[string]interface{}:
		for _, val := range t {
			if err := rejectNonFinite(val); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, val := range t {
			if err := rejectNonFinite(val); err != nil {
				return err
			}
		}
	}
	return nil
}

// Equal reports whether two values canonicalize to byte-identical JSON.
func Equal(a, b interface{}) (bool, error) {
	ab, err := JCS(a)
	if err != nil {
		return false, err
	}
	bb, err := JCS(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}
