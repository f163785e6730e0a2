// Package redact strips sensitive fields from outbound payloads and produces
// stable content hashes over the redacted form. The hash feeds outbox
// idempotency keys, so two payloads that differ only in key order or secret
// values must hash identically.
package redact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Scheme tags every hash this package produces. Bump on any change to
// canonicalization or the denylist so old and new hashes never collide.
const Scheme = "sha256:cjson:v1"

// Redactor strips secrets from a payload and hashes the result.
type Redactor interface {
	Redact(payload []byte) (*Result, error)
}

// Result is the outcome of redacting one payload.
type Result struct {
	JSON            []byte
	FieldsRemoved   []string
	SecretsDetected bool
	PayloadHash     string
	Scheme          string
}

// defaultDenylist holds field names removed from payloads regardless of
// nesting depth. Matching is case-insensitive.
var defaultDenylist = []string{
	"token",
	"access_token",
	"refresh_token",
	"authorization",
	"password",
	"secret",
	"client_secret",
	"private_key",
	"api_key",
}

// FieldRedactor removes denylisted fields and hashes the canonical JSON of
// what remains. The zero value uses the default denylist.
type FieldRedactor struct {
	Denylist []string
}

// New returns a FieldRedactor with the default denylist.
func New() *FieldRedactor {
	return &FieldRedactor{Denylist: defaultDenylist}
}

// Redact removes denylisted fields at any depth, canonicalizes the result
// (sorted keys, no insignificant whitespace), and hashes it.
func (r *FieldRedactor) Redact(payload []byte) (*Result, error) {
	denylist := r.Denylist
	if denylist == nil {
		denylist = defaultDenylist
	}

	var value any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var removed []string
	cleaned := strip(value, denylist, "", &removed)

	canonical, err := marshalCanonical(cleaned)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return &Result{
		JSON:            canonical,
		FieldsRemoved:   removed,
		SecretsDetected: len(removed) > 0,
		PayloadHash:     Scheme + ":" + hex.EncodeToString(sum[:]),
		Scheme:          Scheme,
	}, nil
}

// Hash is a convenience that redacts and returns only the payload hash.
func (r *FieldRedactor) Hash(payload []byte) (string, error) {
	res, err := r.Redact(payload)
	if err != nil {
		return "", err
	}
	return res.PayloadHash, nil
}

func strip(v any, denylist []string, path string, removed *[]string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if denied(k, denylist) {
				*removed = append(*removed, childPath)
				continue
			}
			out[k] = strip(child, denylist, childPath, removed)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = strip(child, denylist, fmt.Sprintf("%s[%d]", path, i), removed)
		}
		return out
	default:
		return v
	}
}

func denied(field string, denylist []string) bool {
	for _, d := range denylist {
		if strings.EqualFold(field, d) {
			return true
		}
	}
	return false
}

// marshalCanonical writes v as JSON with object keys sorted and no extra
// whitespace. encoding/json already sorts map keys; the walk here makes sure
// nothing but maps, slices, and scalars reach the encoder.
func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
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
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, child := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
