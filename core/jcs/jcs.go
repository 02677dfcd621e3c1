// Package jcs computes RFC 8785 canonical forms and their sha256 digests.
// Canonical digests identify JSON artifacts independently of whitespace and
// key order.
package jcs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

func DigestJCS(input []byte) (string, error) {
	canonical, err := CanonicalizeJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// DigestValue marshals v with encoding/json and digests the canonical form.
func DigestValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return DigestJCS(raw)
}

// Equivalent reports whether two JSON documents share a canonical form.
func Equivalent(a, b []byte) (bool, error) {
	left, err := DigestJCS(a)
	if err != nil {
		return false, err
	}
	right, err := DigestJCS(b)
	if err != nil {
		return false, err
	}
	return left == right, nil
}
