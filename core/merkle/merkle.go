// Package merkle computes binary SHA-256 Merkle roots where an odd layer
// pairs its last node with itself.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// EmptyRoot is sha256 of the empty byte string.
var EmptyRoot = sha256.Sum256(nil)

// Root hashes every leaf, then folds the layer pairwise.
func Root(leaves [][]byte) [32]byte {
	if len(leaves) == 0 {
		return EmptyRoot
	}
	layer := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		layer[i] = sha256.Sum256(leaf)
	}
	return fold(layer)
}

func RootHex(leaves [][]byte) string {
	root := Root(leaves)
	return hex.EncodeToString(root[:])
}

// RootFromDigests treats the digests as the leaf layer without re-hashing.
func RootFromDigests(digests [][32]byte) [32]byte {
	if len(digests) == 0 {
		return EmptyRoot
	}
	layer := make([][32]byte, len(digests))
	copy(layer, digests)
	return fold(layer)
}

func RootFromHexDigests(values []string) (string, error) {
	digests, err := DecodeHexDigests(values)
	if err != nil {
		return "", err
	}
	root := RootFromDigests(digests)
	return hex.EncodeToString(root[:]), nil
}

func DecodeHexDigests(values []string) ([][32]byte, error) {
	digests := make([][32]byte, len(values))
	for i, value := range values {
		digest, err := DecodeHexDigest(value)
		if err != nil {
			return nil, fmt.Errorf("digest %d: %w", i, err)
		}
		digests[i] = digest
	}
	return digests, nil
}

func DecodeHexDigest(value string) ([32]byte, error) {
	var digest [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return digest, fmt.Errorf("decode hex digest: %w", err)
	}
	if len(raw) != len(digest) {
		return digest, fmt.Errorf("digest must be 32 bytes, got %d", len(raw))
	}
	copy(digest[:], raw)
	return digest, nil
}

func HashPair(left, right [32]byte) [32]byte {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return sha256.Sum256(buf[:])
}

func fold(layer [][32]byte) [32]byte {
	for len(layer) > 1 {
		next := make([][32]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, HashPair(left, right))
		}
		layer = next
	}
	return layer[0]
}
