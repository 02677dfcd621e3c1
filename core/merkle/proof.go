package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ProofStep is one sibling on the path from leaf to root. Left reports
// whether the sibling sits to the left of the running hash.
type ProofStep struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

type Proof struct {
	Index     int         `json:"index"`
	LeafCount int         `json:"leaf_count"`
	Leaf      string      `json:"leaf"`
	Steps     []ProofStep `json:"steps"`
}

// Prove builds an inclusion proof for leaves[index] under Root(leaves).
func Prove(leaves [][]byte, index int) (Proof, error) {
	digests := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		digests[i] = sha256.Sum256(leaf)
	}
	return ProveDigests(digests, index)
}

// ProveDigests builds an inclusion proof under RootFromDigests(digests).
func ProveDigests(digests [][32]byte, index int) (Proof, error) {
	if index < 0 || index >= len(digests) {
		return Proof{}, fmt.Errorf("leaf index %d out of range [0,%d)", index, len(digests))
	}
	proof := Proof{
		Index:     index,
		LeafCount: len(digests),
		Leaf:      hex.EncodeToString(digests[index][:]),
	}
	layer := make([][32]byte, len(digests))
	copy(layer, digests)
	position := index
	for len(layer) > 1 {
		siblingIndex := position ^ 1
		var sibling [32]byte
		if siblingIndex < len(layer) {
			sibling = layer[siblingIndex]
		} else {
			sibling = layer[position]
		}
		proof.Steps = append(proof.Steps, ProofStep{
			Sibling: hex.EncodeToString(sibling[:]),
			Left:    position%2 == 1,
		})

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
		position /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from proof.Leaf and compares it to root.
func VerifyProof(proof Proof, root string) (bool, error) {
	running, err := DecodeHexDigest(proof.Leaf)
	if err != nil {
		return false, fmt.Errorf("leaf: %w", err)
	}
	expected, err := DecodeHexDigest(root)
	if err != nil {
		return false, fmt.Errorf("root: %w", err)
	}
	for i, step := range proof.Steps {
		sibling, err := DecodeHexDigest(step.Sibling)
		if err != nil {
			return false, fmt.Errorf("step %d: %w", i, err)
		}
		if step.Left {
			running = HashPair(sibling, running)
		} else {
			running = HashPair(running, sibling)
		}
	}
	return running == expected, nil
}
