// Package strand chains recurrence values into per-strand SHA-256 commitments.
package strand

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/davidahmann/hashhelix/core/recurrence"
)

type Digest [32]byte

// Genesis is the all-zero hash preceding the first appended entry.
var Genesis Digest

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

func (d Digest) IsZero() bool {
	return d == Genesis
}

func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

func (d *Digest) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("digest must be a hex string: %w", err)
	}
	parsed, err := ParseDigest(value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func ParseDigest(value string) (Digest, error) {
	var digest Digest
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return digest, fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) != len(digest) {
		return digest, fmt.Errorf("digest must be 32 bytes, got %d", len(raw))
	}
	copy(digest[:], raw)
	return digest, nil
}

// Hash returns sha256(decimal(value) || "|" || payload || prev).
func Hash(value int64, payload string, prev Digest) Digest {
	h := sha256.New()
	_, _ = h.Write([]byte(strconv.FormatInt(value, 10)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(payload))
	_, _ = h.Write(prev[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Commit is commutative: the pair is byte-sorted before hashing.
func Commit(a, b Digest) Digest {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return sha256.Sum256(buf[:])
}

// Chain is the running state of one strand.
type Chain struct {
	Sign      recurrence.Sign
	Quantizer recurrence.Quantizer
	Step      int64
	Value     int64
	Hash      Digest
}

// NewChain returns a strand at genesis: step 1, value 1, zero hash.
func NewChain(sign recurrence.Sign, quantizer recurrence.Quantizer) Chain {
	return Chain{Sign: sign, Quantizer: quantizer, Step: 1, Value: 1, Hash: Genesis}
}

// Link is one advanced step of a strand.
type Link struct {
	Step     int64
	Value    int64
	PrevHash Digest
	Hash     Digest
}

// Next computes the following link without mutating the chain.
func (c Chain) Next(payload string) (Link, error) {
	step := c.Step + 1
	value, err := recurrence.SpiralWith(c.Value, step, c.Sign, c.Quantizer)
	if err != nil {
		return Link{}, err
	}
	return Link{
		Step:     step,
		Value:    value,
		PrevHash: c.Hash,
		Hash:     Hash(value, payload, c.Hash),
	}, nil
}

// Advance applies a link produced by Next.
func (c *Chain) Advance(link Link) {
	c.Step = link.Step
	c.Value = link.Value
	c.Hash = link.Hash
}
