package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
	"github.com/davidahmann/hashhelix/core/strand"
)

type Variant string

const (
	VariantSingle Variant = "single"
	VariantChiral Variant = "chiral"
)

func ParseVariant(value string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(value))) {
	case VariantSingle:
		return VariantSingle, nil
	case "", VariantChiral, "dual":
		return VariantChiral, nil
	default:
		return "", fmt.Errorf("unsupported ledger variant %q", value)
	}
}

// StrandEntry holds one strand's stored fields. Hashes stay as the stored hex
// so replay compares exactly what was persisted.
type StrandEntry struct {
	Value    int64  `json:"value"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Entry is a persisted ledger record of either variant. Minus and Commit are
// set only for chiral ledgers.
type Entry struct {
	N      int64        `json:"n"`
	TS     float64      `json:"ts"`
	Data   string       `json:"data"`
	Plus   StrandEntry  `json:"plus"`
	Minus  *StrandEntry `json:"minus,omitempty"`
	Commit string       `json:"commit,omitempty"`
}

func (e Entry) Variant() Variant {
	if e.Minus != nil {
		return VariantChiral
	}
	return VariantSingle
}

// Commitment is the digest an entry contributes to a checkpoint segment:
// the chiral commit, or the strand hash for single ledgers.
func (e Entry) Commitment() (strand.Digest, error) {
	if e.Minus != nil {
		return strand.ParseDigest(e.Commit)
	}
	return strand.ParseDigest(e.Plus.Hash)
}

// Record returns the on-disk record shape for the entry's variant.
func (e Entry) Record() any {
	if e.Minus == nil {
		return helix.LedgerRecord{
			N:     e.N,
			TS:    e.TS,
			A:     e.Plus.Value,
			Data:  e.Data,
			HPrev: e.Plus.PrevHash,
			H:     e.Plus.Hash,
		}
	}
	return helix.ChiralRecord{
		N:          e.N,
		TS:         e.TS,
		Data:       e.Data,
		APlus:      e.Plus.Value,
		AMinus:     e.Minus.Value,
		HPlusPrev:  e.Plus.PrevHash,
		HMinusPrev: e.Minus.PrevHash,
		HPlus:      e.Plus.Hash,
		HMinus:     e.Minus.Hash,
		Commit:     e.Commit,
	}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

func encodeEntry(entry Entry) ([]byte, error) {
	return json.Marshal(entry.Record())
}

func decodeEntry(variant Variant, line []byte) (Entry, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.DisallowUnknownFields()
	switch variant {
	case VariantSingle:
		var record helix.LedgerRecord
		if err := decoder.Decode(&record); err != nil {
			return Entry{}, err
		}
		return Entry{
			N:    record.N,
			TS:   record.TS,
			Data: record.Data,
			Plus: StrandEntry{Value: record.A, PrevHash: record.HPrev, Hash: record.H},
		}, nil
	case VariantChiral:
		var record helix.ChiralRecord
		if err := decoder.Decode(&record); err != nil {
			return Entry{}, err
		}
		return Entry{
			N:      record.N,
			TS:     record.TS,
			Data:   record.Data,
			Plus:   StrandEntry{Value: record.APlus, PrevHash: record.HPlusPrev, Hash: record.HPlus},
			Minus:  &StrandEntry{Value: record.AMinus, PrevHash: record.HMinusPrev, Hash: record.HMinus},
			Commit: record.Commit,
		}, nil
	default:
		return Entry{}, fmt.Errorf("unsupported ledger variant %q", variant)
	}
}

// scanEntries calls fn for every non-blank line in order. Returning false from
// fn stops the scan.
func scanEntries(reader io.Reader, variant Variant, fn func(line int, entry Entry) bool) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		entry, err := decodeEntry(variant, raw)
		if err != nil {
			return coreerrors.Format("ledger_record_invalid", "ledger line %d is not a %s record: %v", lineNo, variant, err)
		}
		if !fn(lineNo, entry) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return coreerrors.IO(fmt.Errorf("read ledger: %w", err), "ledger_read_failed")
	}
	return nil
}
