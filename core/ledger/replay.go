package ledger

import (
	"fmt"
	"os"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/recurrence"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
	"github.com/davidahmann/hashhelix/core/strand"
)

// Failure locates the first field whose recomputed value disagrees with the
// stored one.
type Failure struct {
	Line     int    `json:"line"`
	N        int64  `json:"n"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (f Failure) String() string {
	return fmt.Sprintf("line %d n=%d %s: expected %s, got %s", f.Line, f.N, f.Field, f.Expected, f.Actual)
}

type ReplayResult struct {
	Path    string   `json:"path"`
	Variant Variant  `json:"variant"`
	FromN   int64    `json:"from_n"`
	Entries int      `json:"entries_checked"`
	HeadN   int64    `json:"head_n"`
	OK      bool     `json:"ok"`
	Failure *Failure `json:"failure,omitempty"`
}

type replayer struct {
	variant Variant
	plus    strand.Chain
	minus   strand.Chain
}

func newReplayer(variant Variant, quantizer recurrence.Quantizer) *replayer {
	return &replayer{
		variant: variant,
		plus:    strand.NewChain(recurrence.Plus, quantizer),
		minus:   strand.NewChain(recurrence.Minus, quantizer),
	}
}

func (r *replayer) fieldNames(sign recurrence.Sign) (value, prev, hash string) {
	if r.variant == VariantSingle {
		return "a", "h_prev", "h"
	}
	if sign == recurrence.Minus {
		return "a_minus", "h_minus_prev", "h_minus"
	}
	return "a_plus", "h_plus_prev", "h_plus"
}

// check recomputes one entry and advances the replay state when it matches.
func (r *replayer) check(line int, entry Entry) *Failure {
	fail := func(field, expected, actual string) *Failure {
		return &Failure{Line: line, N: entry.N, Field: field, Expected: expected, Actual: actual}
	}
	expectedN := r.plus.Step + 1
	if entry.N != expectedN {
		return fail("n", formatInt(expectedN), formatInt(entry.N))
	}
	plusLink, err := r.plus.Next(entry.Data)
	if err != nil {
		return fail("n", formatInt(expectedN), err.Error())
	}
	if failure := r.compareStrand(line, entry, recurrence.Plus, plusLink, entry.Plus); failure != nil {
		return failure
	}
	var minusLink strand.Link
	if r.variant == VariantChiral {
		minusLink, err = r.minus.Next(entry.Data)
		if err != nil {
			return fail("n", formatInt(expectedN), err.Error())
		}
		if entry.Minus == nil {
			return fail("a_minus", formatInt(minusLink.Value), "absent")
		}
		if failure := r.compareStrand(line, entry, recurrence.Minus, minusLink, *entry.Minus); failure != nil {
			return failure
		}
		commit := strand.Commit(plusLink.Hash, minusLink.Hash).Hex()
		if entry.Commit != commit {
			return fail("commit", commit, entry.Commit)
		}
	}
	r.plus.Advance(plusLink)
	if r.variant == VariantChiral {
		r.minus.Advance(minusLink)
	}
	return nil
}

func (r *replayer) compareStrand(line int, entry Entry, sign recurrence.Sign, link strand.Link, stored StrandEntry) *Failure {
	valueField, prevField, hashField := r.fieldNames(sign)
	if stored.Value != link.Value {
		return &Failure{Line: line, N: entry.N, Field: valueField, Expected: formatInt(link.Value), Actual: formatInt(stored.Value)}
	}
	if stored.PrevHash != link.PrevHash.Hex() {
		return &Failure{Line: line, N: entry.N, Field: prevField, Expected: link.PrevHash.Hex(), Actual: stored.PrevHash}
	}
	if stored.Hash != link.Hash.Hex() {
		return &Failure{Line: line, N: entry.N, Field: hashField, Expected: link.Hash.Hex(), Actual: stored.Hash}
	}
	return nil
}

// Replay recomputes every entry from genesis and stops at the first
// disagreement. Malformed records abort with a format error.
func Replay(path string, opts Options) (ReplayResult, error) {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return ReplayResult{}, err
	}
	r := newReplayer(opts.Variant, opts.Quantizer)
	result := ReplayResult{Path: path, Variant: opts.Variant, FromN: 1, HeadN: 1, OK: true}
	if err := replayFile(path, opts.Variant, func(line int, entry Entry) bool {
		result.Entries++
		if failure := r.check(line, entry); failure != nil {
			result.OK = false
			result.Failure = failure
			return false
		}
		result.HeadN = entry.N
		return true
	}); err != nil {
		return ReplayResult{}, err
	}
	logReplay(opts, result)
	return result, nil
}

// ReplayFrom resumes replay at a checkpoint. The checkpoint digest is
// re-derived and the stored entry at the checkpoint must match the pinned
// state; entries after it are recomputed as in Replay.
func ReplayFrom(path string, checkpoint helix.Checkpoint, opts Options) (ReplayResult, error) {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return ReplayResult{}, err
	}
	result := ReplayResult{Path: path, Variant: opts.Variant, FromN: checkpoint.N, HeadN: checkpoint.N, OK: true}
	expectedDigest, err := CheckpointDigest(checkpoint)
	if err != nil {
		return ReplayResult{}, err
	}
	if expectedDigest != checkpoint.CheckpointDigest {
		result.OK = false
		result.Failure = &Failure{N: checkpoint.N, Field: "checkpoint_digest", Expected: expectedDigest, Actual: checkpoint.CheckpointDigest}
		return result, nil
	}
	if checkpoint.Variant != string(opts.Variant) {
		return ReplayResult{}, coreerrors.Config("checkpoint_variant_mismatch", "checkpoint variant %q does not match ledger variant %q", checkpoint.Variant, opts.Variant)
	}
	r := newReplayer(opts.Variant, opts.Quantizer)
	if err := seedFromCheckpoint(r, checkpoint); err != nil {
		return ReplayResult{}, err
	}

	pinned := false
	if err := replayFile(path, opts.Variant, func(line int, entry Entry) bool {
		if !pinned {
			if entry.N != checkpoint.N {
				return true
			}
			pinned = true
			if failure := matchCheckpointState(line, entry, checkpoint); failure != nil {
				result.OK = false
				result.Failure = failure
				return false
			}
			return true
		}
		result.Entries++
		if failure := r.check(line, entry); failure != nil {
			result.OK = false
			result.Failure = failure
			return false
		}
		result.HeadN = entry.N
		return true
	}); err != nil {
		return ReplayResult{}, err
	}
	if result.OK && !pinned {
		result.OK = false
		result.Failure = &Failure{N: checkpoint.N, Field: "checkpoint_state", Expected: "entry n=" + formatInt(checkpoint.N), Actual: "absent"}
	}
	logReplay(opts, result)
	return result, nil
}

func seedFromCheckpoint(r *replayer, checkpoint helix.Checkpoint) error {
	plusHash, err := strand.ParseDigest(checkpoint.Plus.Hash)
	if err != nil {
		return coreerrors.Format("checkpoint_invalid", "checkpoint %d plus hash: %v", checkpoint.Index, err)
	}
	r.plus.Step, r.plus.Value, r.plus.Hash = checkpoint.N, checkpoint.Plus.Value, plusHash
	if r.variant == VariantChiral {
		if checkpoint.Minus == nil {
			return coreerrors.Format("checkpoint_invalid", "checkpoint %d is missing minus strand state", checkpoint.Index)
		}
		minusHash, err := strand.ParseDigest(checkpoint.Minus.Hash)
		if err != nil {
			return coreerrors.Format("checkpoint_invalid", "checkpoint %d minus hash: %v", checkpoint.Index, err)
		}
		r.minus.Step, r.minus.Value, r.minus.Hash = checkpoint.N, checkpoint.Minus.Value, minusHash
	}
	return nil
}

func matchCheckpointState(line int, entry Entry, checkpoint helix.Checkpoint) *Failure {
	fail := func(field, expected, actual string) *Failure {
		return &Failure{Line: line, N: entry.N, Field: field, Expected: expected, Actual: actual}
	}
	if entry.Plus.Value != checkpoint.Plus.Value {
		return fail("checkpoint_state.plus.value", formatInt(checkpoint.Plus.Value), formatInt(entry.Plus.Value))
	}
	if entry.Plus.Hash != checkpoint.Plus.Hash {
		return fail("checkpoint_state.plus.hash", checkpoint.Plus.Hash, entry.Plus.Hash)
	}
	if checkpoint.Minus != nil {
		if entry.Minus == nil {
			return fail("checkpoint_state.minus", "present", "absent")
		}
		if entry.Minus.Value != checkpoint.Minus.Value {
			return fail("checkpoint_state.minus.value", formatInt(checkpoint.Minus.Value), formatInt(entry.Minus.Value))
		}
		if entry.Minus.Hash != checkpoint.Minus.Hash {
			return fail("checkpoint_state.minus.hash", checkpoint.Minus.Hash, entry.Minus.Hash)
		}
		if entry.Commit != checkpoint.Commit {
			return fail("checkpoint_state.commit", checkpoint.Commit, entry.Commit)
		}
	}
	return nil
}

func replayFile(path string, variant Variant, fn func(line int, entry Entry) bool) error {
	// #nosec G304 -- ledger path is explicit caller input.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return coreerrors.Missing("ledger_missing", "ledger %s does not exist", path)
		}
		return coreerrors.IO(fmt.Errorf("open ledger: %w", err), "ledger_open_failed")
	}
	defer func() { _ = file.Close() }()
	return scanEntries(file, variant, fn)
}

func logReplay(opts Options, result ReplayResult) {
	if result.OK {
		opts.Logger.Info("ledger replay ok", "path", result.Path, "entries", result.Entries, "head_n", result.HeadN)
		return
	}
	opts.Logger.Warn("ledger replay mismatch", "path", result.Path, "failure", result.Failure.String())
}
