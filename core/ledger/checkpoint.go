package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/jcs"
	"github.com/davidahmann/hashhelix/core/merkle"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

// CheckpointPath returns the checkpoint journal next to a ledger:
// "ledger.jsonl" maps to "ledger.checkpoints.jsonl".
func CheckpointPath(ledgerPath string) string {
	ext := filepath.Ext(ledgerPath)
	return strings.TrimSuffix(ledgerPath, ext) + ".checkpoints.jsonl"
}

// CheckpointDigest is sha256 over the RFC 8785 form of the checkpoint with
// checkpoint_digest omitted.
func CheckpointDigest(checkpoint helix.Checkpoint) (string, error) {
	checkpoint.CheckpointDigest = ""
	digest, err := jcs.DigestValue(checkpoint)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "checkpoint_digest_failed", "", false)
	}
	return digest, nil
}

func ReadCheckpoints(path string) ([]helix.Checkpoint, error) {
	// #nosec G304 -- checkpoint path is derived from an explicit ledger path.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.IO(fmt.Errorf("read checkpoints: %w", err), "checkpoint_read_failed")
	}
	checkpoints := []helix.Checkpoint{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		decoder := json.NewDecoder(bytes.NewReader(line))
		decoder.DisallowUnknownFields()
		var checkpoint helix.Checkpoint
		if err := decoder.Decode(&checkpoint); err != nil {
			return nil, coreerrors.Format("checkpoint_record_invalid", "checkpoint line %d: %v", lineNo, err)
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.IO(fmt.Errorf("read checkpoints: %w", err), "checkpoint_read_failed")
	}
	return checkpoints, nil
}

// Checkpoint pins the current head after replaying the entries since the
// previous checkpoint, then appends the record to the checkpoint journal.
func (l *Ledger) Checkpoint() (helix.Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var created helix.Checkpoint
	err := fsx.WithFileLock(l.path, func() error {
		if err := l.refresh(); err != nil {
			return err
		}
		if l.head == nil {
			return coreerrors.Config("ledger_empty", "ledger %s has no entries to checkpoint", l.path)
		}
		checkpointPath := CheckpointPath(l.path)
		existing, err := ReadCheckpoints(checkpointPath)
		if err != nil {
			return err
		}
		segmentStart := int64(2)
		prevDigest := ""
		var replay ReplayResult
		if len(existing) > 0 {
			prev := existing[len(existing)-1]
			segmentStart = prev.SegmentEnd + 1
			prevDigest = prev.CheckpointDigest
			replay, err = ReplayFrom(l.path, prev, l.options())
		} else {
			replay, err = Replay(l.path, l.options())
		}
		if err != nil {
			return err
		}
		if !replay.OK {
			return coreerrors.Wrap(
				fmt.Errorf("ledger replay failed before checkpoint: %s", replay.Failure.String()),
				coreerrors.CategoryVerification,
				"ledger_replay_failed",
				"a checkpoint never pins unverified state; inspect the ledger",
				false,
			)
		}
		if l.head.N < segmentStart {
			return coreerrors.Config("checkpoint_no_new_entries", "no entries since checkpoint %d", len(existing))
		}
		digests, err := segmentCommitments(l.path, l.variant, segmentStart, l.head.N)
		if err != nil {
			return err
		}
		root := merkle.RootFromDigests(digests)

		checkpoint := helix.Checkpoint{
			SchemaID:             helix.SchemaCheckpoint,
			SchemaVersion:        helix.SchemaVersion,
			Index:                len(existing) + 1,
			Variant:              string(l.variant),
			N:                    l.head.N,
			Plus:                 helix.StrandState{Value: l.head.Plus.Value, Hash: l.head.Plus.Hash},
			SegmentStart:         segmentStart,
			SegmentEnd:           l.head.N,
			SegmentRoot:          fmt.Sprintf("%x", root[:]),
			PrevCheckpointDigest: prevDigest,
		}
		if l.head.Minus != nil {
			checkpoint.Minus = &helix.StrandState{Value: l.head.Minus.Value, Hash: l.head.Minus.Hash}
			checkpoint.Commit = l.head.Commit
		}
		digest, err := CheckpointDigest(checkpoint)
		if err != nil {
			return err
		}
		checkpoint.CheckpointDigest = digest
		line, err := json.Marshal(checkpoint)
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "checkpoint_encode_failed", "", false)
		}
		if err := fsx.AppendLineLocked(checkpointPath, line, 0o600); err != nil {
			return lockError(err)
		}
		created = checkpoint
		return nil
	})
	if err != nil {
		return helix.Checkpoint{}, lockError(err)
	}
	l.logger.Info("ledger checkpoint", "index", created.Index, "n", created.N, "segment_root", created.SegmentRoot)
	return created, nil
}

// segmentCommitments collects entry commitments for n in [start, end].
func segmentCommitments(path string, variant Variant, start, end int64) ([][32]byte, error) {
	digests := make([][32]byte, 0, end-start+1)
	var decodeErr error
	if err := replayFile(path, variant, func(_ int, entry Entry) bool {
		if entry.N < start || entry.N > end {
			return entry.N < end
		}
		commitment, err := entry.Commitment()
		if err != nil {
			decodeErr = coreerrors.Format("ledger_record_invalid", "entry n=%d commitment: %v", entry.N, err)
			return false
		}
		digests = append(digests, commitment)
		return true
	}); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if int64(len(digests)) != end-start+1 {
		return nil, coreerrors.Format("ledger_segment_incomplete", "segment [%d,%d] has %d entries", start, end, len(digests))
	}
	return digests, nil
}

type CheckpointIssue struct {
	Index    int    `json:"index"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type CheckpointReport struct {
	LedgerPath     string            `json:"ledger_path"`
	CheckpointPath string            `json:"checkpoint_path"`
	Checkpoints    int               `json:"checkpoints_checked"`
	OK             bool              `json:"ok"`
	Issues         []CheckpointIssue `json:"issues,omitempty"`
}

// VerifyCheckpoints re-derives every checkpoint digest, linkage, segment root,
// and pinned head state from the ledger file.
func VerifyCheckpoints(ledgerPath string, opts Options) (CheckpointReport, error) {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return CheckpointReport{}, err
	}
	checkpointPath := CheckpointPath(ledgerPath)
	checkpoints, err := ReadCheckpoints(checkpointPath)
	if err != nil {
		return CheckpointReport{}, err
	}
	entries, err := ReadEntries(ledgerPath, opts.Variant)
	if err != nil {
		return CheckpointReport{}, err
	}
	byN := make(map[int64]Entry, len(entries))
	for _, entry := range entries {
		if _, exists := byN[entry.N]; !exists {
			byN[entry.N] = entry
		}
	}

	report := CheckpointReport{LedgerPath: ledgerPath, CheckpointPath: checkpointPath, Checkpoints: len(checkpoints)}
	issue := func(index int, field, expected, actual string) {
		report.Issues = append(report.Issues, CheckpointIssue{Index: index, Field: field, Expected: expected, Actual: actual})
	}
	prevDigest := ""
	prevEnd := int64(1)
	for position, checkpoint := range checkpoints {
		index := position + 1
		if checkpoint.SchemaID != helix.SchemaCheckpoint {
			issue(index, "schema_id", helix.SchemaCheckpoint, checkpoint.SchemaID)
		}
		if checkpoint.Index != index {
			issue(index, "index", fmt.Sprint(index), fmt.Sprint(checkpoint.Index))
		}
		if checkpoint.Variant != string(opts.Variant) {
			issue(index, "variant", string(opts.Variant), checkpoint.Variant)
		}
		if checkpoint.PrevCheckpointDigest != prevDigest {
			issue(index, "prev_checkpoint_digest", prevDigest, checkpoint.PrevCheckpointDigest)
		}
		expectedDigest, err := CheckpointDigest(checkpoint)
		if err != nil {
			return CheckpointReport{}, err
		}
		if checkpoint.CheckpointDigest != expectedDigest {
			issue(index, "checkpoint_digest", expectedDigest, checkpoint.CheckpointDigest)
		}
		if checkpoint.SegmentStart != prevEnd+1 {
			issue(index, "segment_start", formatInt(prevEnd+1), formatInt(checkpoint.SegmentStart))
		}
		if checkpoint.SegmentEnd != checkpoint.N || checkpoint.SegmentEnd < checkpoint.SegmentStart {
			issue(index, "segment_end", formatInt(checkpoint.N), formatInt(checkpoint.SegmentEnd))
		}
		if root, ok := segmentRootFromEntries(byN, checkpoint.SegmentStart, checkpoint.SegmentEnd); !ok {
			issue(index, "segment_root", checkpoint.SegmentRoot, "segment incomplete")
		} else if root != checkpoint.SegmentRoot {
			issue(index, "segment_root", root, checkpoint.SegmentRoot)
		}
		if entry, ok := byN[checkpoint.N]; !ok {
			issue(index, "checkpoint_state", "entry n="+formatInt(checkpoint.N), "absent")
		} else if failure := matchCheckpointState(0, entry, checkpoint); failure != nil {
			issue(index, failure.Field, failure.Expected, failure.Actual)
		}
		prevDigest = checkpoint.CheckpointDigest
		prevEnd = checkpoint.SegmentEnd
	}
	report.OK = len(report.Issues) == 0
	if !report.OK {
		opts.Logger.Warn("checkpoint verification failed", "path", checkpointPath, "issues", len(report.Issues))
	}
	return report, nil
}

func segmentRootFromEntries(byN map[int64]Entry, start, end int64) (string, bool) {
	if end < start || start < 2 {
		return "", false
	}
	digests := make([][32]byte, 0, end-start+1)
	for n := start; n <= end; n++ {
		entry, ok := byN[n]
		if !ok {
			return "", false
		}
		commitment, err := entry.Commitment()
		if err != nil {
			return "", false
		}
		digests = append(digests, commitment)
	}
	root := merkle.RootFromDigests(digests)
	return fmt.Sprintf("%x", root[:]), true
}

// EntryProof shows that entry N's commitment is a leaf of a checkpoint's
// segment root.
type EntryProof struct {
	N           int64        `json:"n"`
	Checkpoint  int          `json:"checkpoint"`
	SegmentRoot string       `json:"segment_root"`
	Proof       merkle.Proof `json:"proof"`
}

func (l *Ledger) Prove(n int64) (EntryProof, error) {
	checkpoints, err := ReadCheckpoints(CheckpointPath(l.path))
	if err != nil {
		return EntryProof{}, err
	}
	for _, checkpoint := range checkpoints {
		if n < checkpoint.SegmentStart || n > checkpoint.SegmentEnd {
			continue
		}
		digests, err := segmentCommitments(l.path, l.variant, checkpoint.SegmentStart, checkpoint.SegmentEnd)
		if err != nil {
			return EntryProof{}, err
		}
		proof, err := merkle.ProveDigests(digests, int(n-checkpoint.SegmentStart))
		if err != nil {
			return EntryProof{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "proof_failed", "", false)
		}
		entryProof := EntryProof{N: n, Checkpoint: checkpoint.Index, SegmentRoot: checkpoint.SegmentRoot, Proof: proof}
		ok, err := VerifyEntryProof(entryProof)
		if err != nil {
			return EntryProof{}, err
		}
		if !ok {
			return EntryProof{}, coreerrors.Wrap(
				fmt.Errorf("segment of checkpoint %d no longer matches its root", checkpoint.Index),
				coreerrors.CategoryVerification,
				"checkpoint_segment_mismatch",
				"run verify checkpoints",
				false,
			)
		}
		return entryProof, nil
	}
	return EntryProof{}, coreerrors.Missing("checkpoint_missing", "no checkpoint covers n=%d", n)
}

func VerifyEntryProof(proof EntryProof) (bool, error) {
	ok, err := merkle.VerifyProof(proof.Proof, proof.SegmentRoot)
	if err != nil {
		return false, coreerrors.Format("proof_invalid", "%v", err)
	}
	return ok, nil
}
