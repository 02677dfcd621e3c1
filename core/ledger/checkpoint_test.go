package ledger

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/merkle"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func TestCheckpointPath(t *testing.T) {
	require.Equal(t, filepath.Join("data", "ledger.checkpoints.jsonl"), CheckpointPath(filepath.Join("data", "ledger.jsonl")))
	require.Equal(t, "ledger.checkpoints.jsonl", CheckpointPath("ledger"))
}

func TestCheckpointChainAndResumedReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := openLedger(t, path, VariantChiral)

	_, err := l.Checkpoint()
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))

	entries := appendAll(t, l, "a", "b", "c", "d", "e")
	first, err := l.Checkpoint()
	require.NoError(t, err)
	require.Equal(t, 1, first.Index)
	require.Equal(t, int64(2), first.SegmentStart)
	require.Equal(t, int64(6), first.SegmentEnd)
	require.Empty(t, first.PrevCheckpointDigest)
	require.Equal(t, entries[4].Commit, first.Commit)

	digests := make([][32]byte, 0, len(entries))
	for _, entry := range entries {
		commitment, err := entry.Commitment()
		require.NoError(t, err)
		digests = append(digests, commitment)
	}
	root := merkle.RootFromDigests(digests)
	expectedRoot, err := merkle.RootFromHexDigests([]string{entries[0].Commit, entries[1].Commit, entries[2].Commit, entries[3].Commit, entries[4].Commit})
	require.NoError(t, err)
	require.Equal(t, expectedRoot, first.SegmentRoot)
	require.Equal(t, root[:], mustDecode(t, first.SegmentRoot))

	_, err = l.Checkpoint()
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))

	appendAll(t, l, "f", "g", "h")
	second, err := l.Checkpoint()
	require.NoError(t, err)
	require.Equal(t, 2, second.Index)
	require.Equal(t, int64(7), second.SegmentStart)
	require.Equal(t, int64(9), second.SegmentEnd)
	require.Equal(t, first.CheckpointDigest, second.PrevCheckpointDigest)

	digest, err := CheckpointDigest(second)
	require.NoError(t, err)
	require.Equal(t, second.CheckpointDigest, digest)

	report, err := VerifyCheckpoints(path, Options{Variant: VariantChiral})
	require.NoError(t, err)
	require.True(t, report.OK, "issues: %+v", report.Issues)
	require.Equal(t, 2, report.Checkpoints)

	appendAll(t, l, "i")
	resumed, err := ReplayFrom(path, first, Options{})
	require.NoError(t, err)
	require.True(t, resumed.OK, "failure: %+v", resumed.Failure)
	require.Equal(t, int64(6), resumed.FromN)
	require.Equal(t, 4, resumed.Entries)
	require.Equal(t, int64(10), resumed.HeadN)

	checkpoints, err := ReadCheckpoints(CheckpointPath(path))
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	require.Equal(t, second, checkpoints[1])
}

func TestReplayFromRejectsForgedCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := openLedger(t, path, VariantChiral)
	appendAll(t, l, "a", "b", "c")
	checkpoint, err := l.Checkpoint()
	require.NoError(t, err)

	forged := checkpoint
	forged.Plus.Value = 1000
	result, err := ReplayFrom(path, forged, Options{})
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, "checkpoint_digest", result.Failure.Field)

	// A digest that matches forged state still has to agree with the stored entry.
	forged.CheckpointDigest, err = CheckpointDigest(forged)
	require.NoError(t, err)
	result, err = ReplayFrom(path, forged, Options{})
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, "checkpoint_state.plus.value", result.Failure.Field)
}

func TestVerifyCheckpointsDetectsLedgerRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := openLedger(t, path, VariantChiral)
	appendAll(t, l, "a", "b", "c")
	_, err := l.Checkpoint()
	require.NoError(t, err)

	mutateLine(t, path, 1, func(r map[string]any) { r["commit"] = strings.Repeat("0", 64) })

	report, err := VerifyCheckpoints(path, Options{})
	require.NoError(t, err)
	require.False(t, report.OK)
	fields := []string{}
	for _, issue := range report.Issues {
		fields = append(fields, issue.Field)
	}
	require.Contains(t, fields, "segment_root")
}

func TestVerifyCheckpointsDetectsBrokenLinkage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := openLedger(t, path, VariantSingle)
	appendAll(t, l, "a", "b")
	_, err := l.Checkpoint()
	require.NoError(t, err)
	appendAll(t, l, "c")
	_, err = l.Checkpoint()
	require.NoError(t, err)

	mutateLine(t, CheckpointPath(path), 1, func(r map[string]any) { r["prev_checkpoint_digest"] = "deadbeef" })

	report, err := VerifyCheckpoints(path, Options{Variant: VariantSingle})
	require.NoError(t, err)
	require.False(t, report.OK)
	fields := map[string]bool{}
	for _, issue := range report.Issues {
		fields[issue.Field] = true
	}
	require.True(t, fields["prev_checkpoint_digest"])
	require.True(t, fields["checkpoint_digest"])
}

func TestProveEntryAgainstCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := openLedger(t, path, VariantChiral)
	entries := appendAll(t, l, "a", "b", "c", "d", "e", "f", "g")
	checkpoint, err := l.Checkpoint()
	require.NoError(t, err)

	for _, entry := range entries {
		proof, err := l.Prove(entry.N)
		require.NoError(t, err)
		require.Equal(t, checkpoint.Index, proof.Checkpoint)
		require.Equal(t, entry.Commit, proof.Proof.Leaf)
		ok, err := VerifyEntryProof(proof)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err = l.Prove(42)
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))
}

func TestCheckpointRefusesTamperedLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := openLedger(t, path, VariantChiral)
	appendAll(t, l, "a", "b")
	mutateLine(t, path, 0, func(r map[string]any) { r["data"] = "A" })
	_, err := l.Checkpoint()
	require.Equal(t, coreerrors.CategoryVerification, coreerrors.CategoryOf(err))
	checkpoints, err := ReadCheckpoints(CheckpointPath(path))
	require.NoError(t, err)
	require.Empty(t, checkpoints)
}

func TestCheckpointDigestIgnoresStoredDigest(t *testing.T) {
	checkpoint := helix.Checkpoint{SchemaID: helix.SchemaCheckpoint, SchemaVersion: helix.SchemaVersion, Index: 1, N: 2}
	first, err := CheckpointDigest(checkpoint)
	require.NoError(t, err)
	checkpoint.CheckpointDigest = "anything"
	second, err := CheckpointDigest(checkpoint)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func mustDecode(t *testing.T, value string) []byte {
	t.Helper()
	digest, err := merkle.DecodeHexDigest(value)
	require.NoError(t, err)
	return digest[:]
}
