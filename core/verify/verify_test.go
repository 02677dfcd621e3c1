package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/ledger"
	"github.com/davidahmann/hashhelix/core/merkle"
	"github.com/davidahmann/hashhelix/core/relic"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func fixedNow() time.Time {
	return time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
}

func rewriteJSONLine(t *testing.T, path string, lineIndex int, mutate func(record map[string]any)) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[lineIndex], &record))
	mutate(record)
	updated, err := json.Marshal(record)
	require.NoError(t, err)
	lines[lineIndex] = updated
	require.NoError(t, os.WriteFile(path, append(bytes.Join(lines, []byte("\n")), '\n'), 0o600))
}

// pipelineDirs builds lanes, epochs, and bundles for laneCount lanes of
// windows*epochLength steps.
func pipelineDirs(t *testing.T, laneCount, windows int, epochLength int64) (string, string) {
	t.Helper()
	root := t.TempDir()
	laneDir := filepath.Join(root, "lanes")
	epochDir := filepath.Join(root, "epochs")
	_, err := lanes.Run(context.Background(), lanes.Config{
		Lanes: laneCount, Steps: int64(windows) * epochLength, Seed: 1, SeedStride: 2, OutDir: laneDir,
	})
	require.NoError(t, err)
	_, err = epoch.Run(context.Background(), epoch.Config{LaneDir: laneDir, OutDir: epochDir, EpochLength: epochLength, Strict: true})
	require.NoError(t, err)
	return laneDir, epochDir
}

func TestChainReportsFirstDisagreement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := ledger.Open(path, ledger.Options{Variant: ledger.VariantChiral, Now: fixedNow})
	require.NoError(t, err)
	for _, payload := range []string{"alpha", "beta", "gamma"} {
		_, err := l.Append(payload)
		require.NoError(t, err)
	}

	report, err := Chain(path, ledger.Options{Variant: ledger.VariantChiral})
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, KindChain, report.Kind)
	require.Equal(t, 3, report.Checked)
	_, found := report.First()
	require.False(t, found)

	rewriteJSONLine(t, path, 1, func(record map[string]any) { record["data"] = "BETA" })
	report, err = Chain(path, ledger.Options{Variant: ledger.VariantChiral})
	require.NoError(t, err)
	require.False(t, report.OK)
	first, found := report.First()
	require.True(t, found)
	require.Equal(t, "n=3", first.ID)
	require.Equal(t, 2, first.Line)
	require.Equal(t, "h_plus", first.Field)
	require.Contains(t, first.String(), "h_plus")

	_, err = Chain(filepath.Join(t.TempDir(), "absent.jsonl"), ledger.Options{})
	require.Error(t, err)
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))
}

func TestCheckpointsReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := ledger.Open(path, ledger.Options{Variant: ledger.VariantSingle, Now: fixedNow})
	require.NoError(t, err)
	for _, payload := range []string{"a", "b", "c"} {
		_, err := l.Append(payload)
		require.NoError(t, err)
	}
	_, err = l.Checkpoint()
	require.NoError(t, err)

	report, err := Checkpoints(path, ledger.Options{Variant: ledger.VariantSingle})
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, 1, report.Checked)

	rewriteJSONLine(t, ledger.CheckpointPath(path), 0, func(record map[string]any) {
		record["segment_root"] = strings.Repeat("0", 64)
	})
	report, err = Checkpoints(path, ledger.Options{Variant: ledger.VariantSingle})
	require.NoError(t, err)
	require.False(t, report.OK)
	fields := []string{}
	for _, m := range report.Mismatches {
		require.Equal(t, "checkpoint=1", m.ID)
		fields = append(fields, m.Field)
	}
	require.Contains(t, fields, "segment_root")
}

func TestLanesLengthAndRecompute(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lanes")
	_, err := lanes.Run(context.Background(), lanes.Config{Lanes: 2, Steps: 12, Seed: 1, SeedStride: 3, OutDir: dir})
	require.NoError(t, err)

	check := LaneCheck{Dir: dir, Lanes: 2, Steps: 12, Seed: 1, SeedStride: 3, Recompute: true}
	report, err := Lanes(context.Background(), check)
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, 2, report.Checked)

	lengthOnly := check
	lengthOnly.Recompute = false
	lengthOnly.Steps = 13
	report, err = Lanes(context.Background(), lengthOnly)
	require.NoError(t, err)
	require.False(t, report.OK)
	require.Len(t, report.Mismatches, 2)
	require.Equal(t, "steps", report.Mismatches[0].Field)

	values, err := lanes.ReadTrace(lanes.TracePath(dir, 2))
	require.NoError(t, err)
	lines := make([]string, len(values))
	for i, value := range values {
		lines[i] = formatInt(value)
	}
	lines[4] = formatInt(values[4] + 1)
	require.NoError(t, os.WriteFile(lanes.TracePath(dir, 2), []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	report, err = Lanes(context.Background(), check)
	require.NoError(t, err)
	require.False(t, report.OK)
	first, _ := report.First()
	require.Equal(t, "lane02", first.ID)
	require.Equal(t, "a", first.Field)
	require.Equal(t, 5, first.Line)

	missing := check
	missing.Lanes = 3
	report, err = Lanes(context.Background(), missing)
	require.NoError(t, err)
	last := report.Mismatches[len(report.Mismatches)-1]
	require.Equal(t, "lane03", last.ID)
	require.Equal(t, "trace", last.Field)

	_, err = Lanes(context.Background(), LaneCheck{Dir: dir, Lanes: 0, Steps: 1})
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
}

func TestEpochsThreeWindowsVerify(t *testing.T) {
	const epochLength = 8
	laneDir, epochDir := pipelineDirs(t, 2, 3, epochLength)

	report, err := Epochs(epochDir, laneDir, epochLength)
	require.NoError(t, err)
	require.True(t, report.OK, "%v", report.Mismatches)
	require.Equal(t, 6+3, report.Checked)

	files, err := epoch.LoadEpochs(epochDir)
	require.NoError(t, err)
	for _, file := range files {
		require.Equal(t, int64(epochLength), file.Epoch.StepCount)
		require.Equal(t, file.Epoch.EndStep-file.Epoch.StartStep+1, file.Epoch.StepCount)
	}
}

func TestEpochsDetectTamper(t *testing.T) {
	const epochLength = 5
	laneDir, epochDir := pipelineDirs(t, 2, 2, epochLength)
	files, err := epoch.LoadEpochs(epochDir)
	require.NoError(t, err)

	tampered := files[1].Epoch
	tampered.MerkleRoot = strings.Repeat("ab", 32)
	tampered.StepCount = epochLength + 1
	_, err = epoch.WriteEpoch(epochDir, tampered)
	require.NoError(t, err)

	report, err := Epochs(epochDir, laneDir, epochLength)
	require.NoError(t, err)
	require.False(t, report.OK)
	fields := map[string]bool{}
	for _, m := range report.Mismatches {
		fields[m.ID+"/"+m.Field] = true
	}
	require.True(t, fields[tampered.EpochID+"/merkle_root"])
	require.True(t, fields[tampered.EpochID+"/step_count"])
	require.True(t, fields[epoch.BundleID(tampered.EpochIndex)+"/lanes[0].merkle_root"])
}

func TestEpochsMissingTraceIsMissingDependency(t *testing.T) {
	laneDir, epochDir := pipelineDirs(t, 2, 1, 4)
	require.NoError(t, os.Remove(lanes.TracePath(laneDir, 2)))
	_, err := Epochs(epochDir, laneDir, 4)
	require.Error(t, err)
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))

	_, err = Epochs(filepath.Join(t.TempDir(), "absent"), laneDir, 4)
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
}

func TestRelicTamperDetection(t *testing.T) {
	_, epochDir := pipelineDirs(t, 3, 4, 4)
	relicDir := filepath.Join(t.TempDir(), "relics")
	result, err := relic.Run(context.Background(), relic.Config{EpochDir: epochDir, OutDir: relicDir, EpochsPerRelic: 2, Strict: true})
	require.NoError(t, err)
	require.Len(t, result.Relics, 2)

	report, err := Relics(relicDir, epochDir)
	require.NoError(t, err)
	require.True(t, report.OK, "%v", report.Mismatches)
	require.Equal(t, 2, report.Checked)
	require.Empty(t, Relic(result.Relics[0]))

	tampered := result.Relics[0]
	tampered.EpochBundles = append(tampered.EpochBundles[:0:0], tampered.EpochBundles...)
	tampered.EpochBundles[0].BundleID = "epoch-bundle-ep0099"
	fields := []string{}
	for _, m := range Relic(tampered) {
		fields = append(fields, m.Field)
	}
	require.Contains(t, fields, "aggregate.chiral_commitment.forward")
	require.Contains(t, fields, "aggregate.chiral_commitment.reverse")
	require.Empty(t, Relic(result.Relics[0]))
}

func TestRelicsDetectLaneRootTamperOnDisk(t *testing.T) {
	_, epochDir := pipelineDirs(t, 2, 2, 4)
	relicDir := filepath.Join(t.TempDir(), "relics")
	result, err := relic.Run(context.Background(), relic.Config{EpochDir: epochDir, OutDir: relicDir, EpochsPerRelic: 2, Strict: true})
	require.NoError(t, err)

	stored := result.Relics[0]
	stored.EpochBundles[1].LaneMerkleRoots[0] = strings.Repeat("cd", 32)
	_, err = relic.WriteRelic(relicDir, stored)
	require.NoError(t, err)

	report, err := Relics(relicDir, epochDir)
	require.NoError(t, err)
	require.False(t, report.OK)
	fields := []string{}
	for _, m := range report.Mismatches {
		require.Equal(t, result.Paths[0], m.Path)
		fields = append(fields, m.Field)
	}
	require.Contains(t, fields, "epoch_bundles[1].bundle_merkle_root")
	require.Contains(t, fields, "epoch_bundles[1].lane_merkle_roots")

	_, err = Relics(filepath.Join(t.TempDir(), "absent"), "")
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
}

func TestLaneLengthsWrapper(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lanes")
	_, err := lanes.Run(context.Background(), lanes.Config{Lanes: 3, Steps: 7, Seed: 2, OutDir: dir})
	require.NoError(t, err)
	report, err := LaneLengths(dir, 3, 7)
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, KindLanes, report.Kind)
}

func TestChainFromLastCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	opts := ledger.Options{Variant: ledger.VariantChiral, Now: fixedNow}
	l, err := ledger.Open(path, opts)
	require.NoError(t, err)
	for _, payload := range []string{"a", "b", "c"} {
		_, err := l.Append(payload)
		require.NoError(t, err)
	}

	report, err := ChainFromLastCheckpoint(path, opts)
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, 3, report.Checked)

	_, err = l.Checkpoint()
	require.NoError(t, err)
	for _, payload := range []string{"d", "e"} {
		_, err := l.Append(payload)
		require.NoError(t, err)
	}

	report, err = ChainFromLastCheckpoint(path, opts)
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, 2, report.Checked)

	rewriteJSONLine(t, path, 4, func(record map[string]any) { record["data"] = "E" })
	report, err = ChainFromLastCheckpoint(path, opts)
	require.NoError(t, err)
	require.False(t, report.OK)
	first, _ := report.First()
	require.Equal(t, "n=6", first.ID)
}

func relicFields(r helix.Relic) []string {
	fields := []string{}
	for _, m := range Relic(r) {
		fields = append(fields, m.Field)
	}
	return fields
}

func TestRelicLaneCountsAndBundleOrder(t *testing.T) {
	_, epochDir := pipelineDirs(t, 3, 2, 4)
	result, err := relic.Run(context.Background(), relic.Config{EpochDir: epochDir, OutDir: filepath.Join(t.TempDir(), "relics"), EpochsPerRelic: 2, Strict: true})
	require.NoError(t, err)
	require.Len(t, result.Relics, 1)
	built := result.Relics[0]
	require.Equal(t, 3, built.LaneCount)
	require.Empty(t, Relic(built))

	copyRelic := func() helix.Relic {
		clone := built
		clone.EpochBundles = append([]helix.RelicBundle(nil), built.EpochBundles...)
		return clone
	}

	tampered := copyRelic()
	tampered.LaneCount = 4
	require.Equal(t, []string{"lane_count"}, relicFields(tampered))

	tampered = copyRelic()
	tampered.EpochBundles[1].LaneCount = 2
	require.Equal(t, []string{"epoch_bundles[1].lane_count"}, relicFields(tampered))

	// Swap the bundles and recompute every aggregate so only the order is wrong.
	swapped := copyRelic()
	swapped.EpochBundles[0], swapped.EpochBundles[1] = built.EpochBundles[1], built.EpochBundles[0]
	ids := []string{}
	roots := []string{}
	for _, bundle := range swapped.EpochBundles {
		ids = append(ids, bundle.BundleID)
		roots = append(roots, bundle.BundleMerkleRoot)
	}
	swapped.EpochStart = swapped.EpochBundles[0].EpochIndex
	swapped.EpochEnd = swapped.EpochBundles[1].EpochIndex
	swapped.RelicID = relic.RelicID(swapped.EpochStart, swapped.EpochEnd)
	swapped.Aggregate.BundleIDs = ids
	swapped.Aggregate.ChiralCommitment.Forward = relic.ForwardDigest(ids)
	swapped.Aggregate.ChiralCommitment.Reverse = relic.ReverseDigest(ids)
	swapped.Aggregate.RelicMerkleRoot, err = merkle.RootFromHexDigests(roots)
	require.NoError(t, err)
	require.Equal(t, []string{"epoch_bundles[1].epoch_index"}, relicFields(swapped))
}

func TestRelicsReportsTamperedLaneCountOnDisk(t *testing.T) {
	_, epochDir := pipelineDirs(t, 2, 2, 4)
	relicDir := filepath.Join(t.TempDir(), "relics")
	result, err := relic.Run(context.Background(), relic.Config{EpochDir: epochDir, OutDir: relicDir, EpochsPerRelic: 2, Strict: true})
	require.NoError(t, err)
	require.Len(t, result.Paths, 1)

	var record map[string]any
	raw, err := os.ReadFile(result.Paths[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &record))
	record["lane_count"] = 7
	raw, err = json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(result.Paths[0], raw, 0o600))

	report, err := Relics(relicDir, epochDir)
	require.NoError(t, err)
	require.False(t, report.OK)
	first, ok := report.First()
	require.True(t, ok)
	require.Equal(t, "lane_count", first.Field)
	require.Equal(t, "2", first.Expected)
	require.Equal(t, "7", first.Actual)
}
