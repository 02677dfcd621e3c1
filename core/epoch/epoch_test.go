package epoch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func TestIdentifiers(t *testing.T) {
	require.Equal(t, "epoch-lane03-ep0012", EpochID(3, 12))
	require.Equal(t, "epoch_lane03_ep0012.json", EpochFileName(3, 12))
	require.Equal(t, "epoch-bundle-ep0007", BundleID(7))
	require.Equal(t, "epoch_bundle_ep0007.json", BundleFileName(7))
}

func TestDigestsKnownValues(t *testing.T) {
	require.Equal(t, "14c5e74c4b96ccef41cd94db73a9ec3348038ac094feca4fd897cecffa07cdae", SequenceHash([]int64{1, 2, 3}))
	require.Equal(t, "f981662b1dcd91b2569a56fce8c590b04bc062ee22d459e49bc507638c8099a2", MerkleRootOfValues([]int64{1, 2, 3}))
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", MerkleRootOfValues(nil))
	require.NotEqual(t, SequenceHash([]int64{1, 2, 3}), SequenceHash([]int64{3, 2, 1}))
	require.NotEqual(t, SequenceHash([]int64{12, 3}), SequenceHash([]int64{1, 23}))
}

func TestComputeStats(t *testing.T) {
	require.Equal(t, helix.EpochStats{Min: -4, Max: 4, Mean: 0.8}, ComputeStats([]int64{1, 2, 1, 4, -4}))
	require.Equal(t, helix.EpochStats{}, ComputeStats(nil))
}

func TestBuildThreeWindowsReslice(t *testing.T) {
	const epochLength = 4
	values := []int64{1, 2, 1, 4, -4, 2, 5, -6, 6, 1, 3, -2}
	epochs, err := Build(2, values, epochLength, 0)
	require.NoError(t, err)
	require.Len(t, epochs, 3)
	for i, epoch := range epochs {
		require.Equal(t, i+1, epoch.EpochIndex)
		require.Equal(t, int64(epochLength), epoch.StepCount)
		require.Equal(t, epoch.EndStep-epoch.StartStep+1, epoch.StepCount)
		require.Equal(t, int64(i*epochLength+1), epoch.StartStep)
		slice := values[epoch.StartStep-1 : epoch.EndStep]
		require.Equal(t, MerkleRootOfValues(slice), epoch.MerkleRoot)
		require.Equal(t, SequenceHash(slice), epoch.SequenceHash)
		require.Equal(t, EpochID(2, i+1), epoch.EpochID)
	}
}

func TestBuildDropsPartialWindowAndHonoursCap(t *testing.T) {
	values := make([]int64, 10)
	epochs, err := Build(1, values, 3, 0)
	require.NoError(t, err)
	require.Len(t, epochs, 3)
	require.Equal(t, int64(9), epochs[2].EndStep)

	capped, err := Build(1, values, 3, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)

	none, err := Build(1, values[:2], 3, 0)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = Build(1, values, 0, 0)
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
}

func TestEpochArtifactGolden(t *testing.T) {
	epochs, err := Build(1, []int64{1, 2, 1, 4, -4}, 5, 0)
	require.NoError(t, err)
	dir := t.TempDir()
	path, err := WriteEpoch(dir, epochs[0])
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "epoch_lane01_ep0001.json"), path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "epoch_lane01_ep0001", raw)

	read, err := ReadEpoch(path)
	require.NoError(t, err)
	require.Equal(t, epochs[0], read)
}

func TestBuildBundlesStrictAndLenient(t *testing.T) {
	lane1, err := Build(1, []int64{1, 2, 3, 4, 5, 6}, 2, 0)
	require.NoError(t, err)
	lane2, err := Build(2, []int64{6, 5, 4, 3}, 2, 0)
	require.NoError(t, err)
	all := append(append([]helix.Epoch{}, lane2...), lane1...)

	_, _, err = BuildBundles(all, []int{1, 2}, true)
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))

	bundles, skipped, err := BuildBundles(all, []int{1, 2}, false)
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	require.Len(t, skipped, 1)
	require.Equal(t, 3, skipped[0].EpochIndex)
	require.Equal(t, "bundle", skipped[0].Kind)

	first := bundles[0]
	require.Equal(t, "epoch-bundle-ep0001", first.BundleID)
	require.Equal(t, helix.BundleTypeEpoch, first.BundleType)
	require.Equal(t, 2, first.LaneCount)
	require.Equal(t, 1, first.Lanes[0].LaneID)
	require.Equal(t, lane1[0].MerkleRoot, first.Lanes[0].MerkleRoot)
	require.Equal(t, lane2[0].EpochID, first.Lanes[1].EpochID)
}

func writeLanes(t *testing.T, dir string, laneCount int, steps int64) {
	t.Helper()
	_, err := lanes.Run(context.Background(), lanes.Config{Lanes: laneCount, Steps: steps, Seed: 1, SeedStride: 3, OutDir: dir})
	require.NoError(t, err)
}

func TestRunWritesEpochsAndBundles(t *testing.T) {
	laneDir := filepath.Join(t.TempDir(), "lanes")
	outDir := filepath.Join(t.TempDir(), "epochs")
	writeLanes(t, laneDir, 3, 30)

	result, err := Run(context.Background(), Config{LaneDir: laneDir, OutDir: outDir, EpochLength: 10, Strict: true})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, result.LaneIDs)
	require.Len(t, result.Epochs, 9)
	require.Len(t, result.Bundles, 3)
	require.Len(t, result.EpochPaths, 9)
	require.Len(t, result.BundlePaths, 3)
	require.Empty(t, result.Skipped)

	loaded, err := LoadEpochs(outDir)
	require.NoError(t, err)
	require.Len(t, loaded, 9)
	require.Equal(t, 1, loaded[0].Epoch.LaneID)
	require.Equal(t, 3, loaded[8].Epoch.LaneID)

	bundles, err := LoadBundles(outDir)
	require.NoError(t, err)
	require.Len(t, bundles, 3)
	for i, file := range bundles {
		require.Equal(t, i+1, file.Bundle.EpochIndex)
		require.Equal(t, result.Bundles[i], file.Bundle)
	}
}

func TestRunMissingLaneStrictVersusLenient(t *testing.T) {
	laneDir := filepath.Join(t.TempDir(), "lanes")
	writeLanes(t, laneDir, 2, 20)

	_, err := Run(context.Background(), Config{LaneDir: laneDir, OutDir: t.TempDir(), Lanes: []int{1, 2, 3}, EpochLength: 5, Strict: true})
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))

	result, err := Run(context.Background(), Config{LaneDir: laneDir, OutDir: t.TempDir(), Lanes: []int{1, 2, 3}, EpochLength: 5})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, result.LaneIDs)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, "lane", result.Skipped[0].Kind)
	require.Equal(t, 3, result.Skipped[0].LaneID)
	require.Len(t, result.Bundles, 4)
	require.Equal(t, 2, result.Bundles[0].LaneCount)
}

func TestRunConfigErrors(t *testing.T) {
	laneDir := t.TempDir()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "length", cfg: Config{LaneDir: laneDir, OutDir: t.TempDir(), EpochLength: 0}},
		{name: "max", cfg: Config{LaneDir: laneDir, OutDir: t.TempDir(), EpochLength: 1, MaxEpochs: -1}},
		{name: "lane dir", cfg: Config{LaneDir: filepath.Join(laneDir, "absent"), OutDir: t.TempDir(), EpochLength: 1}},
		{name: "out dir", cfg: Config{LaneDir: laneDir, EpochLength: 1}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Run(context.Background(), testCase.cfg)
			require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
		})
	}

	_, err := Run(context.Background(), Config{LaneDir: laneDir, OutDir: t.TempDir(), EpochLength: 1})
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))
}

func TestReadEpochRejectsWrongSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epoch_lane01_ep0001.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_id":"hashhelix.relic","epoch_id":"x","lane_id":1,"epoch_index":1}`), 0o600))
	_, err := ReadEpoch(path)
	require.Equal(t, coreerrors.CategoryFormatInvalid, coreerrors.CategoryOf(err))

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = ReadEpoch(path)
	require.Equal(t, coreerrors.CategoryFormatInvalid, coreerrors.CategoryOf(err))
}
