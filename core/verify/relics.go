package verify

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/merkle"
	"github.com/davidahmann/hashhelix/core/relic"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

// Relics recomputes every persisted relic from its own stored lane roots.
// When epochDir is set the stored lane roots are also compared against the
// epoch bundles on disk.
func Relics(relicDir, epochDir string) (Report, error) {
	if info, err := os.Stat(relicDir); err != nil || !info.IsDir() {
		return Report{}, coreerrors.Config("relic_dir_missing", "relic directory does not exist: %s", relicDir)
	}
	files, err := relic.LoadRelics(relicDir)
	if err != nil {
		return Report{}, err
	}
	var bundles map[int]helix.EpochBundle
	if strings.TrimSpace(epochDir) != "" {
		loaded, err := epoch.LoadBundles(epochDir)
		if err != nil {
			return Report{}, err
		}
		bundles = make(map[int]helix.EpochBundle, len(loaded))
		for _, file := range loaded {
			bundles[file.Bundle.EpochIndex] = file.Bundle
		}
	}
	report := Report{Kind: KindRelics}
	for _, file := range files {
		report.Checked++
		for _, m := range Relic(file.Relic) {
			m.Path = file.Path
			report.add(m)
		}
		if bundles != nil {
			for _, m := range relicAgainstBundles(file.Relic, bundles) {
				m.Path = file.Path
				report.add(m)
			}
		}
	}
	return report.finish(), nil
}

// Relic checks one relic for internal consistency: range and lane counts,
// contiguous bundle order, bundle roots from lane roots, the relic root from
// bundle roots, and the forward/reverse digests from the bundle identifiers.
func Relic(r helix.Relic) []Mismatch {
	var out []Mismatch
	mismatch := func(field, expected, actual string) {
		out = append(out, Mismatch{Kind: KindRelics, ID: r.RelicID, Field: field, Expected: expected, Actual: actual})
	}
	if len(r.EpochBundles) == 0 {
		mismatch("epoch_bundles", "non-empty", "empty")
		return out
	}
	first, last := r.EpochBundles[0], r.EpochBundles[len(r.EpochBundles)-1]
	if r.EpochStart != first.EpochIndex {
		mismatch("epoch_start", strconv.Itoa(first.EpochIndex), strconv.Itoa(r.EpochStart))
	}
	if r.EpochEnd != last.EpochIndex {
		mismatch("epoch_end", strconv.Itoa(last.EpochIndex), strconv.Itoa(r.EpochEnd))
	}
	if r.EpochCount != len(r.EpochBundles) {
		mismatch("epoch_count", strconv.Itoa(len(r.EpochBundles)), strconv.Itoa(r.EpochCount))
	}
	if expected := relic.RelicID(first.EpochIndex, last.EpochIndex); r.RelicID != expected {
		mismatch("relic_id", expected, r.RelicID)
	}
	if laneCount := len(first.LaneMerkleRoots); r.LaneCount != laneCount {
		mismatch("lane_count", strconv.Itoa(laneCount), strconv.Itoa(r.LaneCount))
	}
	for i, bundle := range r.EpochBundles {
		if bundle.LaneCount != len(bundle.LaneMerkleRoots) {
			mismatch(fmt.Sprintf("epoch_bundles[%d].lane_count", i), strconv.Itoa(len(bundle.LaneMerkleRoots)), strconv.Itoa(bundle.LaneCount))
		}
		if i == 0 {
			continue
		}
		if len(bundle.LaneMerkleRoots) != len(first.LaneMerkleRoots) {
			mismatch(fmt.Sprintf("epoch_bundles[%d].lane_merkle_roots", i),
				fmt.Sprintf("%d roots", len(first.LaneMerkleRoots)), fmt.Sprintf("%d roots", len(bundle.LaneMerkleRoots)))
		}
		// Bundles run in ascending window order without gaps.
		if want := r.EpochBundles[i-1].EpochIndex + 1; bundle.EpochIndex != want {
			mismatch(fmt.Sprintf("epoch_bundles[%d].epoch_index", i), strconv.Itoa(want), strconv.Itoa(bundle.EpochIndex))
		}
	}

	ids := make([]string, 0, len(r.EpochBundles))
	roots := make([]string, 0, len(r.EpochBundles))
	rootsValid := true
	for i, bundle := range r.EpochBundles {
		ids = append(ids, bundle.BundleID)
		root, err := relic.BundleMerkleRoot(bundle.LaneMerkleRoots)
		if err != nil {
			mismatch(fmt.Sprintf("epoch_bundles[%d].lane_merkle_roots", i), "hex sha256 digests", err.Error())
			rootsValid = false
			continue
		}
		if root != bundle.BundleMerkleRoot {
			mismatch(fmt.Sprintf("epoch_bundles[%d].bundle_merkle_root", i), root, bundle.BundleMerkleRoot)
		}
		roots = append(roots, root)
	}
	if rootsValid {
		relicRoot, err := merkle.RootFromHexDigests(roots)
		if err == nil && relicRoot != r.Aggregate.RelicMerkleRoot {
			mismatch("aggregate.relic_merkle_root", relicRoot, r.Aggregate.RelicMerkleRoot)
		}
	}
	if forward := relic.ForwardDigest(ids); forward != r.Aggregate.ChiralCommitment.Forward {
		mismatch("aggregate.chiral_commitment.forward", forward, r.Aggregate.ChiralCommitment.Forward)
	}
	if reverse := relic.ReverseDigest(ids); reverse != r.Aggregate.ChiralCommitment.Reverse {
		mismatch("aggregate.chiral_commitment.reverse", reverse, r.Aggregate.ChiralCommitment.Reverse)
	}
	if strings.Join(ids, ",") != strings.Join(r.Aggregate.BundleIDs, ",") {
		mismatch("aggregate.bundle_ids", strings.Join(ids, ","), strings.Join(r.Aggregate.BundleIDs, ","))
	}
	return out
}

func relicAgainstBundles(r helix.Relic, bundles map[int]helix.EpochBundle) []Mismatch {
	var out []Mismatch
	mismatch := func(field, expected, actual string) {
		out = append(out, Mismatch{Kind: KindRelics, ID: r.RelicID, Field: field, Expected: expected, Actual: actual})
	}
	for i, stored := range r.EpochBundles {
		bundle, ok := bundles[stored.EpochIndex]
		if !ok {
			mismatch(fmt.Sprintf("epoch_bundles[%d]", i), epoch.BundleID(stored.EpochIndex), "absent")
			continue
		}
		if bundle.BundleID != stored.BundleID {
			mismatch(fmt.Sprintf("epoch_bundles[%d].bundle_id", i), bundle.BundleID, stored.BundleID)
		}
		laneRoots := make([]string, 0, len(bundle.Lanes))
		for _, lane := range bundle.Lanes {
			laneRoots = append(laneRoots, lane.MerkleRoot)
		}
		if strings.Join(laneRoots, ",") != strings.Join(stored.LaneMerkleRoots, ",") {
			mismatch(fmt.Sprintf("epoch_bundles[%d].lane_merkle_roots", i), strings.Join(laneRoots, ","), strings.Join(stored.LaneMerkleRoots, ","))
		}
	}
	return out
}
