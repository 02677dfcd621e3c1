// Package relic aggregates contiguous runs of epoch bundles.
//
// Bundle and relic roots are folded over the lane roots as digests, not
// re-hashed leaves. The forward/reverse pair is order-sensitive by
// construction and is unrelated to the commutative entry-level commit in
// package strand.
package relic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/merkle"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func RelicID(epochStart, epochEnd int) string {
	return fmt.Sprintf("relic-ep%04d-ep%04d", epochStart, epochEnd)
}

func RelicFileName(epochStart, epochEnd int) string {
	return RelicID(epochStart, epochEnd) + ".json"
}

// ForwardDigest is sha256 over id+"\n" for every id in order.
func ForwardDigest(ids []string) string {
	h := sha256.New()
	for _, id := range ids {
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReverseDigest is ForwardDigest over the reversed id list.
func ReverseDigest(ids []string) string {
	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	return ForwardDigest(reversed)
}

// BundleMerkleRoot folds the non-empty lane roots of a bundle.
func BundleMerkleRoot(laneRoots []string) (string, error) {
	present := make([]string, 0, len(laneRoots))
	for _, root := range laneRoots {
		if root != "" {
			present = append(present, root)
		}
	}
	root, err := merkle.RootFromHexDigests(present)
	if err != nil {
		return "", coreerrors.Format("lane_root_invalid", "lane merkle root: %v", err)
	}
	return root, nil
}

func bundleIDOf(bundle helix.EpochBundle) string {
	if bundle.BundleID != "" {
		return bundle.BundleID
	}
	return epoch.BundleID(bundle.EpochIndex)
}

// BuildOne aggregates bundles, already in window order, into one relic.
func BuildOne(relicIndex int, bundles []helix.EpochBundle) (helix.Relic, error) {
	if len(bundles) == 0 {
		return helix.Relic{}, coreerrors.Config("relic_empty", "a relic needs at least one bundle")
	}
	relic := helix.Relic{
		SchemaID:      helix.SchemaRelic,
		SchemaVersion: helix.SchemaVersion,
		RelicIndex:    relicIndex,
		EpochStart:    bundles[0].EpochIndex,
		EpochEnd:      bundles[len(bundles)-1].EpochIndex,
		EpochCount:    len(bundles),
		LaneCount:     len(bundles[0].Lanes),
		EpochBundles:  make([]helix.RelicBundle, 0, len(bundles)),
	}
	relic.RelicID = RelicID(relic.EpochStart, relic.EpochEnd)
	bundleIDs := make([]string, 0, len(bundles))
	bundleRoots := make([]string, 0, len(bundles))
	for _, bundle := range bundles {
		laneRoots := make([]string, 0, len(bundle.Lanes))
		for _, lane := range bundle.Lanes {
			laneRoots = append(laneRoots, lane.MerkleRoot)
		}
		bundleRoot, err := BundleMerkleRoot(laneRoots)
		if err != nil {
			return helix.Relic{}, err
		}
		id := bundleIDOf(bundle)
		bundleIDs = append(bundleIDs, id)
		bundleRoots = append(bundleRoots, bundleRoot)
		relic.EpochBundles = append(relic.EpochBundles, helix.RelicBundle{
			EpochIndex:       bundle.EpochIndex,
			BundleID:         id,
			LaneCount:        len(bundle.Lanes),
			LaneMerkleRoots:  laneRoots,
			BundleMerkleRoot: bundleRoot,
		})
	}
	relicRoot, err := merkle.RootFromHexDigests(bundleRoots)
	if err != nil {
		return helix.Relic{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "relic_root_failed", "", false)
	}
	relic.Aggregate = helix.RelicAggregate{
		RelicMerkleRoot: relicRoot,
		ChiralCommitment: helix.ChiralPair{
			Forward: ForwardDigest(bundleIDs),
			Reverse: ReverseDigest(bundleIDs),
		},
		BundleIDs: bundleIDs,
	}
	return relic, nil
}

// Build groups bundles into runs of epochsPerRelic by ascending window index.
// A trailing partial run is dropped and maxRelics caps the count when
// positive. A run with a window gap or differing lane counts fails in strict
// mode and is skipped otherwise.
func Build(bundles []helix.EpochBundle, epochsPerRelic, maxRelics int, strict bool) ([]helix.Relic, []epoch.Skip, error) {
	if epochsPerRelic < 1 {
		return nil, nil, coreerrors.Config("epochs_per_relic_invalid", "epochs_per_relic must be > 0, got %d", epochsPerRelic)
	}
	ordered := make([]helix.EpochBundle, len(bundles))
	copy(ordered, bundles)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].EpochIndex < ordered[j].EpochIndex })

	count := len(ordered) / epochsPerRelic
	if maxRelics > 0 && count > maxRelics {
		count = maxRelics
	}
	relics := make([]helix.Relic, 0, count)
	skipped := []epoch.Skip{}
	for relicIndex := 1; relicIndex <= count; relicIndex++ {
		group := ordered[(relicIndex-1)*epochsPerRelic : relicIndex*epochsPerRelic]
		if reason := groupProblem(group); reason != "" {
			if strict {
				return nil, nil, coreerrors.Missing("relic_group_incomplete", "relic %d: %s", relicIndex, reason)
			}
			skipped = append(skipped, epoch.Skip{Kind: "relic", EpochIndex: group[0].EpochIndex, Reason: reason})
			continue
		}
		relic, err := BuildOne(relicIndex, group)
		if err != nil {
			return nil, nil, err
		}
		relics = append(relics, relic)
	}
	return relics, skipped, nil
}

func groupProblem(group []helix.EpochBundle) string {
	for i := 1; i < len(group); i++ {
		if group[i].EpochIndex != group[i-1].EpochIndex+1 {
			return fmt.Sprintf("window gap between %d and %d", group[i-1].EpochIndex, group[i].EpochIndex)
		}
		if len(group[i].Lanes) != len(group[0].Lanes) {
			return fmt.Sprintf("window %d has %d lanes, window %d has %d", group[i].EpochIndex, len(group[i].Lanes), group[0].EpochIndex, len(group[0].Lanes))
		}
	}
	return ""
}
