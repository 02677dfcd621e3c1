// Package epoch slices lane traces into fixed windows and groups the
// per-lane windows of the same index into bundles.
package epoch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/merkle"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func EpochID(laneID, epochIndex int) string {
	return fmt.Sprintf("epoch-lane%02d-ep%04d", laneID, epochIndex)
}

func EpochFileName(laneID, epochIndex int) string {
	return fmt.Sprintf("epoch_lane%02d_ep%04d.json", laneID, epochIndex)
}

func BundleID(epochIndex int) string {
	return fmt.Sprintf("epoch-bundle-ep%04d", epochIndex)
}

func BundleFileName(epochIndex int) string {
	return fmt.Sprintf("epoch_bundle_ep%04d.json", epochIndex)
}

// MerkleRootOfValues is the Merkle root with each decimal value as a leaf.
func MerkleRootOfValues(values []int64) string {
	leaves := make([][]byte, len(values))
	for i, value := range values {
		leaves[i] = []byte(strconv.FormatInt(value, 10))
	}
	return merkle.RootHex(leaves)
}

// SequenceHash is sha256 over "v\n" for every value in order.
func SequenceHash(values []int64) string {
	h := sha256.New()
	var buf [24]byte
	for _, value := range values {
		line := strconv.AppendInt(buf[:0], value, 10)
		line = append(line, '\n')
		_, _ = h.Write(line)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func ComputeStats(values []int64) helix.EpochStats {
	if len(values) == 0 {
		return helix.EpochStats{}
	}
	stats := helix.EpochStats{Min: values[0], Max: values[0]}
	var sum int64
	for _, value := range values {
		if value < stats.Min {
			stats.Min = value
		}
		if value > stats.Max {
			stats.Max = value
		}
		sum += value
	}
	stats.Mean = float64(sum) / float64(len(values))
	return stats
}

// Build cuts values into floor(len/epochLength) complete windows, capped by
// maxEpochs when it is positive. A trailing partial window is dropped.
func Build(laneID int, values []int64, epochLength int64, maxEpochs int) ([]helix.Epoch, error) {
	if epochLength < 1 {
		return nil, coreerrors.Config("epoch_length_invalid", "epoch_length must be > 0, got %d", epochLength)
	}
	if laneID < 1 {
		return nil, coreerrors.Config("lane_id_invalid", "lane id must be >= 1, got %d", laneID)
	}
	count := int64(len(values)) / epochLength
	if maxEpochs > 0 && count > int64(maxEpochs) {
		count = int64(maxEpochs)
	}
	epochs := make([]helix.Epoch, 0, count)
	for i := int64(1); i <= count; i++ {
		start := (i - 1) * epochLength
		end := start + epochLength
		epochs = append(epochs, Window(laneID, int(i), start+1, values[start:end]))
	}
	return epochs, nil
}

// Window summarizes one slice whose first value sits at startStep.
func Window(laneID, epochIndex int, startStep int64, segment []int64) helix.Epoch {
	return helix.Epoch{
		SchemaID:      helix.SchemaEpoch,
		SchemaVersion: helix.SchemaVersion,
		EpochID:       EpochID(laneID, epochIndex),
		LaneID:        laneID,
		EpochIndex:    epochIndex,
		StartStep:     startStep,
		EndStep:       startStep + int64(len(segment)) - 1,
		StepCount:     int64(len(segment)),
		MerkleRoot:    MerkleRootOfValues(segment),
		SequenceHash:  SequenceHash(segment),
		Stats:         ComputeStats(segment),
	}
}

// Skip records work left out in lenient mode.
type Skip struct {
	Kind       string `json:"kind"`
	LaneID     int    `json:"lane_id,omitempty"`
	EpochIndex int    `json:"epoch_index,omitempty"`
	Reason     string `json:"reason"`
}

// BuildBundles groups epochs by window index. Every lane in laneIDs must
// contribute an epoch to a window; otherwise strict mode fails and lenient
// mode skips the window.
func BuildBundles(epochs []helix.Epoch, laneIDs []int, strict bool) ([]helix.EpochBundle, []Skip, error) {
	byIndex := map[int][]helix.Epoch{}
	for _, epoch := range epochs {
		byIndex[epoch.EpochIndex] = append(byIndex[epoch.EpochIndex], epoch)
	}
	indices := make([]int, 0, len(byIndex))
	for index := range byIndex {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	bundles := make([]helix.EpochBundle, 0, len(indices))
	skipped := []Skip{}
	for _, index := range indices {
		members := byIndex[index]
		sort.Slice(members, func(i, j int) bool { return members[i].LaneID < members[j].LaneID })
		missing := missingLanes(members, laneIDs)
		if len(missing) > 0 {
			if strict {
				return nil, nil, coreerrors.Missing("bundle_lane_missing", "epoch window %d has no epoch for lanes %v", index, missing)
			}
			skipped = append(skipped, Skip{Kind: "bundle", EpochIndex: index, Reason: fmt.Sprintf("no epoch for lanes %v", missing)})
			continue
		}
		bundle := helix.EpochBundle{
			SchemaID:      helix.SchemaEpochBundle,
			SchemaVersion: helix.SchemaVersion,
			BundleID:      BundleID(index),
			BundleType:    helix.BundleTypeEpoch,
			EpochIndex:    index,
			LaneCount:     len(members),
			Lanes:         make([]helix.BundleLane, 0, len(members)),
		}
		for _, member := range members {
			bundle.Lanes = append(bundle.Lanes, helix.BundleLane{
				LaneID:       member.LaneID,
				EpochID:      member.EpochID,
				MerkleRoot:   member.MerkleRoot,
				SequenceHash: member.SequenceHash,
			})
		}
		bundles = append(bundles, bundle)
	}
	return bundles, skipped, nil
}

func missingLanes(members []helix.Epoch, laneIDs []int) []int {
	present := map[int]struct{}{}
	for _, member := range members {
		present[member.LaneID] = struct{}{}
	}
	missing := []int{}
	for _, laneID := range laneIDs {
		if _, ok := present[laneID]; !ok {
			missing = append(missing, laneID)
		}
	}
	return missing
}
