package verify

import (
	"fmt"
	"os"
	"strconv"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

type epochKey struct {
	lane  int
	index int
}

// Epochs re-slices each lane trace over every persisted epoch's step range
// and recomputes its digests and stats, then checks every bundle against
// the epochs it names. epochLength <= 0 skips the window-length check.
func Epochs(epochDir, laneDir string, epochLength int64) (Report, error) {
	for _, dir := range []string{epochDir, laneDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return Report{}, coreerrors.Config("verify_dir_missing", "directory does not exist: %s", dir)
		}
	}
	files, err := epoch.LoadEpochs(epochDir)
	if err != nil {
		return Report{}, err
	}
	report := Report{Kind: KindEpochs}
	traces := map[int][]int64{}
	byKey := map[epochKey]helix.Epoch{}
	for _, file := range files {
		e := file.Epoch
		byKey[epochKey{lane: e.LaneID, index: e.EpochIndex}] = e
		values, ok := traces[e.LaneID]
		if !ok {
			path := lanes.TracePath(laneDir, e.LaneID)
			if _, statErr := os.Stat(path); statErr != nil {
				return Report{}, coreerrors.Missing("lane_trace_missing", "epoch %s references missing lane trace %s", e.EpochID, path)
			}
			values, err = lanes.ReadTrace(path)
			if err != nil {
				return Report{}, err
			}
			traces[e.LaneID] = values
		}
		report.Checked++
		checkEpoch(&report, file.Path, e, values, epochLength)
	}

	bundles, err := epoch.LoadBundles(epochDir)
	if err != nil {
		return Report{}, err
	}
	for _, file := range bundles {
		report.Checked++
		checkBundle(&report, file.Path, file.Bundle, byKey)
	}
	return report.finish(), nil
}

func checkEpoch(report *Report, path string, e helix.Epoch, values []int64, epochLength int64) {
	mismatch := func(field, expected, actual string) {
		report.add(Mismatch{Path: path, ID: e.EpochID, Field: field, Expected: expected, Actual: actual})
	}
	if expected := epoch.EpochID(e.LaneID, e.EpochIndex); e.EpochID != expected {
		mismatch("epoch_id", expected, e.EpochID)
	}
	if span := e.EndStep - e.StartStep + 1; e.StepCount != span {
		mismatch("step_count", formatInt(span), formatInt(e.StepCount))
	}
	if epochLength > 0 {
		if e.StepCount != epochLength {
			mismatch("step_count", formatInt(epochLength), formatInt(e.StepCount))
		}
		if expected := int64(e.EpochIndex-1)*epochLength + 1; e.StartStep != expected {
			mismatch("start_step", formatInt(expected), formatInt(e.StartStep))
		}
	}
	if e.StartStep < 1 || e.EndStep < e.StartStep || e.EndStep > int64(len(values)) {
		mismatch("end_step", fmt.Sprintf("within 1..%d", len(values)), fmt.Sprintf("%d..%d", e.StartStep, e.EndStep))
		return
	}
	segment := values[e.StartStep-1 : e.EndStep]
	if root := epoch.MerkleRootOfValues(segment); root != e.MerkleRoot {
		mismatch("merkle_root", root, e.MerkleRoot)
	}
	if seq := epoch.SequenceHash(segment); seq != e.SequenceHash {
		mismatch("sequence_hash", seq, e.SequenceHash)
	}
	stats := epoch.ComputeStats(segment)
	if stats.Min != e.Stats.Min {
		mismatch("stats.min", formatInt(stats.Min), formatInt(e.Stats.Min))
	}
	if stats.Max != e.Stats.Max {
		mismatch("stats.max", formatInt(stats.Max), formatInt(e.Stats.Max))
	}
	if stats.Mean != e.Stats.Mean {
		mismatch("stats.mean", formatFloat(stats.Mean), formatFloat(e.Stats.Mean))
	}
}

func checkBundle(report *Report, path string, bundle helix.EpochBundle, epochs map[epochKey]helix.Epoch) {
	mismatch := func(field, expected, actual string) {
		report.add(Mismatch{Path: path, ID: bundle.BundleID, Field: field, Expected: expected, Actual: actual})
	}
	if expected := epoch.BundleID(bundle.EpochIndex); bundle.BundleID != expected {
		mismatch("bundle_id", expected, bundle.BundleID)
	}
	if bundle.LaneCount != len(bundle.Lanes) {
		mismatch("lane_count", strconv.Itoa(len(bundle.Lanes)), strconv.Itoa(bundle.LaneCount))
	}
	for i, lane := range bundle.Lanes {
		prefix := fmt.Sprintf("lanes[%d].", i)
		e, ok := epochs[epochKey{lane: lane.LaneID, index: bundle.EpochIndex}]
		if !ok {
			mismatch(prefix+"epoch_id", epoch.EpochID(lane.LaneID, bundle.EpochIndex), "absent")
			continue
		}
		if lane.EpochID != e.EpochID {
			mismatch(prefix+"epoch_id", e.EpochID, lane.EpochID)
		}
		if lane.MerkleRoot != e.MerkleRoot {
			mismatch(prefix+"merkle_root", e.MerkleRoot, lane.MerkleRoot)
		}
		if lane.SequenceHash != e.SequenceHash {
			mismatch(prefix+"sequence_hash", e.SequenceHash, lane.SequenceHash)
		}
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}
