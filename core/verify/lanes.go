package verify

import (
	"context"
	"fmt"
	"os"
	"strconv"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/recurrence"
)

// LaneCheck describes the traces a lane run should have produced. Recompute
// regenerates every value from the lane seed; otherwise only lengths are
// checked.
type LaneCheck struct {
	Dir        string
	Lanes      int
	Steps      int64
	Seed       int64
	SeedStride int64
	Sign       recurrence.Sign
	Quantizer  recurrence.Quantizer
	Recompute  bool
}

// LaneLengths checks that every laneNN.txt exists with exactly steps values.
func LaneLengths(dir string, laneCount int, steps int64) (Report, error) {
	return Lanes(context.Background(), LaneCheck{Dir: dir, Lanes: laneCount, Steps: steps})
}

func Lanes(ctx context.Context, check LaneCheck) (Report, error) {
	if check.Lanes < 1 {
		return Report{}, coreerrors.Config("lanes_invalid", "lanes must be >= 1, got %d", check.Lanes)
	}
	if check.Steps < 1 {
		return Report{}, coreerrors.Config("steps_invalid", "steps must be >= 1, got %d", check.Steps)
	}
	if info, err := os.Stat(check.Dir); err != nil || !info.IsDir() {
		return Report{}, coreerrors.Config("lane_dir_missing", "lane directory does not exist: %s", check.Dir)
	}
	if check.Sign == 0 {
		check.Sign = recurrence.Plus
	}
	quantizer, err := recurrence.ParseQuantizer(string(check.Quantizer))
	if err != nil {
		return Report{}, coreerrors.Config("quantizer_invalid", "%v", err)
	}

	report := Report{Kind: KindLanes}
	for laneID := 1; laneID <= check.Lanes; laneID++ {
		path := lanes.TracePath(check.Dir, laneID)
		id := fmt.Sprintf("lane%02d", laneID)
		if _, err := os.Stat(path); err != nil {
			report.add(Mismatch{Path: path, ID: id, Field: "trace", Expected: "present", Actual: "absent"})
			continue
		}
		report.Checked++
		if !check.Recompute {
			count, err := lanes.CountTrace(path)
			if err != nil {
				return Report{}, err
			}
			if count != check.Steps {
				report.add(Mismatch{Path: path, ID: id, Field: "steps", Expected: formatInt(check.Steps), Actual: formatInt(count)})
			}
			continue
		}
		values, err := lanes.ReadTrace(path)
		if err != nil {
			return Report{}, err
		}
		if int64(len(values)) != check.Steps {
			report.add(Mismatch{Path: path, ID: id, Field: "steps", Expected: formatInt(check.Steps), Actual: strconv.Itoa(len(values))})
			continue
		}
		seed := lanes.LaneSeed(check.Seed, check.SeedStride, laneID)
		var diverged *Mismatch
		err = lanes.Stream(ctx, seed, check.Steps, check.Sign, quantizer, func(n, value int64) error {
			if diverged == nil && values[n-1] != value {
				diverged = &Mismatch{Path: path, ID: id, Line: int(n), Field: "a", Expected: formatInt(value), Actual: formatInt(values[n-1])}
			}
			return nil
		})
		if err != nil {
			return Report{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "lane_recompute_failed", "", false)
		}
		if diverged != nil {
			report.add(*diverged)
		}
	}
	return report.finish(), nil
}

func formatInt(value int64) string {
	return strconv.FormatInt(value, 10)
}
