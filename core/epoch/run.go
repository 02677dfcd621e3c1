package epoch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

type Config struct {
	LaneDir string
	OutDir  string
	// Lanes lists lane ids to process; empty discovers laneNN.txt in LaneDir.
	Lanes       []int
	EpochLength int64
	MaxEpochs   int
	Strict      bool
	Logger      *slog.Logger
}

type Result struct {
	LaneIDs     []int               `json:"lane_ids"`
	Epochs      []helix.Epoch       `json:"-"`
	Bundles     []helix.EpochBundle `json:"-"`
	EpochPaths  []string            `json:"epoch_paths"`
	BundlePaths []string            `json:"bundle_paths"`
	Skipped     []Skip              `json:"skipped,omitempty"`
}

func (c Config) validate() error {
	if strings.TrimSpace(c.LaneDir) == "" {
		return coreerrors.Config("lane_dir_required", "lane directory is required")
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return coreerrors.Config("epoch_dir_required", "epoch output directory is required")
	}
	if c.EpochLength < 1 {
		return coreerrors.Config("epoch_length_invalid", "epoch_length must be > 0, got %d", c.EpochLength)
	}
	if c.MaxEpochs < 0 {
		return coreerrors.Config("max_epochs_invalid", "max_epochs must be >= 0, got %d", c.MaxEpochs)
	}
	info, err := os.Stat(c.LaneDir)
	if err != nil || !info.IsDir() {
		return coreerrors.Config("lane_dir_missing", "lane directory does not exist: %s", c.LaneDir)
	}
	return nil
}

// Run builds epochs for every lane, then bundles, and writes both to OutDir.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	laneIDs := cfg.Lanes
	if len(laneIDs) == 0 {
		discovered, err := lanes.DiscoverLanes(cfg.LaneDir)
		if err != nil {
			return Result{}, err
		}
		laneIDs = discovered
	}
	if len(laneIDs) == 0 {
		return Result{}, coreerrors.Missing("lanes_not_found", "no lane traces found in %s", cfg.LaneDir)
	}

	result := Result{}
	for _, laneID := range laneIDs {
		if err := ctx.Err(); err != nil {
			return Result{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "epoch_run_cancelled", "rerun the epoch build", true)
		}
		values, err := lanes.ReadTrace(lanes.TracePath(cfg.LaneDir, laneID))
		if err != nil {
			if !cfg.Strict && coreerrors.CategoryOf(err) == coreerrors.CategoryDependencyMissing {
				result.Skipped = append(result.Skipped, Skip{Kind: "lane", LaneID: laneID, Reason: err.Error()})
				logger.Warn("lane skipped", "lane", laneID, "reason", err.Error())
				continue
			}
			return Result{}, err
		}
		epochs, err := Build(laneID, values, cfg.EpochLength, cfg.MaxEpochs)
		if err != nil {
			return Result{}, err
		}
		for _, epoch := range epochs {
			path, err := WriteEpoch(cfg.OutDir, epoch)
			if err != nil {
				return Result{}, err
			}
			result.EpochPaths = append(result.EpochPaths, path)
			logger.Debug("epoch written", "epoch_id", epoch.EpochID, "merkle_root", epoch.MerkleRoot)
		}
		result.LaneIDs = append(result.LaneIDs, laneID)
		result.Epochs = append(result.Epochs, epochs...)
	}

	bundles, skipped, err := BuildBundles(result.Epochs, result.LaneIDs, cfg.Strict)
	if err != nil {
		return Result{}, err
	}
	result.Skipped = append(result.Skipped, skipped...)
	for _, bundle := range bundles {
		path, err := WriteBundle(cfg.OutDir, bundle)
		if err != nil {
			return Result{}, err
		}
		result.BundlePaths = append(result.BundlePaths, path)
	}
	result.Bundles = bundles
	logger.Info("epochs built", "lanes", len(result.LaneIDs), "epochs", len(result.Epochs), "bundles", len(bundles), "skipped", len(result.Skipped))
	return result, nil
}
