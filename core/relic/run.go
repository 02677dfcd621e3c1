package relic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

type Config struct {
	EpochDir       string
	OutDir         string
	EpochsPerRelic int
	MaxRelics      int
	Strict         bool
	Logger         *slog.Logger
}

type Result struct {
	Relics  []helix.Relic `json:"-"`
	Paths   []string      `json:"relic_paths"`
	Skipped []epoch.Skip  `json:"skipped,omitempty"`
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if strings.TrimSpace(cfg.EpochDir) == "" {
		return Result{}, coreerrors.Config("epoch_dir_required", "epoch directory is required")
	}
	if strings.TrimSpace(cfg.OutDir) == "" {
		return Result{}, coreerrors.Config("relic_dir_required", "relic output directory is required")
	}
	if cfg.EpochsPerRelic < 1 {
		return Result{}, coreerrors.Config("epochs_per_relic_invalid", "epochs_per_relic must be > 0, got %d", cfg.EpochsPerRelic)
	}
	if cfg.MaxRelics < 0 {
		return Result{}, coreerrors.Config("max_relics_invalid", "max_relics must be >= 0, got %d", cfg.MaxRelics)
	}
	if info, err := os.Stat(cfg.EpochDir); err != nil || !info.IsDir() {
		return Result{}, coreerrors.Config("epoch_dir_missing", "epoch directory does not exist: %s", cfg.EpochDir)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	files, err := epoch.LoadBundles(cfg.EpochDir)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, coreerrors.Missing("bundles_not_found", "no epoch_bundle_epXXXX.json files found in %s", cfg.EpochDir)
	}
	bundles := make([]helix.EpochBundle, len(files))
	for i, file := range files {
		bundles[i] = file.Bundle
	}
	if err := ctx.Err(); err != nil {
		return Result{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "relic_run_cancelled", "rerun the relic build", true)
	}
	relics, skipped, err := Build(bundles, cfg.EpochsPerRelic, cfg.MaxRelics, cfg.Strict)
	if err != nil {
		return Result{}, err
	}
	result := Result{Relics: relics, Skipped: skipped}
	for _, relic := range relics {
		path, err := WriteRelic(cfg.OutDir, relic)
		if err != nil {
			return Result{}, err
		}
		result.Paths = append(result.Paths, path)
		logger.Debug("relic written", "relic_id", relic.RelicID, "root", relic.Aggregate.RelicMerkleRoot)
	}
	for _, skip := range skipped {
		logger.Warn("relic group skipped", "epoch_index", skip.EpochIndex, "reason", skip.Reason)
	}
	logger.Info("relics built", "bundles", len(bundles), "relics", len(relics), "skipped", len(skipped))
	return result, nil
}

func WriteRelic(dir string, relic helix.Relic) (string, error) {
	path := filepath.Join(dir, RelicFileName(relic.EpochStart, relic.EpochEnd))
	if err := fsx.WriteJSONAtomic(path, relic, 0o644); err != nil {
		return "", coreerrors.IO(err, "relic_write_failed")
	}
	return path, nil
}

func ReadRelic(path string) (helix.Relic, error) {
	// #nosec G304 -- relic path is explicit caller input.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return helix.Relic{}, coreerrors.Missing("relic_missing", "missing relic: %s", path)
		}
		return helix.Relic{}, coreerrors.IO(fmt.Errorf("read %s: %w", path, err), "relic_read_failed")
	}
	var relic helix.Relic
	if err := json.Unmarshal(raw, &relic); err != nil {
		return helix.Relic{}, coreerrors.Format("relic_json_invalid", "%s: %v", path, err)
	}
	if relic.SchemaID != "" && relic.SchemaID != helix.SchemaRelic {
		return helix.Relic{}, coreerrors.Format("relic_schema_invalid", "%s: schema_id %q is not %s", path, relic.SchemaID, helix.SchemaRelic)
	}
	return relic, nil
}

type RelicFile struct {
	Path  string
	Relic helix.Relic
}

// LoadRelics reads every relic-epAAAA-epBBBB.json in dir ordered by epoch_start.
func LoadRelics(dir string) ([]RelicFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "relic-ep*-ep*.json"))
	if err != nil {
		return nil, coreerrors.Config("relic_glob_invalid", "%v", err)
	}
	files := make([]RelicFile, 0, len(paths))
	for _, path := range paths {
		relic, err := ReadRelic(path)
		if err != nil {
			return nil, err
		}
		files = append(files, RelicFile{Path: path, Relic: relic})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Relic.EpochStart < files[j].Relic.EpochStart })
	return files, nil
}
