// Package pipeline runs lanes, epochs, and relics end to end and then
// verifies every stage from what landed on disk.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/recurrence"
	"github.com/davidahmann/hashhelix/core/relic"
	"github.com/davidahmann/hashhelix/core/schema/validate"
	"github.com/davidahmann/hashhelix/core/verify"
)

const (
	LaneDirName  = "lanes"
	EpochDirName = "epochs"
	RelicDirName = "relics"
)

type Config struct {
	WorkDir        string
	Lanes          int
	Steps          int64
	Seed           int64
	SeedStride     int64
	Sign           recurrence.Sign
	Quantizer      recurrence.Quantizer
	Mode           lanes.Mode
	Workers        int
	EpochLength    int64
	MaxEpochs      int
	EpochsPerRelic int
	MaxRelics      int
	Strict         bool
	// ValidateSchemas checks every written epoch, bundle, and relic against
	// its embedded JSON schema.
	ValidateSchemas bool
	// CorruptionProbe mutates the first relic's first bundle_id in memory and
	// requires the relic check to catch it.
	CorruptionProbe bool
	Logger          *slog.Logger
}

type Probe struct {
	RelicID    string            `json:"relic_id"`
	Field      string            `json:"field"`
	Detected   bool              `json:"detected"`
	Mismatches []verify.Mismatch `json:"mismatches,omitempty"`
}

type Report struct {
	WorkDir   string          `json:"work_dir"`
	LaneDir   string          `json:"lane_dir"`
	EpochDir  string          `json:"epoch_dir"`
	RelicDir  string          `json:"relic_dir"`
	Lanes     int             `json:"lanes"`
	Steps     int64           `json:"steps"`
	Epochs    int             `json:"epochs"`
	Bundles   int             `json:"bundles"`
	Relics    int             `json:"relics"`
	Skipped   []epoch.Skip    `json:"skipped,omitempty"`
	Validated int             `json:"schema_validated,omitempty"`
	Checks    []verify.Report `json:"checks"`
	Probe     *Probe          `json:"corruption_probe,omitempty"`
	OK        bool            `json:"ok"`
}

func (c Config) validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return coreerrors.Config("work_dir_required", "pipeline work directory is required")
	}
	if c.EpochLength < 1 {
		return coreerrors.Config("epoch_length_invalid", "epoch_length must be > 0, got %d", c.EpochLength)
	}
	if c.EpochsPerRelic < 1 {
		return coreerrors.Config("epochs_per_relic_invalid", "epochs_per_relic must be > 0, got %d", c.EpochsPerRelic)
	}
	return nil
}

func Run(ctx context.Context, cfg Config) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	report := Report{
		WorkDir:  cfg.WorkDir,
		LaneDir:  filepath.Join(cfg.WorkDir, LaneDirName),
		EpochDir: filepath.Join(cfg.WorkDir, EpochDirName),
		RelicDir: filepath.Join(cfg.WorkDir, RelicDirName),
		Lanes:    cfg.Lanes,
		Steps:    cfg.Steps,
	}

	laneResult, err := lanes.Run(ctx, lanes.Config{
		Lanes:      cfg.Lanes,
		Steps:      cfg.Steps,
		Seed:       cfg.Seed,
		SeedStride: cfg.SeedStride,
		Sign:       cfg.Sign,
		Quantizer:  cfg.Quantizer,
		Mode:       cfg.Mode,
		Workers:    cfg.Workers,
		OutDir:     report.LaneDir,
		Logger:     logger,
	})
	if err != nil {
		return Report{}, err
	}

	epochResult, err := epoch.Run(ctx, epoch.Config{
		LaneDir:     report.LaneDir,
		OutDir:      report.EpochDir,
		EpochLength: cfg.EpochLength,
		MaxEpochs:   cfg.MaxEpochs,
		Strict:      cfg.Strict,
		Logger:      logger,
	})
	if err != nil {
		return Report{}, err
	}
	report.Epochs = len(epochResult.Epochs)
	report.Bundles = len(epochResult.Bundles)
	report.Skipped = append(report.Skipped, epochResult.Skipped...)

	relicResult, err := relic.Run(ctx, relic.Config{
		EpochDir:       report.EpochDir,
		OutDir:         report.RelicDir,
		EpochsPerRelic: cfg.EpochsPerRelic,
		MaxRelics:      cfg.MaxRelics,
		Strict:         cfg.Strict,
		Logger:         logger,
	})
	if err != nil {
		return Report{}, err
	}
	report.Relics = len(relicResult.Relics)
	report.Skipped = append(report.Skipped, relicResult.Skipped...)

	if cfg.ValidateSchemas {
		validated, err := validateArtifacts(epochResult, relicResult)
		if err != nil {
			return Report{}, err
		}
		report.Validated = validated
	}

	laneCheck, err := verify.LaneLengths(report.LaneDir, len(laneResult.Lanes), cfg.Steps)
	if err != nil {
		return Report{}, err
	}
	epochCheck, err := verify.Epochs(report.EpochDir, report.LaneDir, cfg.EpochLength)
	if err != nil {
		return Report{}, err
	}
	report.Checks = append(report.Checks, laneCheck, epochCheck)
	if report.Relics > 0 {
		relicCheck, err := verify.Relics(report.RelicDir, report.EpochDir)
		if err != nil {
			return Report{}, err
		}
		report.Checks = append(report.Checks, relicCheck)
	}
	report.OK = true
	for _, check := range report.Checks {
		check.Log(logger)
		report.OK = report.OK && check.OK
	}

	if cfg.CorruptionProbe && len(relicResult.Relics) > 0 {
		report.Probe = corruptionProbe(relicResult)
		report.OK = report.OK && report.Probe.Detected
		logger.Info("corruption probe", "relic_id", report.Probe.RelicID, "detected", report.Probe.Detected)
	}
	logger.Info("pipeline finished", "ok", report.OK, "epochs", report.Epochs, "bundles", report.Bundles, "relics", report.Relics)
	return report, nil
}

func corruptionProbe(result relic.Result) *Probe {
	tampered := result.Relics[0]
	tampered.EpochBundles = append(tampered.EpochBundles[:0:0], tampered.EpochBundles...)
	tampered.EpochBundles[0].BundleID += "-tampered"
	mismatches := verify.Relic(tampered)
	return &Probe{
		RelicID:    tampered.RelicID,
		Field:      "epoch_bundles[0].bundle_id",
		Detected:   len(mismatches) > 0,
		Mismatches: mismatches,
	}
}

func validateArtifacts(epochs epoch.Result, relics relic.Result) (int, error) {
	count := 0
	check := func(kind validate.Kind, paths []string) error {
		for _, path := range paths {
			if err := validate.ValidateJSONFile(kind, path); err != nil {
				return err
			}
			count++
		}
		return nil
	}
	if err := check(validate.KindEpoch, epochs.EpochPaths); err != nil {
		return 0, err
	}
	if err := check(validate.KindEpochBundle, epochs.BundlePaths); err != nil {
		return 0, err
	}
	if err := check(validate.KindRelic, relics.Paths); err != nil {
		return 0, err
	}
	return count, nil
}
