package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/davidahmann/hashhelix/core/epoch"
	"github.com/davidahmann/hashhelix/core/relic"
)

func newEpochsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epochs",
		Short: "Aggregate lane traces into epochs and bundles",
	}
	cmd.AddCommand(newEpochsBuildCommand(opts))
	return cmd
}

func newEpochsBuildCommand(opts *rootOptions) *cobra.Command {
	var (
		laneDir     string
		outDir      string
		laneIDs     []int
		epochLength int64
		maxEpochs   int
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Write one epoch per lane window and one bundle per window index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := opts.config.Epochs
			result, err := epoch.Run(cmd.Context(), epoch.Config{
				LaneDir:     pick(cmd, "lanes-dir", laneDir, defaults.LaneDir),
				OutDir:      pick(cmd, "out", outDir, defaults.OutDir),
				Lanes:       laneIDs,
				EpochLength: pick(cmd, "epoch-length", epochLength, defaults.EpochLength),
				MaxEpochs:   pick(cmd, "max-epochs", maxEpochs, defaults.MaxEpochs),
				Strict:      opts.strict,
				Logger:      opts.logger,
			})
			if err != nil {
				return err
			}
			return opts.emit(cmd, result, true, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "lanes %v: %d epochs, %d bundles\n", result.LaneIDs, len(result.EpochPaths), len(result.BundlePaths))
				writeSkipsText(w, result.Skipped)
			})
		},
	}
	cmd.Flags().StringVar(&laneDir, "lanes-dir", "", "directory holding laneNN.txt traces")
	cmd.Flags().StringVar(&outDir, "out", "", "epoch output directory")
	cmd.Flags().IntSliceVar(&laneIDs, "lane", nil, "lane ids to include (default: every laneNN.txt found)")
	cmd.Flags().Int64Var(&epochLength, "epoch-length", 0, "steps per epoch")
	cmd.Flags().IntVar(&maxEpochs, "max-epochs", 0, "epochs per lane cap (0 = unlimited)")
	return cmd
}

func newRelicsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relics",
		Short: "Aggregate epoch bundles into relics",
	}
	cmd.AddCommand(newRelicsBuildCommand(opts))
	return cmd
}

func newRelicsBuildCommand(opts *rootOptions) *cobra.Command {
	var (
		epochDir       string
		outDir         string
		epochsPerRelic int
		maxRelics      int
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Write one relic per group of consecutive bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := opts.config.Relics
			result, err := relic.Run(cmd.Context(), relic.Config{
				EpochDir:       pick(cmd, "epochs-dir", epochDir, defaults.EpochDir),
				OutDir:         pick(cmd, "out", outDir, defaults.OutDir),
				EpochsPerRelic: pick(cmd, "epochs-per-relic", epochsPerRelic, defaults.EpochsPerRelic),
				MaxRelics:      pick(cmd, "max-relics", maxRelics, defaults.MaxRelics),
				Strict:         opts.strict,
				Logger:         opts.logger,
			})
			if err != nil {
				return err
			}
			return opts.emit(cmd, result, true, func(w io.Writer) {
				for i, path := range result.Paths {
					_, _ = fmt.Fprintf(w, "%s root=%s %s\n", result.Relics[i].RelicID, result.Relics[i].Aggregate.RelicMerkleRoot, path)
				}
				writeSkipsText(w, result.Skipped)
			})
		},
	}
	cmd.Flags().StringVar(&epochDir, "epochs-dir", "", "directory holding epoch bundles")
	cmd.Flags().StringVar(&outDir, "out", "", "relic output directory")
	cmd.Flags().IntVar(&epochsPerRelic, "epochs-per-relic", 0, "bundles per relic")
	cmd.Flags().IntVar(&maxRelics, "max-relics", 0, "relic cap (0 = unlimited)")
	return cmd
}

func writeSkipsText(w io.Writer, skipped []epoch.Skip) {
	for _, skip := range skipped {
		_, _ = fmt.Fprintf(w, "skipped %s: %s\n", skip.Kind, skip.Reason)
	}
}
