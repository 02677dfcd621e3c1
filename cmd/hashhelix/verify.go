package main

import (
	"github.com/spf13/cobra"

	"github.com/davidahmann/hashhelix/core/verify"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-derive persisted artifacts and report mismatches",
		Long:  "verify recomputes every digest from its inputs and reports where stored values disagree. Nothing is ever repaired. Exit code 1 means at least one mismatch was found.",
	}
	cmd.AddCommand(
		newVerifyChainCommand(opts),
		newVerifyCheckpointsCommand(opts),
		newVerifyLanesCommand(opts),
		newVerifyEpochsCommand(opts),
		newVerifyRelicsCommand(opts),
	)
	return cmd
}

func newVerifyChainCommand(opts *rootOptions) *cobra.Command {
	flags := &ledgerFlags{}
	var fromCheckpoint bool
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Replay a ledger from genesis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ledgerOpts, err := flags.resolve(cmd, opts)
			if err != nil {
				return err
			}
			replay := verify.Chain
			if fromCheckpoint {
				replay = verify.ChainFromLastCheckpoint
			}
			report, err := replay(path, ledgerOpts)
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&fromCheckpoint, "from-checkpoint", false, "resume replay at the newest checkpoint instead of genesis")
	return cmd
}

func newVerifyCheckpointsCommand(opts *rootOptions) *cobra.Command {
	flags := &ledgerFlags{}
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Re-derive checkpoint digests, linkage, and segment roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ledgerOpts, err := flags.resolve(cmd, opts)
			if err != nil {
				return err
			}
			report, err := verify.Checkpoints(path, ledgerOpts)
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	flags.register(cmd)
	return cmd
}

func newVerifyLanesCommand(opts *rootOptions) *cobra.Command {
	flags := &runtimeFlags{}
	var (
		dir       string
		recompute bool
	)
	cmd := &cobra.Command{
		Use:   "lanes",
		Short: "Check lane trace lengths and optionally regenerate every value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			laneDir := pick(cmd, "lanes-dir", dir, opts.config.Runtime.OutDir)
			cfg, err := flags.laneConfig(cmd, opts, laneDir)
			if err != nil {
				return err
			}
			report, err := verify.Lanes(cmd.Context(), verify.LaneCheck{
				Dir:        laneDir,
				Lanes:      cfg.Lanes,
				Steps:      cfg.Steps,
				Seed:       cfg.Seed,
				SeedStride: cfg.SeedStride,
				Sign:       cfg.Sign,
				Quantizer:  cfg.Quantizer,
				Recompute:  recompute,
			})
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	flags.registerRecurrence(cmd)
	cmd.Flags().StringVar(&dir, "lanes-dir", "", "directory holding laneNN.txt traces")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "regenerate each lane from its seed and compare every value")
	return cmd
}

func newVerifyEpochsCommand(opts *rootOptions) *cobra.Command {
	var (
		epochDir    string
		laneDir     string
		epochLength int64
	)
	cmd := &cobra.Command{
		Use:   "epochs",
		Short: "Recompute epochs and bundles from lane traces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := opts.config.Epochs
			report, err := verify.Epochs(
				pick(cmd, "epochs-dir", epochDir, defaults.OutDir),
				pick(cmd, "lanes-dir", laneDir, defaults.LaneDir),
				pick(cmd, "epoch-length", epochLength, defaults.EpochLength),
			)
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	cmd.Flags().StringVar(&epochDir, "epochs-dir", "", "directory holding epochs and bundles")
	cmd.Flags().StringVar(&laneDir, "lanes-dir", "", "directory holding laneNN.txt traces")
	cmd.Flags().Int64Var(&epochLength, "epoch-length", 0, "steps per epoch")
	return cmd
}

func newVerifyRelicsCommand(opts *rootOptions) *cobra.Command {
	var (
		relicDir string
		epochDir string
	)
	cmd := &cobra.Command{
		Use:   "relics",
		Short: "Recompute relic roots and chiral commitments",
		Long:  "relics recomputes every relic from its own bundle list. With --epochs-dir each relic is also checked against the bundles on disk.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := verify.Relics(
				pick(cmd, "relics-dir", relicDir, opts.config.Relics.OutDir),
				epochDir,
			)
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	cmd.Flags().StringVar(&relicDir, "relics-dir", "", "directory holding relic files")
	cmd.Flags().StringVar(&epochDir, "epochs-dir", "", "cross-check relics against bundles in this directory")
	return cmd
}
