package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/pipeline"
)

func newPipelineCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run lanes, epochs, relics, and every verification in one pass",
	}
	cmd.AddCommand(newPipelineRunCommand(opts))
	return cmd
}

func newPipelineRunCommand(opts *rootOptions) *cobra.Command {
	flags := &runtimeFlags{}
	var (
		workDir         string
		epochLength     int64
		maxEpochs       int
		epochsPerRelic  int
		maxRelics       int
		validateSchemas bool
		corruptionProbe bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and verify a complete artifact tree under --work-dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.config
			laneCfg, err := flags.laneConfig(cmd, opts, "")
			if err != nil {
				return err
			}
			report, err := pipeline.Run(cmd.Context(), pipeline.Config{
				WorkDir:         pick(cmd, "work-dir", workDir, config.Pipeline.WorkDir),
				Lanes:           laneCfg.Lanes,
				Steps:           laneCfg.Steps,
				Seed:            laneCfg.Seed,
				SeedStride:      laneCfg.SeedStride,
				Sign:            laneCfg.Sign,
				Quantizer:       laneCfg.Quantizer,
				Mode:            laneCfg.Mode,
				Workers:         laneCfg.Workers,
				EpochLength:     pick(cmd, "epoch-length", epochLength, config.Epochs.EpochLength),
				MaxEpochs:       pick(cmd, "max-epochs", maxEpochs, config.Epochs.MaxEpochs),
				EpochsPerRelic:  pick(cmd, "epochs-per-relic", epochsPerRelic, config.Relics.EpochsPerRelic),
				MaxRelics:       pick(cmd, "max-relics", maxRelics, config.Relics.MaxRelics),
				Strict:          opts.strict,
				ValidateSchemas: pick(cmd, "validate-schemas", validateSchemas, config.Pipeline.ValidateSchemas),
				CorruptionProbe: pick(cmd, "corruption-probe", corruptionProbe, config.Pipeline.CorruptionProbe),
				Logger:          opts.logger,
			})
			if err != nil {
				return err
			}
			if err := opts.emit(cmd, report, report.OK, func(w io.Writer) { writePipelineText(w, report) }); err != nil {
				return err
			}
			if !report.OK {
				return &reportedError{err: coreerrors.Wrap(
					fmt.Errorf("pipeline verification failed"),
					coreerrors.CategoryVerification, "pipeline_failed", "", false,
				)}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&workDir, "work-dir", "", "root directory for lanes/, epochs/, and relics/")
	cmd.Flags().Int64Var(&epochLength, "epoch-length", 0, "steps per epoch")
	cmd.Flags().IntVar(&maxEpochs, "max-epochs", 0, "epochs per lane cap (0 = unlimited)")
	cmd.Flags().IntVar(&epochsPerRelic, "epochs-per-relic", 0, "bundles per relic")
	cmd.Flags().IntVar(&maxRelics, "max-relics", 0, "relic cap (0 = unlimited)")
	cmd.Flags().BoolVar(&validateSchemas, "validate-schemas", false, "validate every written artifact against its schema")
	cmd.Flags().BoolVar(&corruptionProbe, "corruption-probe", false, "tamper with a relic copy in memory and require detection")
	return cmd
}

func writePipelineText(w io.Writer, report pipeline.Report) {
	status := "ok"
	if !report.OK {
		status = "FAILED"
	}
	_, _ = fmt.Fprintf(w, "pipeline %s: %d lanes x %d steps, %d epochs, %d bundles, %d relics\n",
		status, report.Lanes, report.Steps, report.Epochs, report.Bundles, report.Relics)
	if report.Validated > 0 {
		_, _ = fmt.Fprintf(w, "schema validated %d artifacts\n", report.Validated)
	}
	writeSkipsText(w, report.Skipped)
	for _, check := range report.Checks {
		writeReportText(w, check)
	}
	if report.Probe != nil {
		_, _ = fmt.Fprintf(w, "corruption probe on %s (%s): detected=%t\n", report.Probe.RelicID, report.Probe.Field, report.Probe.Detected)
	}
}
