package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/recurrence"
)

type runtimeFlags struct {
	lanes       int
	steps       int64
	seed        int64
	seedStride  int64
	mode        string
	sign        string
	quantizer   string
	interleaved bool
	workers     int
}

func (f *runtimeFlags) register(cmd *cobra.Command) {
	f.registerRecurrence(cmd)
	cmd.Flags().StringVar(&f.mode, "mode", "", "generation mode (sequential|parallel)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent lanes in sequential mode")
}

// registerRecurrence registers the flags that determine lane values.
func (f *runtimeFlags) registerRecurrence(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.lanes, "lanes", 0, "number of lanes")
	cmd.Flags().Int64Var(&f.steps, "steps", 0, "values per lane")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "seed of lane 1")
	cmd.Flags().Int64Var(&f.seedStride, "seed-stride", 0, "seed increment per lane")
	cmd.Flags().StringVar(&f.sign, "sign", "", "recurrence sign (plus|minus)")
	cmd.Flags().StringVar(&f.quantizer, "quantizer", "", "recurrence quantizer (floor|round)")
}

// laneConfig builds a lanes.Config from flags over config-file defaults.
func (f *runtimeFlags) laneConfig(cmd *cobra.Command, opts *rootOptions, outDir string) (lanes.Config, error) {
	runtime := opts.config.Runtime
	sign, err := recurrence.ParseSign(pick(cmd, "sign", f.sign, runtime.Sign))
	if err != nil {
		return lanes.Config{}, coreerrors.Config("sign_invalid", "%v", err)
	}
	quantizer, err := recurrence.ParseQuantizer(pick(cmd, "quantizer", f.quantizer, runtime.Quantizer))
	if err != nil {
		return lanes.Config{}, coreerrors.Config("quantizer_invalid", "%v", err)
	}
	mode, err := lanes.ParseMode(pick(cmd, "mode", f.mode, runtime.Mode))
	if err != nil {
		return lanes.Config{}, coreerrors.Config("lane_mode_invalid", "%v", err)
	}
	return lanes.Config{
		Lanes:      pick(cmd, "lanes", f.lanes, runtime.Lanes),
		Steps:      pick(cmd, "steps", f.steps, runtime.Steps),
		Seed:       pick(cmd, "seed", f.seed, runtime.SeedValue()),
		SeedStride: pick(cmd, "seed-stride", f.seedStride, runtime.SeedStride),
		Sign:       sign,
		Quantizer:  quantizer,
		Mode:       mode,
		Workers:    pick(cmd, "workers", f.workers, runtime.Workers),
		OutDir:     outDir,
		Logger:     opts.logger,
	}, nil
}

func newLanesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lanes",
		Short: "Generate recurrence lane traces",
	}
	cmd.AddCommand(newLanesRunCommand(opts))
	return cmd
}

func newLanesRunCommand(opts *rootOptions) *cobra.Command {
	flags := &runtimeFlags{}
	var outDir string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Write laneNN.txt traces for every lane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.laneConfig(cmd, opts, pick(cmd, "out", outDir, opts.config.Runtime.OutDir))
			if err != nil {
				return err
			}
			cfg.Interleaved = pick(cmd, "interleaved", flags.interleaved, opts.config.Runtime.Interleaved)
			result, err := lanes.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return opts.emit(cmd, result, true, func(w io.Writer) {
				for _, lane := range result.Lanes {
					_, _ = fmt.Fprintf(w, "lane %02d seed=%d steps=%d last=%d %s\n", lane.LaneID, lane.Seed, lane.Steps, lane.Last, lane.Path)
				}
				if result.InterleavedPath != "" {
					_, _ = fmt.Fprintf(w, "interleaved %s\n", result.InterleavedPath)
				}
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.interleaved, "interleaved", false, "also write lanes_interleaved.txt (parallel mode)")
	cmd.Flags().StringVar(&outDir, "out", "", "lane output directory")
	return cmd
}
