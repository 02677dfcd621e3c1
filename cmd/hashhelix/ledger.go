package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/ledger"
	"github.com/davidahmann/hashhelix/core/recurrence"
	"github.com/davidahmann/hashhelix/core/verify"
)

type ledgerFlags struct {
	path      string
	variant   string
	quantizer string
}

func (f *ledgerFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.path, "ledger", "", "ledger JSONL path")
	cmd.PersistentFlags().StringVar(&f.variant, "variant", "", "ledger variant (single|chiral)")
	cmd.PersistentFlags().StringVar(&f.quantizer, "quantizer", "", "recurrence quantizer (floor|round)")
}

// resolve merges flags over the config file and returns the ledger path and
// options.
func (f *ledgerFlags) resolve(cmd *cobra.Command, opts *rootOptions) (string, ledger.Options, error) {
	path := pick(cmd, "ledger", f.path, opts.config.Ledger.Path)
	if path == "" {
		return "", ledger.Options{}, coreerrors.Config("ledger_path_required", "--ledger is required")
	}
	variant, err := ledger.ParseVariant(pick(cmd, "variant", f.variant, opts.config.Ledger.Variant))
	if err != nil {
		return "", ledger.Options{}, coreerrors.Config("ledger_variant_invalid", "%v", err)
	}
	quantizer, err := recurrence.ParseQuantizer(pick(cmd, "quantizer", f.quantizer, opts.config.Ledger.Quantizer))
	if err != nil {
		return "", ledger.Options{}, coreerrors.Config("ledger_quantizer_invalid", "%v", err)
	}
	return path, ledger.Options{Variant: variant, Quantizer: quantizer, Logger: opts.logger}, nil
}

func (f *ledgerFlags) open(cmd *cobra.Command, opts *rootOptions) (*ledger.Ledger, error) {
	path, ledgerOpts, err := f.resolve(cmd, opts)
	if err != nil {
		return nil, err
	}
	return ledger.Open(path, ledgerOpts)
}

func newLedgerCommand(opts *rootOptions) *cobra.Command {
	flags := &ledgerFlags{}
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Append to, inspect, and verify hash-chain ledgers",
	}
	flags.register(cmd)
	cmd.AddCommand(
		newLedgerAppendCommand(opts, flags),
		newLedgerHeadCommand(opts, flags),
		newLedgerVerifyCommand(opts, flags),
		newLedgerCheckpointCommand(opts, flags),
		newLedgerProveCommand(opts, flags),
	)
	return cmd
}

func newLedgerAppendCommand(opts *rootOptions, flags *ledgerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "append PAYLOAD...",
		Short: "Append one entry per payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := flags.open(cmd, opts)
			if err != nil {
				return err
			}
			entries := make([]ledger.Entry, 0, len(args))
			for _, payload := range args {
				entry, err := l.Append(payload)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
			}
			data := map[string]any{"ledger": l.Path(), "variant": l.Variant(), "entries": entries}
			return opts.emit(cmd, data, true, func(w io.Writer) {
				for _, entry := range entries {
					writeEntryText(w, entry)
				}
			})
		},
	}
}

func newLedgerHeadCommand(opts *rootOptions, flags *ledgerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the newest ledger entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := flags.open(cmd, opts)
			if err != nil {
				return err
			}
			head, ok := l.Head()
			if !ok {
				return coreerrors.Missing("ledger_empty", "ledger %s has no entries", l.Path())
			}
			data := map[string]any{"ledger": l.Path(), "entries": l.Len(), "head": head}
			return opts.emit(cmd, data, true, func(w io.Writer) { writeEntryText(w, head) })
		},
	}
}

func newLedgerVerifyCommand(opts *rootOptions, flags *ledgerFlags) *cobra.Command {
	var fromCheckpoint bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the ledger and report the first disagreement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ledgerOpts, err := flags.resolve(cmd, opts)
			if err != nil {
				return err
			}
			var report verify.Report
			if fromCheckpoint {
				report, err = verify.ChainFromLastCheckpoint(path, ledgerOpts)
			} else {
				report, err = verify.Chain(path, ledgerOpts)
			}
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&fromCheckpoint, "from-checkpoint", false, "resume replay at the newest checkpoint instead of genesis")
	return cmd
}

func newLedgerCheckpointCommand(opts *rootOptions, flags *ledgerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Record a checkpoint at the current head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := flags.open(cmd, opts)
			if err != nil {
				return err
			}
			checkpoint, err := l.Checkpoint()
			if err != nil {
				return err
			}
			return opts.emit(cmd, checkpoint, true, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "checkpoint %d n=%d segment=[%d,%d] root=%s\n",
					checkpoint.Index, checkpoint.N, checkpoint.SegmentStart, checkpoint.SegmentEnd, checkpoint.SegmentRoot)
			})
		},
	}
}

func newLedgerProveCommand(opts *rootOptions, flags *ledgerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prove N",
		Short: "Prove entry N is committed to by a checkpoint segment root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || n < 1 {
				return coreerrors.Config("entry_index_invalid", "entry index must be a positive integer, got %q", args[0])
			}
			l, err := flags.open(cmd, opts)
			if err != nil {
				return err
			}
			proof, err := l.Prove(n)
			if err != nil {
				return err
			}
			return opts.emit(cmd, proof, true, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "entry n=%d included in checkpoint %d root=%s (%d steps)\n",
					proof.N, proof.Checkpoint, proof.SegmentRoot, len(proof.Proof.Steps))
			})
		},
	}
}

func writeEntryText(w io.Writer, entry ledger.Entry) {
	if entry.Minus != nil {
		_, _ = fmt.Fprintf(w, "n=%d a+=%d a-=%d commit=%s\n", entry.N, entry.Plus.Value, entry.Minus.Value, entry.Commit)
		return
	}
	_, _ = fmt.Fprintf(w, "n=%d a=%d h=%s\n", entry.N, entry.Plus.Value, entry.Plus.Hash)
}
