package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/logx"
	"github.com/davidahmann/hashhelix/core/projectconfig"
	"github.com/davidahmann/hashhelix/core/verify"
)

type rootOptions struct {
	configPath    string
	format        string
	logLevel      string
	logFile       string
	strict        bool
	correlationID string

	config   projectconfig.Config
	logger   *slog.Logger
	closeLog func() error
}

func newRootCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hashhelix",
		Short:         "Chiral hash-chain ledger and Merkle epoch/relic aggregation",
		Long:          "hashhelix appends to dual-strand hash-chain ledgers, generates recurrence lane traces, aggregates them into epochs and relics, and re-derives every artifact to prove it untampered.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", projectconfig.DefaultPath, "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "also write JSON logs to this file")
	cmd.PersistentFlags().BoolVar(&opts.strict, "strict", true, "fail on missing lanes, windows, or bundles instead of skipping them")

	cmd.AddCommand(newLedgerCommand(opts))
	cmd.AddCommand(newLanesCommand(opts))
	cmd.AddCommand(newEpochsCommand(opts))
	cmd.AddCommand(newRelicsCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newPipelineCommand(opts))
	cmd.AddCommand(newSealCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newDoctorCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

func (opts *rootOptions) setup(cmd *cobra.Command, stderr io.Writer) error {
	opts.format = strings.ToLower(strings.TrimSpace(opts.format))
	if !slices.Contains(validFormats, opts.format) {
		return coreerrors.Config("format_invalid", "invalid format %q: must be one of %v", opts.format, validFormats)
	}
	opts.correlationID = uuid.NewString()

	configPath := strings.TrimSpace(opts.configPath)
	allowMissing := !cmd.Flags().Changed("config")
	configuration, err := projectconfig.Load(configPath, allowMissing)
	if err != nil {
		return err
	}
	opts.config = configuration.WithDefaults()
	if !cmd.Flags().Changed("strict") {
		opts.strict = configuration.StrictMode()
	}

	level := opts.config.Log.Level
	if cmd.Flags().Changed("log-level") {
		level = opts.logLevel
	}
	logFile := opts.config.Log.File
	if cmd.Flags().Changed("log-file") {
		logFile = opts.logFile
	}
	logger, _, closeLog, err := logx.New(logx.Options{
		Level:  level,
		Format: opts.config.Log.Format,
		File:   logFile,
		Writer: stderr,
	})
	if err != nil {
		return err
	}
	opts.logger = logger.With("correlation_id", opts.correlationID, "command", cmd.CommandPath())
	opts.closeLog = closeLog
	return nil
}

// emit writes data as JSON or through text.
func (opts *rootOptions) emit(cmd *cobra.Command, data any, ok bool, text func(w io.Writer)) error {
	if opts.format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), data, ok, opts.correlationID); err != nil {
			return err
		}
	} else {
		text(cmd.OutOrStdout())
	}
	return nil
}

// emitReport writes a verification report and fails with exit 1 when it
// holds mismatches.
func (opts *rootOptions) emitReport(cmd *cobra.Command, report verify.Report) error {
	report.Log(opts.logger)
	if err := opts.emit(cmd, report, report.OK, func(w io.Writer) { writeReportText(w, report) }); err != nil {
		return err
	}
	if !report.OK {
		return verificationFailed(report.Kind, len(report.Mismatches))
	}
	return nil
}

// pick returns the flag value when the flag was set, otherwise the config value.
func pick[T any](cmd *cobra.Command, name string, flagValue, configValue T) T {
	if cmd.Flags().Changed(name) {
		return flagValue
	}
	return configValue
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hashhelix version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.emit(cmd, map[string]string{"version": version}, true, func(w io.Writer) {
				_, _ = fmt.Fprintln(w, "hashhelix", version)
			})
		},
	}
}
