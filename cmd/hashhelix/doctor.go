package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/davidahmann/hashhelix/core/doctor"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/sign"
)

func newDoctorCommand(opts *rootOptions) *cobra.Command {
	var key sign.KeySource
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, schemas, output directories, locks, and keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := doctor.Run(doctor.Options{
				ConfigPath:     opts.configPath,
				ConfigRequired: cmd.Flags().Changed("config"),
				SigningKey:     key,
			})
			ok := result.Status != doctor.StatusFail
			if err := opts.emit(cmd, result, ok, func(w io.Writer) {
				_, _ = fmt.Fprintln(w, result.Summary)
				for _, check := range result.Checks {
					_, _ = fmt.Fprintf(w, "  [%s] %s: %s\n", check.Status, check.Name, check.Message)
				}
				for _, fix := range result.FixCommands {
					_, _ = fmt.Fprintf(w, "  fix: %s\n", fix)
				}
			}); err != nil {
				return err
			}
			if !ok {
				return &reportedError{err: coreerrors.Config("doctor_failed", "%s", result.Summary)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key.Path, "private-key", "", "also check this signing key file")
	cmd.Flags().StringVar(&key.Env, "private-key-env", "", "also check the signing key in this environment variable")
	return cmd
}
