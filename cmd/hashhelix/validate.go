package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/schema/validate"
)

type validationResult struct {
	Path string        `json:"path"`
	Kind validate.Kind `json:"kind"`
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var kindFlag string
	cmd := &cobra.Command{
		Use:   "validate PATH...",
		Short: "Validate artifacts against their embedded JSON schemas",
		Long:  "validate checks structure only. Digests are re-derived by the verify commands. The kind is inferred from the file name unless --kind is set; ledger files always need --kind ledger_single or ledger_chiral.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var forced validate.Kind
			if strings.TrimSpace(kindFlag) != "" {
				kind, err := validate.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				forced = kind
			}
			results := make([]validationResult, 0, len(args))
			for _, path := range args {
				kind := forced
				if kind == "" {
					inferred, ok := validate.KindForPath(path)
					if !ok {
						return coreerrors.Config("schema_kind_unknown", "cannot infer artifact kind of %s; pass --kind", path)
					}
					kind = inferred
				}
				var err error
				if filepath.Ext(path) == ".jsonl" {
					err = validate.ValidateJSONLFile(kind, path)
				} else {
					err = validate.ValidateJSONFile(kind, path)
				}
				if err != nil {
					return err
				}
				opts.logger.Debug("schema valid", "path", path, "kind", string(kind))
				results = append(results, validationResult{Path: path, Kind: kind})
			}
			return opts.emit(cmd, map[string]any{"validated": results}, true, func(w io.Writer) {
				for _, result := range results {
					_, _ = fmt.Fprintf(w, "%s: valid %s\n", result.Path, result.Kind)
				}
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "", fmt.Sprintf("artifact kind %v", validate.Kinds()))
	return cmd
}
