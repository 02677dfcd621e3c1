package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/davidahmann/hashhelix/core/seal"
	"github.com/davidahmann/hashhelix/core/sign"
	"github.com/davidahmann/hashhelix/core/verify"
)

func newSealCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Fingerprint artifacts and commit to directories through manifests",
	}
	cmd.AddCommand(
		newSealInspectCommand(opts),
		newSealManifestCommand(opts),
		newSealVerifyCommand(opts),
		newSealKeygenCommand(opts),
		newSealSignCommand(opts),
	)
	return cmd
}

func newSealInspectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect PATH...",
		Short: "Print size, sha256, and canonical JSON digest of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspections := make([]seal.Inspection, 0, len(args))
			for _, path := range args {
				inspection, err := seal.Inspect(path)
				if err != nil {
					return err
				}
				inspections = append(inspections, inspection)
			}
			return opts.emit(cmd, map[string]any{"files": inspections}, true, func(w io.Writer) {
				for _, inspection := range inspections {
					_, _ = fmt.Fprintf(w, "%s %s %d bytes sha256=%s", inspection.Path, inspection.Kind, inspection.Size, inspection.SHA256)
					if inspection.JCSSHA256 != "" {
						_, _ = fmt.Fprintf(w, " jcs=%s", inspection.JCSSHA256)
					}
					_, _ = fmt.Fprintln(w)
				}
			})
		},
	}
}

func newSealManifestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest DIR",
		Short: "Write DIR/manifest.json committing to every file under DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, path, err := seal.BuildManifest(args[0])
			if err != nil {
				return err
			}
			opts.logger.Info("manifest written", "path", path, "files", len(manifest.Files), "combined_digest", manifest.CombinedDigest)
			data := map[string]any{"path": path, "manifest": manifest}
			return opts.emit(cmd, data, true, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "%s: %d files combined=%s\n", path, len(manifest.Files), manifest.CombinedDigest)
			})
		},
	}
}

func newSealVerifyCommand(opts *rootOptions) *cobra.Command {
	var key sign.KeySource
	cmd := &cobra.Command{
		Use:   "verify MANIFEST",
		Short: "Re-digest every file listed in a manifest",
		Long:  "verify re-digests every listed file. With --public-key or --public-key-env the detached manifest signature is checked as well.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				report verify.Report
				err    error
			)
			if key.Configured() {
				pub, loadErr := sign.LoadPublicKey(key)
				if loadErr != nil {
					return loadErr
				}
				report, err = seal.VerifySignedManifest(args[0], pub)
			} else {
				report, err = seal.VerifyManifest(args[0])
			}
			if err != nil {
				return err
			}
			return opts.emitReport(cmd, report)
		},
	}
	cmd.Flags().StringVar(&key.Path, "public-key", "", "base64 ed25519 public key file")
	cmd.Flags().StringVar(&key.Env, "public-key-env", "", "environment variable holding a base64 ed25519 public key")
	return cmd
}

func newSealKeygenCommand(opts *rootOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for signing manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := sign.GenerateKeyPair()
			if err != nil {
				return err
			}
			privatePath, publicPath, err := sign.WriteKeyPair(outDir, kp)
			if err != nil {
				return err
			}
			data := map[string]any{"private_key": privatePath, "public_key": publicPath, "key_id": sign.KeyID(kp.Public)}
			return opts.emit(cmd, data, true, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "key %s\nprivate %s\npublic %s\n", sign.KeyID(kp.Public), privatePath, publicPath)
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for the key files")
	return cmd
}

func newSealSignCommand(opts *rootOptions) *cobra.Command {
	var key sign.KeySource
	cmd := &cobra.Command{
		Use:   "sign MANIFEST",
		Short: "Write a detached ed25519 signature beside a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := sign.LoadPrivateKey(key)
			if err != nil {
				return err
			}
			signature, path, err := seal.SignManifest(args[0], priv)
			if err != nil {
				return err
			}
			opts.logger.Info("manifest signed", "path", path, "key_id", signature.KeyID)
			data := map[string]any{"path": path, "signature": signature}
			return opts.emit(cmd, data, true, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "%s: signed digest %s with key %s\n", path, signature.SignedDigest, signature.KeyID)
			})
		},
	}
	cmd.Flags().StringVar(&key.Path, "private-key", "", "base64 ed25519 private key file")
	cmd.Flags().StringVar(&key.Env, "private-key-env", "", "environment variable holding a base64 ed25519 private key")
	return cmd
}
