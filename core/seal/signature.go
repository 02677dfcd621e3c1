package seal

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/jcs"
	"github.com/davidahmann/hashhelix/core/sign"
	"github.com/davidahmann/hashhelix/core/verify"
)

const SignatureFileName = "manifest.sig.json"

// SignaturePath returns the detached signature path beside a manifest.
func SignaturePath(manifestPath string) string {
	return filepath.Join(filepath.Dir(manifestPath), SignatureFileName)
}

func manifestDigest(manifestPath string) (string, error) {
	// #nosec G304 -- manifest path is explicit caller input.
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", coreerrors.Missing("manifest_missing", "missing manifest: %s", manifestPath)
		}
		return "", coreerrors.IO(fmt.Errorf("read %s: %w", manifestPath, err), "manifest_read_failed")
	}
	digest, err := jcs.DigestJCS(raw)
	if err != nil {
		return "", coreerrors.Format("manifest_json_invalid", "%s: %v", manifestPath, err)
	}
	return digest, nil
}

// SignManifest signs the canonical digest of a manifest and writes the
// signature beside it.
func SignManifest(manifestPath string, priv ed25519.PrivateKey) (sign.Signature, string, error) {
	digest, err := manifestDigest(manifestPath)
	if err != nil {
		return sign.Signature{}, "", err
	}
	signature, err := sign.SignDigestHex(priv, digest)
	if err != nil {
		return sign.Signature{}, "", err
	}
	path := SignaturePath(manifestPath)
	if err := fsx.WriteJSONAtomic(path, signature, 0o644); err != nil {
		return sign.Signature{}, "", coreerrors.IO(err, "signature_write_failed")
	}
	return signature, path, nil
}

// VerifyManifestSignature checks the detached signature of a manifest
// against pub.
func VerifyManifestSignature(manifestPath string, pub ed25519.PublicKey) ([]verify.Mismatch, error) {
	sigPath := SignaturePath(manifestPath)
	// #nosec G304 -- signature path is derived from the manifest path.
	raw, err := os.ReadFile(sigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.Missing("signature_missing", "manifest signature does not exist: %s", sigPath)
		}
		return nil, coreerrors.IO(fmt.Errorf("read %s: %w", sigPath, err), "signature_read_failed")
	}
	var signature sign.Signature
	if err := json.Unmarshal(raw, &signature); err != nil {
		return nil, coreerrors.Format("signature_json_invalid", "%s: %v", sigPath, err)
	}
	digest, err := manifestDigest(manifestPath)
	if err != nil {
		return nil, err
	}

	var mismatches []verify.Mismatch
	mismatch := func(field, expected, actual string) {
		mismatches = append(mismatches, verify.Mismatch{
			Kind: KindManifest, Path: sigPath, Field: field, Expected: expected, Actual: actual,
		})
	}
	if signature.SignedDigest != digest {
		mismatch("signed_digest", digest, signature.SignedDigest)
	}
	if keyID := sign.KeyID(pub); signature.KeyID != keyID {
		mismatch("key_id", keyID, signature.KeyID)
	}
	ok, err := sign.VerifyDigestHex(pub, signature)
	if err != nil {
		return nil, err
	}
	if !ok && len(mismatches) == 0 {
		mismatch("sig", "valid ed25519 signature", "invalid")
	}
	return mismatches, nil
}

// VerifySignedManifest runs VerifyManifest and adds signature mismatches.
func VerifySignedManifest(manifestPath string, pub ed25519.PublicKey) (verify.Report, error) {
	report, err := VerifyManifest(manifestPath)
	if err != nil {
		return verify.Report{}, err
	}
	mismatches, err := VerifyManifestSignature(manifestPath, pub)
	if err != nil {
		return verify.Report{}, err
	}
	report.Checked++
	report.Mismatches = append(report.Mismatches, mismatches...)
	report.OK = len(report.Mismatches) == 0
	return report, nil
}
