// Package seal fingerprints artifacts on disk and commits to whole
// directories of them through a manifest.
package seal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/jcs"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
	"github.com/davidahmann/hashhelix/core/verify"
)

const ManifestFileName = "manifest.json"

const (
	KindLaneTrace        = "lane_trace"
	KindInterleavedTrace = "interleaved_trace"
	KindEpoch            = "epoch"
	KindEpochBundle      = "epoch_bundle"
	KindRelic            = "relic"
	KindLedger           = "ledger"
	KindCheckpoints      = "ledger_checkpoints"
	KindManifest         = "manifest"
	KindOther            = "other"
)

// KindOf classifies a file by name.
func KindOf(path string) string {
	base := filepath.Base(path)
	switch {
	case base == "lanes_interleaved.txt":
		return KindInterleavedTrace
	case strings.HasPrefix(base, "lane") && strings.HasSuffix(base, ".txt"):
		return KindLaneTrace
	case strings.HasPrefix(base, "epoch_bundle_ep") && strings.HasSuffix(base, ".json"):
		return KindEpochBundle
	case strings.HasPrefix(base, "epoch_lane") && strings.HasSuffix(base, ".json"):
		return KindEpoch
	case strings.HasPrefix(base, "relic-ep") && strings.HasSuffix(base, ".json"):
		return KindRelic
	case strings.HasSuffix(base, ".checkpoints.jsonl"):
		return KindCheckpoints
	case strings.HasSuffix(base, ".jsonl"):
		return KindLedger
	case base == ManifestFileName:
		return KindManifest
	default:
		return KindOther
	}
}

type Inspection struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	JCSSHA256 string `json:"jcs_sha256,omitempty"`
	SchemaID  string `json:"schema_id,omitempty"`
	// Lines counts non-blank lines for text traces and JSONL files.
	Lines int `json:"lines,omitempty"`
}

// Inspect digests one file. JSON artifacts also get an RFC 8785 canonical
// digest, which is stable across whitespace and key order.
func Inspect(path string) (Inspection, error) {
	// #nosec G304 -- artifact path is explicit caller input.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Inspection{}, coreerrors.Missing("artifact_missing", "missing artifact: %s", path)
		}
		return Inspection{}, coreerrors.IO(fmt.Errorf("read %s: %w", path, err), "artifact_read_failed")
	}
	sum := sha256.Sum256(raw)
	inspection := Inspection{
		Path:   path,
		Kind:   KindOf(path),
		Size:   int64(len(raw)),
		SHA256: hex.EncodeToString(sum[:]),
	}
	if strings.HasSuffix(path, ".json") {
		digest, err := jcs.DigestJCS(raw)
		if err != nil {
			return Inspection{}, coreerrors.Format("artifact_json_invalid", "%s: %v", path, err)
		}
		inspection.JCSSHA256 = digest
		var header struct {
			SchemaID string `json:"schema_id"`
		}
		if err := json.Unmarshal(raw, &header); err == nil {
			inspection.SchemaID = header.SchemaID
		}
		return inspection, nil
	}
	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			inspection.Lines++
		}
	}
	return inspection, nil
}

// CombinedDigest is sha256 over the concatenated hex file digests in order.
func CombinedDigest(files []helix.ManifestFile) string {
	h := sha256.New()
	for _, file := range files {
		_, _ = h.Write([]byte(file.SHA256))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BuildManifest digests every regular file under dir, skipping hidden files,
// lock files, and an existing manifest or its signature, then writes
// dir/manifest.json.
func BuildManifest(dir string) (helix.Manifest, string, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return helix.Manifest{}, "", coreerrors.Config("seal_dir_missing", "directory does not exist: %s", dir)
	}
	paths, err := sealedPaths(dir)
	if err != nil {
		return helix.Manifest{}, "", err
	}
	manifest := helix.Manifest{
		SchemaID:      helix.SchemaManifest,
		SchemaVersion: helix.SchemaVersion,
		Files:         make([]helix.ManifestFile, 0, len(paths)),
	}
	for _, rel := range paths {
		inspection, err := Inspect(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return helix.Manifest{}, "", err
		}
		manifest.Files = append(manifest.Files, helix.ManifestFile{
			Path:      rel,
			Kind:      inspection.Kind,
			Size:      inspection.Size,
			SHA256:    inspection.SHA256,
			JCSSHA256: inspection.JCSSHA256,
		})
	}
	manifest.CombinedDigest = CombinedDigest(manifest.Files)
	path := filepath.Join(dir, ManifestFileName)
	if err := fsx.WriteJSONAtomic(path, manifest, 0o644); err != nil {
		return helix.Manifest{}, "", coreerrors.IO(err, "manifest_write_failed")
	}
	return manifest, path, nil
}

func sealedPaths(dir string) ([]string, error) {
	paths := []string{}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestFileName || rel == SignatureFileName {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, coreerrors.IO(fmt.Errorf("walk %s: %w", dir, err), "seal_walk_failed")
	}
	sort.Strings(paths)
	return paths, nil
}

// VerifyManifest re-digests every file a manifest lists and reports missing,
// changed, and unlisted files.
func VerifyManifest(path string) (verify.Report, error) {
	// #nosec G304 -- manifest path is explicit caller input.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return verify.Report{}, coreerrors.Missing("manifest_missing", "missing manifest: %s", path)
		}
		return verify.Report{}, coreerrors.IO(fmt.Errorf("read %s: %w", path, err), "manifest_read_failed")
	}
	var manifest helix.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return verify.Report{}, coreerrors.Format("manifest_json_invalid", "%s: %v", path, err)
	}
	if manifest.SchemaID != helix.SchemaManifest {
		return verify.Report{}, coreerrors.Format("manifest_schema_invalid", "%s: schema_id %q is not %s", path, manifest.SchemaID, helix.SchemaManifest)
	}

	dir := filepath.Dir(path)
	report := verify.Report{Kind: KindManifest}
	mismatch := func(file, field, expected, actual string) {
		report.Mismatches = append(report.Mismatches, verify.Mismatch{
			Kind: KindManifest, Path: path, ID: file, Field: field, Expected: expected, Actual: actual,
		})
	}
	if combined := CombinedDigest(manifest.Files); combined != manifest.CombinedDigest {
		mismatch("", "combined_digest", combined, manifest.CombinedDigest)
	}
	listed := make(map[string]bool, len(manifest.Files))
	for _, file := range manifest.Files {
		listed[file.Path] = true
		report.Checked++
		inspection, err := Inspect(filepath.Join(dir, filepath.FromSlash(file.Path)))
		if coreerrors.CategoryOf(err) == coreerrors.CategoryDependencyMissing {
			mismatch(file.Path, "file", "present", "absent")
			continue
		}
		if err != nil {
			if coreerrors.CategoryOf(err) == coreerrors.CategoryFormatInvalid {
				mismatch(file.Path, "jcs_sha256", file.JCSSHA256, "malformed json")
				continue
			}
			return verify.Report{}, err
		}
		if inspection.Size != file.Size {
			mismatch(file.Path, "size", fmt.Sprint(file.Size), fmt.Sprint(inspection.Size))
		}
		if inspection.SHA256 != file.SHA256 {
			mismatch(file.Path, "sha256", file.SHA256, inspection.SHA256)
		}
		if file.JCSSHA256 != "" && inspection.JCSSHA256 != file.JCSSHA256 {
			mismatch(file.Path, "jcs_sha256", file.JCSSHA256, inspection.JCSSHA256)
		}
	}
	present, err := sealedPaths(dir)
	if err != nil {
		return verify.Report{}, err
	}
	for _, rel := range present {
		if !listed[rel] {
			mismatch(rel, "file", "unlisted", "present")
		}
	}
	report.OK = len(report.Mismatches) == 0
	return report, nil
}
