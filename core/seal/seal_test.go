package seal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidahmann/hashhelix/core/epoch"
	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	_, err := lanes.Run(context.Background(), lanes.Config{Lanes: 2, Steps: 8, Seed: 1, OutDir: filepath.Join(root, "lanes")})
	require.NoError(t, err)
	_, err = epoch.Run(context.Background(), epoch.Config{
		LaneDir: filepath.Join(root, "lanes"), OutDir: filepath.Join(root, "epochs"), EpochLength: 4, Strict: true,
	})
	require.NoError(t, err)
	return root
}

func TestKindOf(t *testing.T) {
	cases := map[string]string{
		"lane01.txt":               KindLaneTrace,
		"lanes_interleaved.txt":    KindInterleavedTrace,
		"epoch_lane01_ep0001.json": KindEpoch,
		"epoch_bundle_ep0001.json": KindEpochBundle,
		"relic-ep0001-ep0002.json": KindRelic,
		"ledger.jsonl":             KindLedger,
		"ledger.checkpoints.jsonl": KindCheckpoints,
		"manifest.json":            KindManifest,
		"notes.md":                 KindOther,
	}
	for name, expected := range cases {
		require.Equal(t, expected, KindOf(name), name)
	}
}

func TestInspectJSONAndTrace(t *testing.T) {
	dir := t.TempDir()
	compact := filepath.Join(dir, "a", "epoch_lane01_ep0001.json")
	spaced := filepath.Join(dir, "b", "epoch_lane01_ep0001.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(compact), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Dir(spaced), 0o750))
	require.NoError(t, os.WriteFile(compact, []byte(`{"schema_id":"hashhelix.epoch","b":1,"a":2}`), 0o600))
	require.NoError(t, os.WriteFile(spaced, []byte("{\n  \"a\": 2,\n  \"schema_id\": \"hashhelix.epoch\",\n  \"b\": 1\n}\n"), 0o600))

	first, err := Inspect(compact)
	require.NoError(t, err)
	second, err := Inspect(spaced)
	require.NoError(t, err)
	require.Equal(t, KindEpoch, first.Kind)
	require.Equal(t, helix.SchemaEpoch, first.SchemaID)
	require.NotEqual(t, first.SHA256, second.SHA256)
	require.Equal(t, first.JCSSHA256, second.JCSSHA256)

	trace := filepath.Join(dir, "lane01.txt")
	require.NoError(t, os.WriteFile(trace, []byte("1\n2\n1\n"), 0o600))
	inspection, err := Inspect(trace)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("1\n2\n1\n"))
	require.Equal(t, hex.EncodeToString(sum[:]), inspection.SHA256)
	require.Equal(t, 3, inspection.Lines)
	require.Empty(t, inspection.JCSSHA256)
	require.Equal(t, int64(6), inspection.Size)

	broken := filepath.Join(dir, "relic-ep0001-ep0002.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o600))
	_, err = Inspect(broken)
	require.Equal(t, coreerrors.CategoryFormatInvalid, coreerrors.CategoryOf(err))

	_, err = Inspect(filepath.Join(dir, "absent.txt"))
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))
}

func TestBuildAndVerifyManifest(t *testing.T) {
	root := buildTree(t)
	manifest, path, err := BuildManifest(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, ManifestFileName), path)
	// 2 lane traces, 4 epochs, 2 bundles.
	require.Len(t, manifest.Files, 8)
	require.Equal(t, "epochs/epoch_bundle_ep0001.json", manifest.Files[0].Path)
	require.Equal(t, "lanes/lane02.txt", manifest.Files[7].Path)
	require.Equal(t, CombinedDigest(manifest.Files), manifest.CombinedDigest)

	report, err := VerifyManifest(path)
	require.NoError(t, err)
	require.True(t, report.OK, "%v", report.Mismatches)
	require.Equal(t, 8, report.Checked)

	again, _, err := BuildManifest(root)
	require.NoError(t, err)
	require.Equal(t, manifest, again)
}

func TestVerifyManifestReportsChanges(t *testing.T) {
	root := buildTree(t)
	_, path, err := BuildManifest(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "lanes", "lane01.txt"), []byte("9\n"), 0o600))
	require.NoError(t, os.Remove(filepath.Join(root, "epochs", "epoch_lane02_ep0002.json")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "extra.txt"), []byte("x\n"), 0o600))

	report, err := VerifyManifest(path)
	require.NoError(t, err)
	require.False(t, report.OK)
	found := map[string]bool{}
	for _, m := range report.Mismatches {
		found[m.ID+"/"+m.Field] = true
	}
	require.True(t, found["lanes/lane01.txt/sha256"])
	require.True(t, found["lanes/lane01.txt/size"])
	require.True(t, found["epochs/epoch_lane02_ep0002.json/file"])
	require.True(t, found["extra.txt/file"])
	require.False(t, found["/combined_digest"])
}

func TestVerifyManifestErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := VerifyManifest(filepath.Join(dir, ManifestFileName))
	require.Equal(t, coreerrors.CategoryDependencyMissing, coreerrors.CategoryOf(err))

	path := filepath.Join(dir, ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_id":"other"}`), 0o600))
	_, err = VerifyManifest(path)
	require.Equal(t, coreerrors.CategoryFormatInvalid, coreerrors.CategoryOf(err))

	_, _, err = BuildManifest(filepath.Join(dir, "absent"))
	require.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
}
