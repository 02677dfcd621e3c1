package epoch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/schema/v1/helix"
)

func WriteEpoch(dir string, epoch helix.Epoch) (string, error) {
	path := filepath.Join(dir, EpochFileName(epoch.LaneID, epoch.EpochIndex))
	if err := fsx.WriteJSONAtomic(path, epoch, 0o644); err != nil {
		return "", coreerrors.IO(err, "epoch_write_failed")
	}
	return path, nil
}

func WriteBundle(dir string, bundle helix.EpochBundle) (string, error) {
	path := filepath.Join(dir, BundleFileName(bundle.EpochIndex))
	if err := fsx.WriteJSONAtomic(path, bundle, 0o644); err != nil {
		return "", coreerrors.IO(err, "bundle_write_failed")
	}
	return path, nil
}

func ReadEpoch(path string) (helix.Epoch, error) {
	var epoch helix.Epoch
	if err := readArtifact(path, &epoch); err != nil {
		return helix.Epoch{}, err
	}
	if epoch.SchemaID != "" && epoch.SchemaID != helix.SchemaEpoch {
		return helix.Epoch{}, coreerrors.Format("epoch_schema_invalid", "%s: schema_id %q is not %s", path, epoch.SchemaID, helix.SchemaEpoch)
	}
	if epoch.EpochID == "" || epoch.LaneID < 1 || epoch.EpochIndex < 1 {
		return helix.Epoch{}, coreerrors.Format("epoch_invalid", "%s: epoch_id, lane_id and epoch_index are required", path)
	}
	return epoch, nil
}

func ReadBundle(path string) (helix.EpochBundle, error) {
	var bundle helix.EpochBundle
	if err := readArtifact(path, &bundle); err != nil {
		return helix.EpochBundle{}, err
	}
	if bundle.SchemaID != "" && bundle.SchemaID != helix.SchemaEpochBundle {
		return helix.EpochBundle{}, coreerrors.Format("bundle_schema_invalid", "%s: schema_id %q is not %s", path, bundle.SchemaID, helix.SchemaEpochBundle)
	}
	return bundle, nil
}

func readArtifact(path string, out any) error {
	// #nosec G304 -- artifact path is explicit caller input.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return coreerrors.Missing("artifact_missing", "missing artifact: %s", path)
		}
		return coreerrors.IO(fmt.Errorf("read %s: %w", path, err), "artifact_read_failed")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return coreerrors.Format("artifact_json_invalid", "%s: %v", path, err)
	}
	return nil
}

type EpochFile struct {
	Path  string
	Epoch helix.Epoch
}

// LoadEpochs reads every epoch_laneNN_epIIII.json in dir ordered by lane, then index.
func LoadEpochs(dir string) ([]EpochFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "epoch_lane*_ep*.json"))
	if err != nil {
		return nil, coreerrors.Config("epoch_glob_invalid", "%v", err)
	}
	files := make([]EpochFile, 0, len(paths))
	for _, path := range paths {
		epoch, err := ReadEpoch(path)
		if err != nil {
			return nil, err
		}
		files = append(files, EpochFile{Path: path, Epoch: epoch})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Epoch.LaneID != files[j].Epoch.LaneID {
			return files[i].Epoch.LaneID < files[j].Epoch.LaneID
		}
		return files[i].Epoch.EpochIndex < files[j].Epoch.EpochIndex
	})
	return files, nil
}

type BundleFile struct {
	Path   string
	Bundle helix.EpochBundle
}

// LoadBundles reads every epoch_bundle_epIIII.json in dir keyed by the window
// index in the file name, in ascending order.
func LoadBundles(dir string) ([]BundleFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "epoch_bundle_ep*.json"))
	if err != nil {
		return nil, coreerrors.Config("bundle_glob_invalid", "%v", err)
	}
	type indexed struct {
		index int
		file  BundleFile
	}
	found := []indexed{}
	for _, path := range paths {
		stem := strings.TrimSuffix(filepath.Base(path), ".json")
		suffix := strings.TrimPrefix(stem, "epoch_bundle_ep")
		index, err := strconv.Atoi(suffix)
		if err != nil || index < 1 {
			continue
		}
		bundle, err := ReadBundle(path)
		if err != nil {
			return nil, err
		}
		if bundle.EpochIndex == 0 {
			bundle.EpochIndex = index
		}
		found = append(found, indexed{index: index, file: BundleFile{Path: path, Bundle: bundle}})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })
	files := make([]BundleFile, len(found))
	for i, item := range found {
		files[i] = item.file
	}
	return files, nil
}
