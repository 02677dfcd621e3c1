package validate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/schema/v1/schemas"
)

type Kind string

const (
	KindEpoch        Kind = "epoch"
	KindEpochBundle  Kind = "epoch_bundle"
	KindRelic        Kind = "relic"
	KindLedgerSingle Kind = "ledger_single"
	KindLedgerChiral Kind = "ledger_chiral"
	KindCheckpoint   Kind = "checkpoint"
	KindManifest     Kind = "manifest"
)

func Kinds() []Kind {
	return []Kind{KindEpoch, KindEpochBundle, KindRelic, KindLedgerSingle, KindLedgerChiral, KindCheckpoint, KindManifest}
}

func ParseKind(value string) (Kind, error) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range Kinds() {
		if kind == normalized {
			return kind, nil
		}
	}
	return "", coreerrors.Config("schema_kind_invalid", "unknown artifact kind %q", value)
}

// KindForPath infers the artifact kind from a file name. Ledger files are
// ambiguous between variants and are never inferred.
func KindForPath(path string) (Kind, bool) {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "epoch_bundle_ep") && strings.HasSuffix(base, ".json"):
		return KindEpochBundle, true
	case strings.HasPrefix(base, "epoch_lane") && strings.HasSuffix(base, ".json"):
		return KindEpoch, true
	case strings.HasPrefix(base, "relic-ep") && strings.HasSuffix(base, ".json"):
		return KindRelic, true
	case strings.HasSuffix(base, ".checkpoints.jsonl"):
		return KindCheckpoint, true
	case base == "manifest.json":
		return KindManifest, true
	default:
		return "", false
	}
}

var (
	compiledMu sync.Mutex
	compiled   = map[Kind]*jsonschema.Schema{}
)

func ValidateArtifact(kind Kind, data []byte) error {
	schema, err := loadSchema(kind)
	if err != nil {
		return err
	}
	return validateJSON(schema, data)
}

func ValidateJSONFile(kind Kind, jsonPath string) error {
	schema, err := loadSchema(kind)
	if err != nil {
		return err
	}
	// #nosec G304 -- artifact path is explicit caller input.
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return readError(jsonPath, err)
	}
	if err := validateJSON(schema, data); err != nil {
		return coreerrors.Format(coreerrors.CodeOf(err), "%s: %v", jsonPath, err)
	}
	return nil
}

func ValidateJSONL(kind Kind, data []byte) error {
	schema, err := loadSchema(kind)
	if err != nil {
		return err
	}
	return validateJSONL(schema, data)
}

func ValidateJSONLFile(kind Kind, jsonlPath string) error {
	schema, err := loadSchema(kind)
	if err != nil {
		return err
	}
	// #nosec G304 -- artifact path is explicit caller input.
	data, err := os.ReadFile(jsonlPath)
	if err != nil {
		return readError(jsonlPath, err)
	}
	if err := validateJSONL(schema, data); err != nil {
		return coreerrors.Format(coreerrors.CodeOf(err), "%s: %v", jsonlPath, err)
	}
	return nil
}

func readError(path string, err error) error {
	if os.IsNotExist(err) {
		return coreerrors.Missing("artifact_missing", "missing artifact: %s", path)
	}
	return coreerrors.IO(fmt.Errorf("read %s: %w", path, err), "artifact_read_failed")
}

// CompileAll compiles every embedded schema.
func CompileAll() error {
	for _, kind := range Kinds() {
		if _, err := loadSchema(kind); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

func loadSchema(kind Kind) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if schema, ok := compiled[kind]; ok {
		return schema, nil
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	data, err := schemas.FS.ReadFile(string(kind) + ".schema.json")
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read schema: %w", err), coreerrors.CategoryInternalFailure, "schema_missing", "", false)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("compile schema: %w", err), coreerrors.CategoryInternalFailure, "schema_compile_failed", "", false)
	}
	compiled[kind] = schema
	return schema, nil
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return coreerrors.Format("schema_validation_failed", "schema validation failed: %v", result.Errors)
}

func validateJSONL(schema *jsonschema.Schema, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := validateJSON(schema, b); err != nil {
			return coreerrors.Format("schema_validation_failed", "jsonl line %d: %v", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return coreerrors.IO(fmt.Errorf("read jsonl: %w", err), "artifact_read_failed")
	}
	return nil
}
