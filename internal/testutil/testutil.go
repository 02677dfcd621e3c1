package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func BuildHashhelixBinary(t *testing.T, root string) string {
	t.Helper()
	binDir := t.TempDir()
	binName := "hashhelix"
	if runtime.GOOS == "windows" {
		binName = "hashhelix.exe"
	}
	binPath := filepath.Join(binDir, binName)

	// #nosec G204 -- arguments are fixed and used only in test binaries.
	build := exec.Command("go", "build", "-o", binPath, "./cmd/hashhelix")
	build.Dir = root
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build hashhelix binary: %v\n%s", err, string(out))
	}
	return binPath
}

func CommandExitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected command exit error, got: %v", err)
	}
	return exitErr.ExitCode()
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

// RewriteJSONLine decodes line lineIndex (0-based) of a JSONL file, applies
// mutate, and writes the file back.
func RewriteJSONLine(t *testing.T, path string, lineIndex int, mutate func(record map[string]any)) {
	t.Helper()
	lines := bytes.Split(bytes.TrimRight(MustReadFile(t, path), "\n"), []byte("\n"))
	if lineIndex < 0 || lineIndex >= len(lines) {
		t.Fatalf("%s has %d lines, cannot rewrite line %d", path, len(lines), lineIndex)
	}
	var record map[string]any
	if err := json.Unmarshal(lines[lineIndex], &record); err != nil {
		t.Fatalf("decode line %d of %s: %v", lineIndex, path, err)
	}
	mutate(record)
	updated, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("encode line %d of %s: %v", lineIndex, path, err)
	}
	lines[lineIndex] = updated
	WriteFile(t, path, append(bytes.Join(lines, []byte("\n")), '\n'))
}

// RewriteJSONFile applies mutate to a JSON artifact and rewrites it indented.
func RewriteJSONFile(t *testing.T, path string, mutate func(record map[string]any)) {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(MustReadFile(t, path), &record); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	mutate(record)
	updated, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	WriteFile(t, path, append(updated, '\n'))
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}
