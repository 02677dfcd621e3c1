package fsx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	writer, err := NewAtomicWriter(path, mode)
	if err != nil {
		return err
	}
	if _, err := writer.Write(content); err != nil {
		writer.Abort()
		return err
	}
	return writer.Commit()
}

// WriteJSONAtomic writes v as indented JSON with a trailing newline.
func WriteJSONAtomic(path string, v any, mode os.FileMode) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return WriteFileAtomic(path, append(encoded, '\n'), mode)
}

// AtomicWriter streams into a temp file in the destination directory and
// renames it over the destination on Commit. Abort discards the temp file.
type AtomicWriter struct {
	path     string
	mode     os.FileMode
	tempFile *os.File
	done     bool
}

func NewAtomicWriter(path string, mode os.FileMode) (*AtomicWriter, error) {
	parent := filepath.Dir(path)
	if parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o750); err != nil {
			return nil, fmt.Errorf("create destination directory: %w", err)
		}
	}
	tempFile, err := os.CreateTemp(parent, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicWriter{path: path, mode: mode, tempFile: tempFile}, nil
}

func (w *AtomicWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("atomic writer already closed")
	}
	n, err := w.tempFile.Write(p)
	if err != nil {
		return n, fmt.Errorf("write temp file: %w", err)
	}
	return n, nil
}

func (w *AtomicWriter) Commit() error {
	if w.done {
		return fmt.Errorf("atomic writer already closed")
	}
	w.done = true
	tempPath := w.tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	if err := w.tempFile.Sync(); err != nil {
		_ = w.tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := w.tempFile.Chmod(w.mode); err != nil {
		_ = w.tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, w.path); err != nil {
		if runtime.GOOS != "windows" {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if removeErr := os.Remove(w.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("remove destination before rename: %w", removeErr)
		}
		if renameErr := os.Rename(tempPath, w.path); renameErr != nil {
			return fmt.Errorf("rename temp file after remove: %w", renameErr)
		}
	}
	cleanup = false
	syncDirectory(filepath.Dir(w.path))
	return nil
}

// Abort is safe to call after Commit.
func (w *AtomicWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	tempPath := w.tempFile.Name()
	_ = w.tempFile.Close()
	_ = os.Remove(tempPath)
}

func syncDirectory(dir string) {
	if dir == "" {
		dir = "."
	}
	// #nosec G304 -- directory path is derived from an explicit caller-provided destination path.
	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
}
