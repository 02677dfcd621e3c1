package lanes

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
)

func TraceFileName(laneID int) string {
	return fmt.Sprintf("lane%02d.txt", laneID)
}

func TracePath(dir string, laneID int) string {
	return joinPath(dir, TraceFileName(laneID))
}

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// ReadTrace returns the values of a lane trace, one decimal integer per line.
// Blank lines are ignored; anything else that is not an integer is a format error.
func ReadTrace(path string) ([]int64, error) {
	values := []int64{}
	err := scanTrace(path, func(_ int, value int64) {
		values = append(values, value)
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// CountTrace returns the number of values without retaining them.
func CountTrace(path string) (int64, error) {
	var count int64
	err := scanTrace(path, func(int, int64) { count++ })
	return count, err
}

func scanTrace(path string, fn func(line int, value int64)) error {
	// #nosec G304 -- lane trace path is explicit caller input.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return coreerrors.Missing("lane_missing", "missing lane trace: %s", path)
		}
		return coreerrors.IO(fmt.Errorf("open lane trace: %w", err), "lane_read_failed")
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			return coreerrors.Format("lane_trace_invalid", "%s line %d: blank line, expected the value at step %d", path, lineNo, lineNo)
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return coreerrors.Format("lane_trace_invalid", "%s line %d: %q is not an integer", path, lineNo, raw)
		}
		fn(lineNo, value)
	}
	if err := scanner.Err(); err != nil {
		return coreerrors.IO(fmt.Errorf("read lane trace %s: %w", path, err), "lane_read_failed")
	}
	return nil
}

// DiscoverLanes lists lane ids of laneNN.txt files in dir, ascending.
func DiscoverLanes(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.Missing("lane_dir_missing", "lane directory does not exist: %s", dir)
		}
		return nil, coreerrors.IO(fmt.Errorf("read lane directory: %w", err), "lane_read_failed")
	}
	ids := []int{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "lane") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		suffix := strings.TrimSuffix(strings.TrimPrefix(name, "lane"), ".txt")
		if suffix == "" || strings.Trim(suffix, "0123456789") != "" {
			continue
		}
		id, err := strconv.Atoi(suffix)
		if err != nil || id < 1 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

type InterleavedRow struct {
	N      int64
	LaneID int
	Value  int64
}

// ReadInterleaved parses "n,lane_id,value" rows.
func ReadInterleaved(path string) ([]InterleavedRow, error) {
	// #nosec G304 -- interleaved trace path is explicit caller input.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.Missing("interleaved_missing", "missing interleaved trace: %s", path)
		}
		return nil, coreerrors.IO(fmt.Errorf("open interleaved trace: %w", err), "lane_read_failed")
	}
	defer func() { _ = file.Close() }()
	rows := []InterleavedRow{}
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		if len(parts) != 3 {
			return nil, coreerrors.Format("interleaved_invalid", "%s line %d: expected n,lane_id,value", path, lineNo)
		}
		n, nErr := strconv.ParseInt(parts[0], 10, 64)
		laneID, laneErr := strconv.Atoi(parts[1])
		value, valueErr := strconv.ParseInt(parts[2], 10, 64)
		if nErr != nil || laneErr != nil || valueErr != nil {
			return nil, coreerrors.Format("interleaved_invalid", "%s line %d: non-integer field", path, lineNo)
		}
		rows = append(rows, InterleavedRow{N: n, LaneID: laneID, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.IO(fmt.Errorf("read interleaved trace: %w", err), "lane_read_failed")
	}
	return rows, nil
}
