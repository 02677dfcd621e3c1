package fsx

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type chainRecord struct {
	N    int64  `json:"n"`
	Data string `json:"data"`
	Prev int64  `json:"prev"`
}

// lastRecord reads the final JSONL record of path, or a zero record when the
// file does not exist yet.
func lastRecord(t *testing.T, path string) chainRecord {
	t.Helper()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return chainRecord{N: 1}
	}
	require.NoError(t, err)
	var last chainRecord
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &last))
	}
	require.NoError(t, scanner.Err())
	return last
}

func TestAppendLineUnderFileLockExtendsChainFromHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	const appenders = 40

	var group sync.WaitGroup
	for i := 0; i < appenders; i++ {
		group.Add(1)
		go func(worker int) {
			defer group.Done()
			err := WithFileLock(path, func() error {
				head := lastRecord(t, path)
				line, err := json.Marshal(chainRecord{N: head.N + 1, Data: "w" + strconv.Itoa(worker), Prev: head.N})
				if err != nil {
					return err
				}
				return AppendLine(path, line, 0o600)
			})
			if err != nil {
				t.Errorf("append under lock: %v", err)
			}
		}(i)
	}
	group.Wait()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(raw, []byte("\n")))
	lines := bytes.Split(bytes.TrimSuffix(raw, []byte("\n")), []byte("\n"))
	require.Len(t, lines, appenders)
	for i, line := range lines {
		var record chainRecord
		require.NoError(t, json.Unmarshal(line, &record), "line %d: %q", i+1, line)
		require.Equal(t, int64(i+2), record.N, "line %d", i+1)
		require.Equal(t, record.N-1, record.Prev, "line %d", i+1)
	}
	_, err = os.Stat(path + ".lock")
	require.True(t, os.IsNotExist(err), "lock file left behind: %v", err)
}

func TestAppendLineLockedCheckpointJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.jsonl.checkpoints.jsonl")
	records := []string{
		`{"index":1,"n":4,"segment_root":"aa"}`,
		`{"index":2,"n":9,"segment_root":"bb"}`,
	}
	for _, record := range records {
		require.NoError(t, AppendLineLocked(path, []byte(record), 0o600))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, records[0]+"\n"+records[1]+"\n", string(raw))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAppendLineRejectsUnusablePaths(t *testing.T) {
	for _, path := range []string{"", "   ", filepath.Join("..", "outside.jsonl")} {
		require.Error(t, AppendLine(path, []byte(`{}`), 0o600), "path %q", path)
		require.Error(t, AppendLineLocked(path, []byte(`{}`), 0o600), "path %q", path)
	}
}

func TestAppendPayloadCapacityBounds(t *testing.T) {
	capacity, err := appendPayloadCapacity(0)
	require.NoError(t, err)
	require.Equal(t, 1, capacity)

	capacity, err = appendPayloadCapacity(63)
	require.NoError(t, err)
	require.Equal(t, 64, capacity)

	for _, length := range []int{-1, maxInt} {
		_, err := appendPayloadCapacity(length)
		require.Error(t, err, "length %d", length)
	}
}
