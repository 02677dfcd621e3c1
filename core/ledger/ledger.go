// Package ledger keeps an append-only JSONL log of strand chain entries.
//
// A ledger starts at genesis (n=1, value=1, zero hash) and every append
// advances to n+1, computing the value with the new n and the hash from the
// previously stored hash. Appends are serialized in-process by a mutex and
// across processes by a sibling lock file, and the head is reloaded whenever
// the file's size or modification time changed underneath the writer.
package ledger

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/recurrence"
	"github.com/davidahmann/hashhelix/core/strand"
)

type Options struct {
	Variant   Variant
	Quantizer recurrence.Quantizer
	Now       func() time.Time
	Logger    *slog.Logger
}

type Ledger struct {
	mu        sync.Mutex
	path      string
	variant   Variant
	quantizer recurrence.Quantizer
	now       func() time.Time
	logger    *slog.Logger

	head    *Entry
	count   int
	size    int64
	modTime time.Time
}

func normalizeOptions(opts Options) (Options, error) {
	variant, err := ParseVariant(string(opts.Variant))
	if err != nil {
		return Options{}, coreerrors.Config("ledger_variant_invalid", "%v", err)
	}
	quantizer, err := recurrence.ParseQuantizer(string(opts.Quantizer))
	if err != nil {
		return Options{}, coreerrors.Config("ledger_quantizer_invalid", "%v", err)
	}
	opts.Variant = variant
	opts.Quantizer = quantizer
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return opts, nil
}

// Open loads the head of the ledger at path. A missing file is an empty
// ledger; the file is created on first append.
func Open(path string, opts Options) (*Ledger, error) {
	if path == "" {
		return nil, coreerrors.Config("ledger_path_required", "ledger path is required")
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		path:      path,
		variant:   opts.Variant,
		quantizer: opts.Quantizer,
		now:       opts.Now,
		logger:    opts.Logger.With("ledger", path, "variant", string(opts.Variant)),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Variant() Variant {
	return l.variant
}

func (l *Ledger) options() Options {
	return Options{Variant: l.variant, Quantizer: l.quantizer, Now: l.now, Logger: l.logger}
}

// Head returns the last entry as stored, without recomputation.
func (l *Ledger) Head() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return Entry{}, false
	}
	return *l.head, true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Append advances every strand by one step and durably appends the entry.
func (l *Ledger) Append(payload string) (Entry, error) {
	if !utf8.ValidString(payload) {
		return Entry{}, coreerrors.Config("ledger_payload_invalid", "ledger payload must be valid UTF-8 text")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var appended Entry
	err := fsx.WithFileLock(l.path, func() error {
		if err := l.refresh(); err != nil {
			return err
		}
		entry, err := l.next(payload)
		if err != nil {
			return err
		}
		line, err := encodeEntry(entry)
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "ledger_encode_failed", "", false)
		}
		if err := fsx.AppendLine(l.path, line, 0o600); err != nil {
			return coreerrors.IO(err, "ledger_append_failed")
		}
		l.head = &entry
		l.count++
		l.size += int64(len(line) + 1)
		if info, err := os.Stat(l.path); err == nil {
			l.size, l.modTime = info.Size(), info.ModTime()
		}
		appended = entry
		return nil
	})
	if err != nil {
		return Entry{}, lockError(err)
	}
	l.logger.Debug("ledger append", "n", appended.N, "plus", appended.Plus.Value)
	return appended, nil
}

func (l *Ledger) next(payload string) (Entry, error) {
	plus, minus, err := l.chains()
	if err != nil {
		return Entry{}, err
	}
	plusLink, err := plus.Next(payload)
	if err != nil {
		return Entry{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "ledger_step_failed", "", false)
	}
	entry := Entry{
		N:    plusLink.Step,
		TS:   unixSeconds(l.now()),
		Data: payload,
		Plus: StrandEntry{Value: plusLink.Value, PrevHash: plusLink.PrevHash.Hex(), Hash: plusLink.Hash.Hex()},
	}
	if l.variant == VariantChiral {
		minusLink, err := minus.Next(payload)
		if err != nil {
			return Entry{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "ledger_step_failed", "", false)
		}
		entry.Minus = &StrandEntry{Value: minusLink.Value, PrevHash: minusLink.PrevHash.Hex(), Hash: minusLink.Hash.Hex()}
		entry.Commit = strand.Commit(plusLink.Hash, minusLink.Hash).Hex()
	}
	return entry, nil
}

// chains rebuilds strand state from the stored head.
func (l *Ledger) chains() (strand.Chain, strand.Chain, error) {
	plus := strand.NewChain(recurrence.Plus, l.quantizer)
	minus := strand.NewChain(recurrence.Minus, l.quantizer)
	if l.head == nil {
		return plus, minus, nil
	}
	plusHash, err := strand.ParseDigest(l.head.Plus.Hash)
	if err != nil {
		return plus, minus, coreerrors.Format("ledger_head_invalid", "ledger head n=%d plus hash: %v", l.head.N, err)
	}
	plus.Step, plus.Value, plus.Hash = l.head.N, l.head.Plus.Value, plusHash
	if l.variant == VariantChiral {
		minusHash, err := strand.ParseDigest(l.head.Minus.Hash)
		if err != nil {
			return plus, minus, coreerrors.Format("ledger_head_invalid", "ledger head n=%d minus hash: %v", l.head.N, err)
		}
		minus.Step, minus.Value, minus.Hash = l.head.N, l.head.Minus.Value, minusHash
	}
	return plus, minus, nil
}

func (l *Ledger) refresh() error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			if l.size == 0 {
				return nil
			}
			return l.load()
		}
		return coreerrors.IO(fmt.Errorf("stat ledger: %w", err), "ledger_stat_failed")
	}
	if info.Size() == l.size && info.ModTime().Equal(l.modTime) {
		return nil
	}
	l.logger.Debug("ledger changed on disk, reloading head", "size", info.Size(), "mod_time", info.ModTime())
	return l.load()
}

func (l *Ledger) load() error {
	l.head = nil
	l.count = 0
	l.size = 0
	l.modTime = time.Time{}
	// #nosec G304 -- ledger path is explicit caller input.
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return coreerrors.IO(fmt.Errorf("open ledger: %w", err), "ledger_open_failed")
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return coreerrors.IO(fmt.Errorf("stat ledger: %w", err), "ledger_stat_failed")
	}
	var last Entry
	count := 0
	if err := scanEntries(file, l.variant, func(_ int, entry Entry) bool {
		last = entry
		count++
		return true
	}); err != nil {
		return err
	}
	if count > 0 {
		l.head = &last
	}
	l.count = count
	l.size = info.Size()
	l.modTime = info.ModTime()
	return nil
}

// Entries reads every stored entry in file order.
func (l *Ledger) Entries() ([]Entry, error) {
	return ReadEntries(l.path, l.variant)
}

func ReadEntries(path string, variant Variant) ([]Entry, error) {
	// #nosec G304 -- ledger path is explicit caller input.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.IO(fmt.Errorf("open ledger: %w", err), "ledger_open_failed")
	}
	defer func() { _ = file.Close() }()
	entries := []Entry{}
	if err := scanEntries(file, variant, func(_ int, entry Entry) bool {
		entries = append(entries, entry)
		return true
	}); err != nil {
		return nil, err
	}
	return entries, nil
}

// Verify replays the whole ledger from genesis.
func (l *Ledger) Verify() bool {
	result, err := l.Replay()
	if err != nil {
		l.logger.Warn("ledger verify aborted", "error", err.Error())
		return false
	}
	return result.OK
}

// Replay is Replay on the ledger's own file; a ledger never appended to
// replays as an empty, valid chain.
func (l *Ledger) Replay() (ReplayResult, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return ReplayResult{Path: l.path, Variant: l.variant, FromN: 1, HeadN: 1, OK: true}, nil
	}
	return Replay(l.path, l.options())
}

func lockError(err error) error {
	if stderrors.Is(err, fsx.ErrLockTimeout) {
		return coreerrors.Wrap(err, coreerrors.CategoryStateContention, "ledger_lock_timeout", "another writer holds the ledger lock; retry", true)
	}
	if coreerrors.CategoryOf(err) != "" {
		return err
	}
	return coreerrors.IO(err, "ledger_lock_failed")
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatInt(value int64) string {
	return strconv.FormatInt(value, 10)
}
