// Package lanes drives the recurrence across independent lanes and writes
// one raw trace file per lane.
package lanes

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
	"github.com/davidahmann/hashhelix/core/recurrence"
)

type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeParallel, "lockstep":
		return ModeParallel, nil
	default:
		return "", fmt.Errorf("unsupported lane mode %q", value)
	}
}

const InterleavedFileName = "lanes_interleaved.txt"

// cancelCheckInterval bounds how many steps run between context checks.
const cancelCheckInterval = 4096

type Config struct {
	Lanes       int
	Steps       int64
	Seed        int64
	SeedStride  int64
	Sign        recurrence.Sign
	Quantizer   recurrence.Quantizer
	Mode        Mode
	Interleaved bool
	// Workers bounds concurrent lanes in sequential mode; <= 1 runs lanes one by one.
	Workers int
	OutDir  string
	Logger  *slog.Logger
}

func (c Config) normalized() (Config, error) {
	if c.Lanes < 1 {
		return Config{}, coreerrors.Config("lanes_invalid", "lanes must be >= 1, got %d", c.Lanes)
	}
	if c.Steps < 1 {
		return Config{}, coreerrors.Config("steps_invalid", "steps must be >= 1, got %d", c.Steps)
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return Config{}, coreerrors.Config("lane_dir_required", "lane output directory is required")
	}
	if c.Sign == 0 {
		c.Sign = recurrence.Plus
	}
	if !c.Sign.Valid() {
		return Config{}, coreerrors.Config("sign_invalid", "sign must be +1 or -1, got %d", int(c.Sign))
	}
	quantizer, err := recurrence.ParseQuantizer(string(c.Quantizer))
	if err != nil {
		return Config{}, coreerrors.Config("quantizer_invalid", "%v", err)
	}
	c.Quantizer = quantizer
	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return Config{}, coreerrors.Config("lane_mode_invalid", "%v", err)
	}
	c.Mode = mode
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// LaneSeed returns seed + (laneID-1)*stride.
func LaneSeed(seed, stride int64, laneID int) int64 {
	return seed + int64(laneID-1)*stride
}

type LaneResult struct {
	LaneID int    `json:"lane_id"`
	Seed   int64  `json:"seed"`
	Path   string `json:"path"`
	Steps  int64  `json:"steps"`
	Last   int64  `json:"last_value"`
}

type Result struct {
	Mode            Mode         `json:"mode"`
	OutDir          string       `json:"out_dir"`
	Lanes           []LaneResult `json:"lanes"`
	InterleavedPath string       `json:"interleaved_path,omitempty"`
}

// Stream calls fn with (n, a_n) for n = 1..steps, where a_1 = seed.
func Stream(ctx context.Context, seed, steps int64, sign recurrence.Sign, quantizer recurrence.Quantizer, fn func(n, value int64) error) error {
	value := seed
	if err := fn(1, value); err != nil {
		return err
	}
	for n := int64(2); n <= steps; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		next, err := recurrence.SpiralWith(value, n, sign, quantizer)
		if err != nil {
			return err
		}
		value = next
		if err := fn(n, value); err != nil {
			return err
		}
	}
	return nil
}

// Run writes laneNN.txt for every lane. Both modes produce identical lane
// files; parallel mode advances lanes in lock-step and can also write the
// interleaved trace.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return Result{}, err
	}
	var result Result
	if cfg.Mode == ModeParallel {
		result, err = runParallel(ctx, cfg)
	} else {
		result, err = runSequential(ctx, cfg)
	}
	if err != nil {
		return Result{}, err
	}
	cfg.Logger.Info("lanes generated", "mode", string(cfg.Mode), "lanes", cfg.Lanes, "steps", cfg.Steps, "dir", cfg.OutDir)
	return result, nil
}

func runSequential(ctx context.Context, cfg Config) (Result, error) {
	result := Result{Mode: ModeSequential, OutDir: cfg.OutDir, Lanes: make([]LaneResult, cfg.Lanes)}
	errs := make([]error, cfg.Lanes)
	slots := make(chan struct{}, cfg.Workers)
	var group sync.WaitGroup
	for laneID := 1; laneID <= cfg.Lanes; laneID++ {
		group.Add(1)
		slots <- struct{}{}
		go func(laneID int) {
			defer group.Done()
			defer func() { <-slots }()
			lane, err := writeLane(ctx, cfg, laneID)
			result.Lanes[laneID-1] = lane
			errs[laneID-1] = err
		}(laneID)
	}
	group.Wait()
	for _, err := range errs {
		if err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func writeLane(ctx context.Context, cfg Config, laneID int) (LaneResult, error) {
	seed := LaneSeed(cfg.Seed, cfg.SeedStride, laneID)
	path := TracePath(cfg.OutDir, laneID)
	writer, err := fsx.NewAtomicWriter(path, 0o644)
	if err != nil {
		return LaneResult{}, coreerrors.IO(err, "lane_write_failed")
	}
	buffered := bufio.NewWriterSize(writer, 64*1024)
	var last int64
	streamErr := Stream(ctx, seed, cfg.Steps, cfg.Sign, cfg.Quantizer, func(_ int64, value int64) error {
		last = value
		return writeValue(buffered, value)
	})
	if streamErr == nil {
		streamErr = buffered.Flush()
	}
	if streamErr != nil {
		writer.Abort()
		return LaneResult{}, laneError(streamErr)
	}
	if err := writer.Commit(); err != nil {
		return LaneResult{}, coreerrors.IO(err, "lane_write_failed")
	}
	cfg.Logger.Debug("lane written", "lane", laneID, "seed", seed, "path", path)
	return LaneResult{LaneID: laneID, Seed: seed, Path: path, Steps: cfg.Steps, Last: last}, nil
}

type laneWriter struct {
	atomic   *fsx.AtomicWriter
	buffered *bufio.Writer
}

func runParallel(ctx context.Context, cfg Config) (Result, error) {
	result := Result{Mode: ModeParallel, OutDir: cfg.OutDir, Lanes: make([]LaneResult, cfg.Lanes)}
	writers := make([]laneWriter, 0, cfg.Lanes+1)
	abort := func() {
		for _, w := range writers {
			w.atomic.Abort()
		}
	}
	open := func(path string) (*bufio.Writer, error) {
		atomicWriter, err := fsx.NewAtomicWriter(path, 0o644)
		if err != nil {
			return nil, coreerrors.IO(err, "lane_write_failed")
		}
		buffered := bufio.NewWriterSize(atomicWriter, 64*1024)
		writers = append(writers, laneWriter{atomic: atomicWriter, buffered: buffered})
		return buffered, nil
	}

	states := make([]int64, cfg.Lanes)
	laneOut := make([]*bufio.Writer, cfg.Lanes)
	for i := range states {
		laneID := i + 1
		states[i] = LaneSeed(cfg.Seed, cfg.SeedStride, laneID)
		out, err := open(TracePath(cfg.OutDir, laneID))
		if err != nil {
			abort()
			return Result{}, err
		}
		laneOut[i] = out
		result.Lanes[i] = LaneResult{LaneID: laneID, Seed: states[i], Path: TracePath(cfg.OutDir, laneID), Steps: cfg.Steps}
	}
	var interleaved *bufio.Writer
	if cfg.Interleaved {
		result.InterleavedPath = joinPath(cfg.OutDir, InterleavedFileName)
		out, err := open(result.InterleavedPath)
		if err != nil {
			abort()
			return Result{}, err
		}
		interleaved = out
	}

	tick := func(n int64) error {
		for i := range states {
			if n > 1 {
				next, err := recurrence.SpiralWith(states[i], n, cfg.Sign, cfg.Quantizer)
				if err != nil {
					return err
				}
				states[i] = next
			}
			if err := writeValue(laneOut[i], states[i]); err != nil {
				return err
			}
			if interleaved != nil {
				if _, err := fmt.Fprintf(interleaved, "%d,%d,%d\n", n, i+1, states[i]); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for n := int64(1); n <= cfg.Steps; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				abort()
				return Result{}, laneError(err)
			}
		}
		if err := tick(n); err != nil {
			abort()
			return Result{}, laneError(err)
		}
	}
	for _, w := range writers {
		if err := w.buffered.Flush(); err != nil {
			abort()
			return Result{}, coreerrors.IO(err, "lane_write_failed")
		}
	}
	for i, w := range writers {
		if err := w.atomic.Commit(); err != nil {
			for _, rest := range writers[i+1:] {
				rest.atomic.Abort()
			}
			return Result{}, coreerrors.IO(err, "lane_write_failed")
		}
	}
	for i := range states {
		result.Lanes[i].Last = states[i]
	}
	return result, nil
}

func writeValue(w *bufio.Writer, value int64) error {
	var buf [24]byte
	line := strconv.AppendInt(buf[:0], value, 10)
	line = append(line, '\n')
	_, err := w.Write(line)
	return err
}

func laneError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "lane_run_cancelled", "rerun the lane generation", true)
	}
	if coreerrors.CategoryOf(err) != "" {
		return err
	}
	return coreerrors.IO(err, "lane_write_failed")
}
