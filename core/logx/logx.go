// Package logx builds the process logger: a terminal handler, an optional
// JSON file, and the systemd journal when running as a service.
package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
)

type Options struct {
	Level  string
	Format string
	// File receives JSON records in addition to the terminal.
	File   string
	Writer io.Writer
	// Journal forces the journal handler on or off; nil detects a systemd service.
	Journal *bool
}

func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", value)
	}
}

// New returns the logger, its level (adjustable at runtime), and a close
// function for the file handler.
func New(opts Options) (*slog.Logger, *slog.LevelVar, func() error, error) {
	parsed, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, nil, coreerrors.Config("log_level_invalid", "%v", err)
	}
	level := new(slog.LevelVar)
	level.Set(parsed)
	closeFn := func() error { return nil }

	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handlerOptions := &slog.HandlerOptions{Level: level}
	var handlers []slog.Handler

	journal := IsSystemdService()
	if opts.Journal != nil {
		journal = *opts.Journal
	}

	var terminalHandler slog.Handler
	if !journal || opts.Journal != nil {
		switch strings.ToLower(strings.TrimSpace(opts.Format)) {
		case "", "text":
			terminalHandler = slog.NewTextHandler(writer, handlerOptions)
		case "json":
			terminalHandler = slog.NewJSONHandler(writer, handlerOptions)
		default:
			return nil, nil, nil, coreerrors.Config("log_format_invalid", "unsupported log format %q", opts.Format)
		}
		handlers = append(handlers, terminalHandler)
	}

	if file := strings.TrimSpace(opts.File); file != "" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, nil, coreerrors.IO(fmt.Errorf("create log directory: %w", err), "log_file_failed")
			}
		}
		// #nosec G304 -- log path is explicit operator input.
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, nil, coreerrors.IO(fmt.Errorf("open log file: %w", err), "log_file_failed")
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOptions))
		closeFn = f.Close
	}

	if journal {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			if terminalHandler != nil {
				record := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
				record.Add("error", err)
				_ = terminalHandler.Handle(context.Background(), record)
			}
		} else {
			handlers = append(handlers, journalHandler)
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(writer, handlerOptions))
	}
	return slog.New(slogmulti.Fanout(handlers...)), level, closeFn, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// IsSystemdService reports whether the process cgroup is a systemd unit.
func IsSystemdService() bool {
	cgroupPath, err := cgroupPath("/proc/self/cgroup")
	if err != nil {
		return false
	}
	return isServiceCgroup(cgroupPath)
}

func isServiceCgroup(cgroupPath string) bool {
	return strings.HasSuffix(path.Dir(cgroupPath), ".service") || strings.HasSuffix(cgroupPath, ".service")
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

func cgroupPath(file string) (string, error) {
	// #nosec G304 -- fixed procfs path.
	content, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(strings.SplitN(string(content), "\n", 2)[0])
	parts := strings.SplitN(line, ":", 3)
	if len(parts) == 3 {
		return parts[2], nil
	}
	return "", nil
}
