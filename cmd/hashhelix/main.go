package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, arguments []string, stdout, stderr io.Writer) int {
	opts := &rootOptions{}
	cmd := newRootCommand(opts, stdout, stderr)
	cmd.SetArgs(arguments)
	err := cmd.ExecuteContext(ctx)
	if opts.closeLog != nil {
		_ = opts.closeLog()
	}
	if err == nil {
		return exitOK
	}
	if !isReported(err) {
		format := opts.format
		if format != "json" {
			format = "text"
		}
		out := stderr
		if format == "json" {
			out = stdout
		}
		writeError(out, format, err, opts.correlationID)
	}
	return exitCodeForError(err)
}
