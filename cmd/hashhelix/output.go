package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/verify"
)

const (
	exitOK                = 0
	exitVerifyFailed      = 1
	exitInvalidInput      = 2
	exitMissingDependency = 3
	exitIOFailure         = 4
	exitInternalFailure   = 5
)

var validFormats = []string{"text", "json"}

// reportedError marks a failure whose output was already written.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string {
	return e.err.Error()
}

func (e *reportedError) Unwrap() error {
	return e.err
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput, coreerrors.CategoryFormatInvalid:
		return exitInvalidInput
	case coreerrors.CategoryVerification:
		return exitVerifyFailed
	case coreerrors.CategoryDependencyMissing:
		return exitMissingDependency
	case coreerrors.CategoryIOFailure, coreerrors.CategoryStateContention:
		return exitIOFailure
	case coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	// cobra reports unknown commands and bad flags as plain errors.
	return exitInvalidInput
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitVerifyFailed:
		return coreerrors.CategoryVerification
	case exitMissingDependency:
		return coreerrors.CategoryDependencyMissing
	case exitIOFailure:
		return coreerrors.CategoryIOFailure
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage and flag values"
	case exitVerifyFailed:
		return "inspect the reported mismatches; artifacts are never repaired automatically"
	case exitMissingDependency:
		return "produce the missing input or rerun with --strict=false"
	case exitIOFailure:
		return "check paths, permissions, and concurrent writers"
	default:
		return "retry after checking local environment and logs"
	}
}

type errorEnvelope struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error"`
	ErrorCode     string `json:"error_code"`
	ErrorCategory string `json:"error_category"`
	Retryable     bool   `json:"retryable"`
	Hint          string `json:"hint"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func newErrorEnvelope(err error, correlationID string) errorEnvelope {
	exitCode := exitCodeForError(err)
	envelope := errorEnvelope{
		Error:         err.Error(),
		ErrorCode:     coreerrors.CodeOf(err),
		ErrorCategory: string(coreerrors.CategoryOf(err)),
		Retryable:     coreerrors.RetryableOf(err),
		Hint:          coreerrors.HintOf(err),
		CorrelationID: correlationID,
	}
	if envelope.ErrorCategory == "" {
		envelope.ErrorCategory = string(defaultErrorCategory(exitCode))
	}
	if envelope.ErrorCode == "" {
		envelope.ErrorCode = envelope.ErrorCategory
	}
	if strings.TrimSpace(envelope.Hint) == "" {
		envelope.Hint = defaultHint(exitCode)
	}
	return envelope
}

func writeError(w io.Writer, format string, err error, correlationID string) {
	envelope := newErrorEnvelope(err, correlationID)
	if format == "json" {
		encoded, marshalErr := json.Marshal(envelope)
		if marshalErr != nil {
			_, _ = fmt.Fprintln(w, `{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
			return
		}
		_, _ = fmt.Fprintln(w, string(encoded))
		return
	}
	_, _ = fmt.Fprintf(w, "error [%s]: %s\n", envelope.ErrorCode, envelope.Error)
	_, _ = fmt.Fprintf(w, "hint: %s\n", envelope.Hint)
}

// writeJSON emits {"ok": ..., "correlation_id": ..., <data fields>}.
func writeJSON(w io.Writer, data any, ok bool, correlationID string) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	result := map[string]any{}
	if err := json.Unmarshal(encoded, &result); err != nil {
		result = map[string]any{"result": json.RawMessage(encoded)}
	}
	result["ok"] = ok
	if correlationID != "" {
		result["correlation_id"] = correlationID
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func writeReportText(w io.Writer, report verify.Report) {
	if report.OK {
		_, _ = fmt.Fprintf(w, "verify %s: ok (%d checked)\n", report.Kind, report.Checked)
		return
	}
	_, _ = fmt.Fprintf(w, "verify %s: FAILED (%d checked, %d mismatches)\n", report.Kind, report.Checked, len(report.Mismatches))
	for _, m := range report.Mismatches {
		_, _ = fmt.Fprintf(w, "  %s\n", m.String())
	}
}

func verificationFailed(kind string, count int) error {
	return &reportedError{err: coreerrors.Wrap(
		fmt.Errorf("%s verification failed with %d mismatches", kind, count),
		coreerrors.CategoryVerification, "verification_failed", "", false,
	)}
}

func isReported(err error) bool {
	var reported *reportedError
	return stderrors.As(err, &reported)
}
