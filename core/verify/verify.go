// Package verify re-derives persisted ledger, lane, epoch, and relic
// artifacts and reports where they disagree. It never writes.
//
// Integrity disagreements are returned as Report data. Errors are reserved
// for configuration, format, and missing-input failures.
package verify

import (
	"fmt"
	"log/slog"

	"github.com/davidahmann/hashhelix/core/ledger"
)

const (
	KindChain       = "chain"
	KindCheckpoints = "checkpoints"
	KindLanes       = "lanes"
	KindEpochs      = "epochs"
	KindRelics      = "relics"
)

type Mismatch struct {
	Kind     string `json:"kind"`
	Path     string `json:"path,omitempty"`
	ID       string `json:"id,omitempty"`
	Line     int    `json:"line,omitempty"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	subject := m.ID
	if subject == "" {
		subject = m.Path
	}
	return fmt.Sprintf("%s %s %s: expected %s, got %s", m.Kind, subject, m.Field, m.Expected, m.Actual)
}

type Report struct {
	Kind       string     `json:"kind"`
	OK         bool       `json:"ok"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// First returns the earliest recorded disagreement.
func (r Report) First() (Mismatch, bool) {
	if len(r.Mismatches) == 0 {
		return Mismatch{}, false
	}
	return r.Mismatches[0], true
}

// Log writes a summary at Info, or every mismatch at Warn.
func (r Report) Log(logger *slog.Logger) {
	if logger == nil {
		return
	}
	if r.OK {
		logger.Info("verification passed", "kind", r.Kind, "checked", r.Checked)
		return
	}
	for _, m := range r.Mismatches {
		logger.Warn("verification mismatch",
			"kind", m.Kind, "id", m.ID, "path", m.Path, "field", m.Field,
			"expected", m.Expected, "actual", m.Actual)
	}
}

func (r *Report) add(m Mismatch) {
	if m.Kind == "" {
		m.Kind = r.Kind
	}
	r.Mismatches = append(r.Mismatches, m)
}

func (r *Report) finish() Report {
	r.OK = len(r.Mismatches) == 0
	return *r
}

// Chain replays a ledger from genesis and stops at the first disagreement.
func Chain(path string, opts ledger.Options) (Report, error) {
	result, err := ledger.Replay(path, opts)
	if err != nil {
		return Report{}, err
	}
	return chainReport(path, result), nil
}

// ChainFromLastCheckpoint resumes replay at the newest checkpoint, or at
// genesis when the ledger has none.
func ChainFromLastCheckpoint(path string, opts ledger.Options) (Report, error) {
	checkpoints, err := ledger.ReadCheckpoints(ledger.CheckpointPath(path))
	if err != nil {
		return Report{}, err
	}
	if len(checkpoints) == 0 {
		return Chain(path, opts)
	}
	result, err := ledger.ReplayFrom(path, checkpoints[len(checkpoints)-1], opts)
	if err != nil {
		return Report{}, err
	}
	return chainReport(path, result), nil
}

func chainReport(path string, result ledger.ReplayResult) Report {
	report := Report{Kind: KindChain, Checked: result.Entries}
	if result.Failure != nil {
		report.add(Mismatch{
			Path:     path,
			ID:       fmt.Sprintf("n=%d", result.Failure.N),
			Line:     result.Failure.Line,
			Field:    result.Failure.Field,
			Expected: result.Failure.Expected,
			Actual:   result.Failure.Actual,
		})
	}
	return report.finish()
}

// Checkpoints checks every checkpoint recorded beside a ledger.
func Checkpoints(ledgerPath string, opts ledger.Options) (Report, error) {
	result, err := ledger.VerifyCheckpoints(ledgerPath, opts)
	if err != nil {
		return Report{}, err
	}
	report := Report{Kind: KindCheckpoints, Checked: result.Checkpoints}
	for _, issue := range result.Issues {
		report.add(Mismatch{
			Path:     result.CheckpointPath,
			ID:       fmt.Sprintf("checkpoint=%d", issue.Index),
			Field:    issue.Field,
			Expected: issue.Expected,
			Actual:   issue.Actual,
		})
	}
	return report.finish(), nil
}
