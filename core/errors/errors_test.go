package errors

import (
	stderrors "errors"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, CategoryIOFailure, "io_write_failed", "check directory permissions", true)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryIOFailure {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "io_write_failed" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "check directory permissions" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if !RetryableOf(err) {
		t.Fatal("expected retryable true")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if RetryableOf(err) {
		t.Fatal("unexpected retryable true")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if got := Wrap(nil, CategoryInternalFailure, "internal_failure", "retry later", false); got != nil {
		t.Fatalf("expected nil wrapped error, got=%v", got)
	}
}

func TestTaxonomyHelpers(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		category Category
		code     string
	}{
		{name: "config", err: Config("epoch_length_invalid", "epoch_length must be > 0, got %d", 0), category: CategoryInvalidInput, code: "epoch_length_invalid"},
		{name: "format", err: Format("trace_line_invalid", "line %d", 3), category: CategoryFormatInvalid, code: "trace_line_invalid"},
		{name: "missing", err: Missing("lane_missing", "lane %d", 2), category: CategoryDependencyMissing, code: "lane_missing"},
		{name: "io", err: IO(stderrors.New("disk"), "write_failed"), category: CategoryIOFailure, code: "write_failed"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if CategoryOf(testCase.err) != testCase.category {
				t.Fatalf("unexpected category: %s", CategoryOf(testCase.err))
			}
			if CodeOf(testCase.err) != testCase.code {
				t.Fatalf("unexpected code: %s", CodeOf(testCase.err))
			}
			if HintOf(testCase.err) == "" {
				t.Fatalf("expected hint")
			}
		})
	}
	if got := Config("x", "epoch_length must be > 0, got %d", 0).Error(); got != "epoch_length must be > 0, got 0" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestClassifiedErrorNilCauseDefaults(t *testing.T) {
	err := &classifiedError{
		category:  CategoryStateContention,
		code:      "ledger_lock_timeout",
		hint:      "retry append",
		retryable: true,
	}
	if err.Error() != "unknown error" {
		t.Fatalf("unexpected nil-cause error text: %s", err.Error())
	}
	if err.Unwrap() != nil {
		t.Fatalf("expected unwrap nil for nil cause")
	}
	if err.Category() != CategoryStateContention {
		t.Fatalf("unexpected category: %s", err.Category())
	}
	if err.Code() != "ledger_lock_timeout" {
		t.Fatalf("unexpected code: %s", err.Code())
	}
	if err.Hint() != "retry append" {
		t.Fatalf("unexpected hint: %s", err.Hint())
	}
	if !err.Retryable() {
		t.Fatalf("expected retryable=true")
	}
}

func TestCategorySetIsStableAndUnique(t *testing.T) {
	categories := []Category{
		CategoryInvalidInput,
		CategoryFormatInvalid,
		CategoryVerification,
		CategoryDependencyMissing,
		CategoryIOFailure,
		CategoryStateContention,
		CategoryInternalFailure,
	}
	seen := map[Category]struct{}{}
	for _, category := range categories {
		if category == "" {
			t.Fatalf("category must not be empty")
		}
		if _, exists := seen[category]; exists {
			t.Fatalf("duplicate category: %s", category)
		}
		seen[category] = struct{}{}
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 categories, got %d", len(seen))
	}
}
