package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestTriageErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *TriageError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &TriageError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "Error: something broke",
		},
		{
			name:     "what and why",
			err:      &TriageError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input",
		},
		{
			name: "full error",
			err: &TriageError{
				What: "something broke",
				Why:  "bad input",
				Fix:  "try again",
			},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input\n\nFix: try again",
		},
		{
			name: "with cause",
			err: &TriageError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr:  "something broke: underlying error",
			wantUser: "Error: something broke\n\nCause: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantErr {
				t.Errorf("Error() = %q, want %q", got, tt.wantErr)
			}
			if got := tt.err.UserMessage(); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestTriageErrorJSON(t *testing.T) {
	err := ErrRetrievalFailed("PROJ-1").WithCause(errors.New("404 not found"))

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("MarshalJSON failed: %v", marshalErr)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if result["code"] != string(CodeRetrievalFailed) {
		t.Errorf("code = %v, want %v", result["code"], CodeRetrievalFailed)
	}
	if result["what"] != "ticket PROJ-1 could not be retrieved" {
		t.Errorf("what = %v", result["what"])
	}
	if result["cause"] != "404 not found" {
		t.Errorf("cause = %v, want %v", result["cause"], "404 not found")
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		err      *TriageError
		wantCat  Category
		wantExit int
		fatal    bool
	}{
		{ErrRetrievalFailed("X-1"), CategoryFatal, 3, true},
		{ErrValidationFailed([]string{"title_required"}), CategoryFatal, 4, true},
		{ErrPersistenceFailed("/nope/out.json"), CategoryFatal, 5, true},
		{ErrMissingField("title"), CategoryRecoverable, 0, false},
		{ErrImageAnalysisFailed("https://x/y.png"), CategoryRecoverable, 0, false},
		{ErrConfigInvalid("source.type", "bad"), CategoryUsage, 2, false},
		{ErrConfigMissing("source.jira.url"), CategoryUsage, 2, false},
		{ErrSourceUnknown("svn", []string{"file", "jira"}), CategoryUsage, 2, false},
		{Wrap(errors.New("x"), "unknown"), CategoryUnknown, 1, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if got := tt.err.ExitCode(); got != tt.wantExit {
				t.Errorf("ExitCode() = %d, want %d", got, tt.wantExit)
			}
			if got := tt.err.Fatal(); got != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	if got := ErrImageAnalysisFailed("https://cdn/x.png").Error(); got != "screenshot https://cdn/x.png unreachable" {
		t.Errorf("image failure message = %q", got)
	}
	if got := ErrMissingField("title").Error(); got != "title not found" {
		t.Errorf("missing field message = %q", got)
	}
	err := ErrValidationFailed([]string{"title_required", "timestamp_required"})
	if err.Why != "violated rules: title_required, timestamp_required" {
		t.Errorf("Why = %q", err.Why)
	}
}

func TestTriageErrorIs(t *testing.T) {
	err1 := ErrRetrievalFailed("A-1")
	err2 := ErrRetrievalFailed("B-2")
	err3 := ErrPersistenceFailed("out.json")

	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match")
	}

	wrapped := fmt.Errorf("run: %w", err1)
	if !errors.Is(wrapped, ErrRetrievalFailed("")) {
		t.Error("wrapped error should match by code")
	}
}

func TestAsTriageError(t *testing.T) {
	base := ErrValidationFailed([]string{"title_required"})
	wrapped := fmt.Errorf("pipeline: %w", base)

	got := AsTriageError(wrapped)
	if got == nil {
		t.Fatal("AsTriageError returned nil for wrapped TriageError")
	}
	if got.Code != CodeValidationFailed {
		t.Errorf("Code = %v, want %v", got.Code, CodeValidationFailed)
	}

	joined := errors.Join(errors.New("other"), base)
	if AsTriageError(joined) == nil {
		t.Error("AsTriageError should find a TriageError inside errors.Join")
	}

	if AsTriageError(errors.New("plain")) != nil {
		t.Error("AsTriageError should return nil for plain errors")
	}
	if AsTriageError(nil) != nil {
		t.Error("AsTriageError should return nil for nil")
	}
}

func TestWithCausePreservesFields(t *testing.T) {
	base := ErrPersistenceFailed("/tmp/out.json")
	cause := errors.New("permission denied")
	got := base.WithCause(cause)

	if got == base {
		t.Fatal("WithCause should return a copy")
	}
	if got.Code != base.Code || got.What != base.What || got.Fix != base.Fix {
		t.Errorf("WithCause changed fields: %+v", got)
	}
	if !errors.Is(got, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}
