package cli

import (
	"fmt"
	"io"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
)

// PrintError prints an error to w with appropriate formatting.
// If the error is a TriageError, it uses the user-friendly format.
func PrintError(w io.Writer, err error) {
	if tErr := triageerrors.AsTriageError(err); tErr != nil {
		_, _ = fmt.Fprintln(w, errorStyle(w).Render(tErr.UserMessage()))
		if verbose {
			_, _ = fmt.Fprintf(w, "\nCode: %s\n", tErr.Code)
		}
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n", errorStyle(w).Render("Error: "+err.Error()))
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if tErr := triageerrors.AsTriageError(err); tErr != nil {
		return tErr.ExitCode()
	}
	return 1
}
