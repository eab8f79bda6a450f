package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/record"
	"github.com/randalmurphal/triage/internal/validate"
)

// newValidateCmd creates the validate command
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bug_record.json>",
		Short: "Check an existing bug record",
		Long: `Parse a bug record file and run the record validator over it.

Records written with "error": "ticket_retrieval_failed" are reported as
retrieval failures rather than validated.

Exits 4 when the record violates a rule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			rec, err := record.Parse(data)
			if err != nil {
				return triageerrors.ErrValidationFailed([]string{string(validate.RuleNotSerializable)}).WithCause(err)
			}
			if rec.Error != "" {
				_, _ = fmt.Fprintf(w, "%s %s: %s\n", warnFor(w).Render("!"), rec.ID, rec.Error)
				return nil
			}

			if _, err := validate.Validate(rec); err != nil {
				var ve *validate.ValidationError
				if errors.As(err, &ve) {
					for _, v := range ve.Violations {
						_, _ = fmt.Fprintf(w, "%s %s\n", errorStyle(w).Render("✗"), v)
					}
				}
				return err
			}
			_, _ = fmt.Fprintf(w, "%s %s is valid\n", okFor(w).Render("✓"), args[0])
			return nil
		},
	}
}
