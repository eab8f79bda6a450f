package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/triage/internal/classify"
	"github.com/randalmurphal/triage/internal/record"
)

// newClassifyCmd creates the classify command
func newClassifyCmd() *cobra.Command {
	var (
		platform   string
		title      string
		signatures string
		noHints    bool
	)

	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Estimate the technology stack of error text",
		Long: `Run the stack classifier over error text without a ticket.

Text comes from the arguments, or from stdin when no arguments are given.
Each non-empty line is treated as one extracted error.

Examples:
  triage classify "Fatal error: Uncaught Exception in /var/www/app.php:12"
  triage classify --platform ios < crash.log
  triage classify --json < console.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(nil)
			if err != nil {
				return err
			}
			cfg := loaded.Config
			if signatures != "" {
				cfg.Classifier.Signatures = signatures
			}
			if noHints {
				cfg.Classifier.PlatformHints = false
			}
			c, err := newClassifier(cfg)
			if err != nil {
				return err
			}

			var lines []string
			if len(args) > 0 {
				lines = splitLines(strings.Join(args, " "))
			} else {
				lines, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			res := c.Classify(classify.Input{
				Errors:   lines,
				Title:    title,
				Platform: record.ParsePlatform(platform),
			})
			return printClassification(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "platform the errors came from (web, ios, android)")
	cmd.Flags().StringVar(&title, "title", "", "ticket title to include as evidence")
	cmd.Flags().StringVar(&signatures, "signatures", "", "YAML file with extra stack signatures")
	cmd.Flags().BoolVar(&noHints, "no-platform-hints", false, "ignore the platform")

	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func printClassification(w io.Writer, res classify.Result) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	_, _ = fmt.Fprintln(w, labelFor(w).Render(strings.Join(res.Labels, ", ")))
	if quiet {
		return nil
	}
	for _, c := range res.Candidates {
		_, _ = fmt.Fprintf(w, "  %-10s %-5s %s  %s\n",
			c.Label, c.Confidence, dim(w).Render(c.Signature), truncate(c.Evidence, 72))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
