package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/triage/internal/emit"
	"github.com/randalmurphal/triage/internal/pipeline"
)

// runFlag maps a run flag to the config key it overrides.
type runFlag struct {
	flag string
	key  string
}

var runFlags = []runFlag{
	{"output", "output_path"},
	{"source", "source.type"},
	{"dir", "source.dir"},
	{"project", "source.project"},
	{"analyzer", "evidence.analyzer"},
	{"concurrency", "evidence.concurrency"},
	{"signatures", "classifier.signatures"},
}

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	var (
		noEstimate bool
		noHistory  bool
		noHints    bool
	)

	cmd := &cobra.Command{
		Use:   "run <ticket>",
		Short: "Process a ticket into a bug record",
		Long: `Read a ticket, extract its fields, analyze its screenshots, estimate
the technology stack and write the validated bug record.

The ticket may be a key (PROJ-42, owner/repo#12, 12) or a ticket URL.

If the ticket cannot be retrieved a minimal record with
"error": "ticket_retrieval_failed" is written and the command exits 3.
A record that fails validation is not written and the command exits 4.

Examples:
  triage run PROJ-42
  triage run https://github.com/acme/shop/issues/12 --source github
  triage run MOB-7 --source file --dir ./tickets -o -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			for _, f := range runFlags {
				if !cmd.Flags().Changed(f.flag) {
					continue
				}
				if f.flag == "concurrency" {
					n, _ := cmd.Flags().GetInt(f.flag)
					overrides[f.key] = n
					continue
				}
				v, _ := cmd.Flags().GetString(f.flag)
				overrides[f.key] = v
			}
			if noEstimate {
				overrides["validation.estimate_timestamp"] = false
			}
			if noHistory {
				overrides["history.enabled"] = false
			}
			if noHints {
				overrides["classifier.platform_hints"] = false
			}

			loaded, err := loadConfig(overrides)
			if err != nil {
				return err
			}
			cfg := loaded.Config
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg)
			p, cleanup, err := buildPipeline(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			res, runErr := p.Run(cmd.Context(), args[0])

			// The record itself owns stdout when writing to "-".
			summaryOut := cmd.OutOrStdout()
			if cfg.OutputPath == emit.StdoutPath {
				summaryOut = cmd.ErrOrStderr()
			}
			if res != nil && !quiet {
				if err := printRunResult(summaryOut, res); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringP("output", "o", "", "output path (\"-\" for stdout)")
	cmd.Flags().String("source", "", "ticket source (jira, github, gitlab, file)")
	cmd.Flags().String("dir", "", "ticket directory for the file source")
	cmd.Flags().String("project", "", "project scope for searches and bare numbers")
	cmd.Flags().String("analyzer", "", "screenshot analyzer (none, http, command)")
	cmd.Flags().Int("concurrency", 0, "parallel screenshot analyses")
	cmd.Flags().String("signatures", "", "YAML file with extra stack signatures")
	cmd.Flags().BoolVar(&noEstimate, "no-estimate-timestamp", false, "reject records without a timestamp instead of estimating one")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record this run")
	cmd.Flags().BoolVar(&noHints, "no-platform-hints", false, "ignore the platform when classifying")

	return cmd
}

type runSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Platform    string   `json:"platform"`
	Stack       []string `json:"estimated_stack"`
	Errors      int      `json:"extracted_errors"`
	Screenshots int      `json:"screenshots"`
	Notes       []string `json:"notes"`
	Output      string   `json:"output,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func printRunResult(w io.Writer, res *pipeline.Result) error {
	rec := res.Record
	if rec == nil {
		return nil
	}
	sum := runSummary{
		ID:          rec.ID,
		Title:       rec.Title,
		Platform:    string(rec.Environment.Platform),
		Stack:       rec.EstimatedStack,
		Errors:      len(rec.ExtractedErrors),
		Screenshots: len(rec.Screenshots),
		Notes:       rec.Notes,
		Output:      res.OutputPath,
		SHA256:      res.OutputSHA256,
		RunID:       res.RunID,
		Error:       rec.Error,
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	switch {
	case sum.Error != "":
		_, _ = fmt.Fprintf(w, "%s %s\n", errorStyle(w).Render("✗"), sum.ID)
		_, _ = fmt.Fprintf(w, "  %s\n", sum.Error)
	case sum.Output == "":
		_, _ = fmt.Fprintf(w, "%s %s  %s\n", errorStyle(w).Render("✗"), sum.ID, sum.Title)
		_, _ = fmt.Fprintf(w, "  %s\n", dim(w).Render("record not written"))
	default:
		_, _ = fmt.Fprintf(w, "%s %s  %s\n", okFor(w).Render("✓"), sum.ID, sum.Title)
		_, _ = fmt.Fprintf(w, "  stack:       %s\n", labelFor(w).Render(strings.Join(sum.Stack, ", ")))
		_, _ = fmt.Fprintf(w, "  platform:    %s\n", sum.Platform)
		_, _ = fmt.Fprintf(w, "  errors:      %d from %d screenshot(s)\n", sum.Errors, sum.Screenshots)
	}
	for _, n := range sum.Notes {
		_, _ = fmt.Fprintf(w, "  %s %s\n", warnFor(w).Render("note:"), n)
	}
	if sum.Output != "" && sum.Output != emit.StdoutPath {
		_, _ = fmt.Fprintf(w, "  %s\n", dim(w).Render("wrote "+sum.Output))
	}
	return nil
}
