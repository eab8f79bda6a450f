package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/triage/internal/history"
)

// newHistoryCmd creates the history command
func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Long: `Show recent pipeline runs, newest first.

Subcommands:
  show <run-id>   Show the classifier evidence recorded for a run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if runID != "" {
				return showEvidence(cmd, store, runID)
			}
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().StringVar(&runID, "evidence", "", "show the classifier evidence for one run")
	cmd.AddCommand(newHistoryShowCmd())

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the classifier evidence for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			return showEvidence(cmd, store, args[0])
		},
	}
}

func showEvidence(cmd *cobra.Command, store *history.Store, runID string) error {
	candidates, err := store.Evidence(cmd.Context(), runID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}
	if len(candidates) == 0 {
		_, _ = fmt.Fprintln(w, dim(w).Render("no classifier evidence recorded"))
		return nil
	}
	for _, c := range candidates {
		_, _ = fmt.Fprintf(w, "%-10s %-5s %s\n  %s\n",
			labelFor(w).Render(c.Label), c.Confidence, dim(w).Render(c.Signature), c.Evidence)
	}
	return nil
}

func openHistoryStore(cmd *cobra.Command) (*history.Store, error) {
	loaded, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("run history is disabled (history.enabled=false)")
	}
	return history.Open(cmd.Context(), cfg.History)
}

func printRuns(w io.Writer, runs []history.Run) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, dim(w).Render("no runs recorded"))
		return nil
	}
	for _, r := range runs {
		status := okFor(w).Render(string(r.Status))
		if r.Status != history.StatusEmitted {
			status = errorStyle(w).Render(string(r.Status))
		}
		_, _ = fmt.Fprintf(w, "%s  %s  %-12s %-18s %s\n",
			dim(w).Render(r.CreatedAt.Local().Format("2006-01-02 15:04")),
			dim(w).Render(r.ID),
			r.BugID, status, strings.Join(r.Stack, ", "))
	}
	return nil
}
