// Package cli implements the triage command-line interface.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	// Ticket source backends register themselves on import.
	_ "github.com/randalmurphal/triage/internal/source/file"
	_ "github.com/randalmurphal/triage/internal/source/github"
	_ "github.com/randalmurphal/triage/internal/source/gitlab"
	_ "github.com/randalmurphal/triage/internal/source/jira"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Turn bug tickets into structured bug records",
	Long: `triage reads a bug ticket, extracts a structured bug record, gathers
error text from its screenshots and estimates the technology stack.

Pipeline:
  read ticket -> extract fields -> analyze screenshots -> classify stack
  -> validate -> write bug_record.json

Quick start:
  triage config init              Write .triage/config.yaml
  triage run PROJ-42              Process a Jira ticket
  triage classify < error.log     Classify error text only
  triage history                  Show recent runs`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel in-flight retrieval and screenshot analysis.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .triage/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newSignaturesCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}
