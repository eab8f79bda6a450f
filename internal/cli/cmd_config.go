package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/triage/internal/config"
)

// newConfigCmd creates the config command with subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
		Long: `View and manage triage configuration.

Configuration is loaded from multiple sources with this priority:
  1. Command-line flags
  2. Environment variables (TRIAGE_*)
  3. Config file: --config, .triage/config.yaml or ~/.triage/config.yaml
  4. Defaults: Built-in values

Subcommands:
  show        Show merged configuration
  get         Get a specific config value
  init        Write a starter .triage/config.yaml
  env         List the environment variable for every key`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigEnvCmd())

	return cmd
}

// newConfigShowCmd creates the 'config show' subcommand.
func newConfigShowCmd() *cobra.Command {
	var showSource bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show merged configuration",
		Long: `Show the merged configuration from all sources.

By default, outputs valid YAML. Use --source to see where each value comes from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(nil)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			if showSource {
				return printConfigWithSources(out, loaded)
			}
			data, err := loaded.YAML()
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&showSource, "source", false, "Show source for each value")

	return cmd
}

// newConfigGetCmd creates the 'config get' subcommand.
func newConfigGetCmd() *cobra.Command {
	var showSource bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a specific config value",
		Long: `Get a specific configuration value by key.

Keys use dot notation for nested values (e.g., "source.type").

Examples:
  triage config get source.type
  triage config get evidence.concurrency --source`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(nil)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, s := range loaded.Settings() {
				if s.Key != args[0] {
					continue
				}
				if showSource {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%v (from %s)\n", s.Value, s.Source)
				} else {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%v\n", s.Value)
				}
				return nil
			}
			return fmt.Errorf("unknown config key: %s", args[0])
		},
	}

	cmd.Flags().BoolVar(&showSource, "source", false, "Show where the value comes from")

	return cmd
}

// newConfigInitCmd creates the 'config init' subcommand.
func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.TriageDir, config.ConfigFileName)
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "%s wrote %s\n", okFor(w).Render("✓"), path)
			return nil
		},
	}
}

// newConfigEnvCmd creates the 'config env' subcommand.
func newConfigEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List environment variables for every key",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, k := range config.Keys() {
				_, _ = fmt.Fprintf(w, "%-36s %s\n", config.EnvVar(k), dim(w).Render(k))
			}
			return nil
		},
	}
}

func printConfigWithSources(w io.Writer, loaded *config.Loaded) error {
	if loaded.File != "" {
		_, _ = fmt.Fprintf(w, "# config file: %s\n", loaded.File)
	}
	for _, s := range loaded.Settings() {
		_, _ = fmt.Fprintf(w, "%-32s = %-24v %s\n", s.Key, s.Value, dim(w).Render("# "+s.Source.String()))
	}
	return nil
}
