package cli

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/triage/internal/config"
	"github.com/randalmurphal/triage/internal/emit"
	"github.com/randalmurphal/triage/internal/pipeline"
	"github.com/randalmurphal/triage/internal/watcher"
)

// DefaultRecordsDir is where watch mode writes one record per ticket.
var DefaultRecordsDir = filepath.Join(config.TriageDir, "records")

// newWatchCmd creates the watch command
func newWatchCmd() *cobra.Command {
	var (
		dir      string
		outDir   string
		existing bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process ticket files as they appear in a directory",
		Long: `Watch a directory of ticket files (the file source) and run the
pipeline whenever a ticket file is created or its content changes.

Each ticket is written to <out-dir>/<ticket>.json. Runs until interrupted.

Examples:
  triage watch --dir ./tickets
  triage watch --dir ./tickets --out-dir ./records --existing`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{"source.type": "file"}
			if dir != "" {
				overrides["source.dir"] = dir
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
			stages, cleanup, err := buildStages(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			var outMu sync.Mutex
			handle := func(ctx context.Context, ticketID, _ string) {
				opts := stages
				opts.Emitter = emit.New(filepath.Join(outDir, ticketID+".json"), emit.WithLogger(logger.Sub("emit")))
				p, err := pipeline.New(opts)
				if err != nil {
					logger.Error().Err(err).Msg("build pipeline")
					return
				}
				res, err := p.Run(ctx, ticketID)
				if err != nil {
					logger.Error().Err(err).Str("ticket", ticketID).Msg("ticket not processed")
				}
				if res != nil && !quiet {
					outMu.Lock()
					_ = printRunResult(cmd.OutOrStdout(), res)
					outMu.Unlock()
				}
			}

			w, err := watcher.New(watcher.Config{
				Dir:      cfg.Source.Dir,
				Handler:  handle,
				Logger:   logger.Sub("watcher"),
				Existing: existing,
			})
			if err != nil {
				return err
			}
			err = w.Start(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "ticket directory (default source.dir)")
	cmd.Flags().StringVar(&outDir, "out-dir", DefaultRecordsDir, "directory for bug records")
	cmd.Flags().BoolVar(&existing, "existing", false, "also process tickets already in the directory")

	return cmd
}
