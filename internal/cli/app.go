package cli

import (
	"context"
	"io"

	"github.com/randalmurphal/triage/internal/classify"
	"github.com/randalmurphal/triage/internal/config"
	"github.com/randalmurphal/triage/internal/emit"
	"github.com/randalmurphal/triage/internal/evidence"
	"github.com/randalmurphal/triage/internal/history"
	"github.com/randalmurphal/triage/internal/logging"
	"github.com/randalmurphal/triage/internal/pipeline"
	"github.com/randalmurphal/triage/internal/source"
)

// loadConfig resolves configuration with flag overrides applied last.
func loadConfig(overrides map[string]any) (*config.Loaded, error) {
	return config.Load(config.LoadOptions{ConfigFile: cfgFile, Overrides: overrides})
}

// newLogger builds the root logger. --verbose and --quiet win over the
// configured level.
func newLogger(w io.Writer, cfg *config.Config) *logging.Logger {
	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	return logging.New(w, level, cfg.Log.Format)
}

// newClassifier builds a classifier with any configured extra signatures.
func newClassifier(cfg *config.Config) (*classify.Classifier, error) {
	opts := []classify.Option{classify.WithPlatformHints(cfg.Classifier.PlatformHints)}
	if cfg.Classifier.Signatures != "" {
		extra, err := classify.LoadSignatures(cfg.Classifier.Signatures)
		if err != nil {
			return nil, err
		}
		opts = append(opts, classify.WithSignatures(extra...))
	}
	return classify.New(opts...)
}

// openHistory opens the run history store, or returns nil when disabled.
// A store that cannot be opened only disables history for this run.
func openHistory(ctx context.Context, cfg *config.Config, logger *logging.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.History.Driver).Msg("run history unavailable")
		return nil
	}
	return store
}

// buildStages wires every stage except the emitter from configuration.
// The returned cleanup closes the history store.
func buildStages(ctx context.Context, cfg *config.Config, logger *logging.Logger) (pipeline.Options, func(), error) {
	src, err := source.New(cfg.Source)
	if err != nil {
		return pipeline.Options{}, nil, err
	}
	analyzer, err := evidence.New(cfg.Evidence, logger.Sub("analyzer"))
	if err != nil {
		return pipeline.Options{}, nil, err
	}
	classifier, err := newClassifier(cfg)
	if err != nil {
		return pipeline.Options{}, nil, err
	}

	opts := pipeline.Options{
		Reader:     source.NewReader(src, source.WithLogger(logger.Sub("source"))),
		Analyzer:   analyzer,
		Classifier: classifier,
		Config:     cfg,
		Logger:     logger,
	}

	cleanup := func() {}
	if store := openHistory(ctx, cfg, logger); store != nil {
		opts.History = store
		cleanup = func() { _ = store.Close() }
	}
	return opts, cleanup, nil
}

// buildPipeline wires a pipeline that writes to cfg.OutputPath.
func buildPipeline(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *logging.Logger) (*pipeline.Pipeline, func(), error) {
	opts, cleanup, err := buildStages(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	opts.Emitter = emit.New(cfg.OutputPath, emit.WithStdout(stdout), emit.WithLogger(logger.Sub("emit")))

	p, err := pipeline.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}
