package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/detect"
	"github.com/sells-group/tender-cli/internal/pipeline"
	"github.com/sells-group/tender-cli/internal/scheduler"
	"github.com/sells-group/tender-cli/internal/semantic"
	"github.com/sells-group/tender-cli/internal/store"
	"github.com/sells-group/tender-cli/internal/template"
	anthropicpkg "github.com/sells-group/tender-cli/pkg/anthropic"
)

// pipelineEnv holds the store, blob store, scheduler and pipeline used by
// the document and requirement commands.
type pipelineEnv struct {
	Store     store.Store
	Blobs     blob.Store
	Scheduler *scheduler.Scheduler
	Pipeline  *pipeline.Pipeline
}

// Close waits for background jobs of this process and releases the store.
func (pe *pipelineEnv) Close() {
	if pe.Pipeline != nil {
		pe.Pipeline.Wait()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline validates the configuration for mode and builds the
// pipeline. With resume set, jobs left active by a previous process are
// rehydrated into the scheduler. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, resume bool) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(ctx, blob.Config{
		Driver: cfg.Blob.Driver,
		Dir:    cfg.Blob.Dir,
		Bucket: cfg.Blob.Bucket,
		Prefix: cfg.Blob.Prefix,
		Region: cfg.Blob.Region,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init blob store")
	}

	var client anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Warn("TENDER_ANTHROPIC_KEY not set, semantic extraction disabled")
	}

	detector := detect.NewDefault()
	if cfg.Detect.RulesPath != "" {
		rules, err := detect.LoadRules(cfg.Detect.RulesPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load detection rules")
		}
		detector = detect.New(rules)
		zap.L().Info("detection rules loaded", zap.String("path", cfg.Detect.RulesPath))
	}

	extractor := semantic.New(client, semantic.Config{
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		Timeout:           time.Duration(cfg.Semantic.TimeoutSecs) * time.Second,
		MaxChars:          cfg.Semantic.MaxChars,
		RequestsPerSecond: cfg.Semantic.RequestsPerSecond,
		BreakerFailures:   cfg.Semantic.BreakerFailures,
		BreakerResetSecs:  cfg.Semantic.BreakerResetSecs,
	}, detector)

	sched := scheduler.New(st)
	p := pipeline.New(st, blobs, sched, detector, extractor, client, pipeline.Options{
		Export: template.ExportOptions{
			MissingAnswerText:         cfg.Export.MissingAnswerText,
			PreserveEmptyPlaceholders: cfg.Export.PreserveEmptyPlaceholders,
		},
		ValidateBeforeExport:  cfg.Export.ValidateBeforeExport,
		PersistExports:        cfg.Export.PersistExports,
		RequirementsModel:     cfg.Anthropic.Model,
		RequirementsMaxTokens: cfg.Anthropic.MaxTokens,
		RequirementsMaxChars:  cfg.Requirements.MaxChars,
		RetryAttempts:         cfg.Requirements.RetryAttempts,
	})

	env := &pipelineEnv{Store: st, Blobs: blobs, Scheduler: sched, Pipeline: p}

	if resume {
		n, err := sched.Load(ctx)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "load jobs")
		}
		if n > 0 {
			zap.L().Info("active jobs rehydrated", zap.Int("count", n))
		}
	}

	return env, nil
}
