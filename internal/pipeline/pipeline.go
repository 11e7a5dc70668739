// Package pipeline wires detection, semantic extraction, merging and the
// template builder into the parse and export flows, and runs requirement
// extraction jobs under the project scheduler.
package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/detect"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/scheduler"
	"github.com/sells-group/tender-cli/internal/semantic"
	"github.com/sells-group/tender-cli/internal/store"
	"github.com/sells-group/tender-cli/internal/template"
	"github.com/sells-group/tender-cli/pkg/anthropic"
)

var (
	// ErrJobInFlight rejects a job while another job of the same type is
	// active for the project.
	ErrJobInFlight = eris.New("pipeline: job in flight")
	ErrInvalidID   = eris.New("pipeline: invalid identifier")
	ErrNoSources   = eris.New("pipeline: no requirement source")
)

// Options tunes the export and requirement flows.
type Options struct {
	Export               template.ExportOptions
	ValidateBeforeExport bool
	PersistExports       bool

	RequirementsModel     string
	RequirementsMaxTokens int64
	RequirementsMaxChars  int
	RetryAttempts         int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ValidateBeforeExport:  true,
		RequirementsModel:     semantic.DefaultConfig().Model,
		RequirementsMaxTokens: 4096,
		RequirementsMaxChars:  40000,
		RetryAttempts:         3,
		Export: template.ExportOptions{
			MissingAnswerText: template.DefaultMissingAnswerText,
		},
	}
}

// Pipeline orchestrates the template and requirement flows of a project.
type Pipeline struct {
	store    store.Store
	blobs    blob.Store
	sched    *scheduler.Scheduler
	detector *detect.Detector
	semantic *semantic.Extractor
	client   anthropic.Client
	opts     Options
	now      func() time.Time

	docs keyedMutex
	jobs keyedMutex
	wg   sync.WaitGroup
}

// New creates a Pipeline and registers it as the scheduler's runner for
// requirement extraction jobs. A nil detector uses the default rules and a
// nil extractor is built from client with default settings.
func New(
	st store.Store,
	blobs blob.Store,
	sched *scheduler.Scheduler,
	detector *detect.Detector,
	extractor *semantic.Extractor,
	client anthropic.Client,
	opts Options,
) *Pipeline {
	def := DefaultOptions()
	if opts.RequirementsModel == "" {
		opts.RequirementsModel = def.RequirementsModel
	}
	if opts.RequirementsMaxTokens <= 0 {
		opts.RequirementsMaxTokens = def.RequirementsMaxTokens
	}
	if opts.RequirementsMaxChars <= 0 {
		opts.RequirementsMaxChars = def.RequirementsMaxChars
	}
	if detector == nil {
		detector = detect.NewDefault()
	}
	if extractor == nil {
		extractor = semantic.New(client, semantic.DefaultConfig(), detector)
	}
	if sched == nil {
		sched = scheduler.New(st)
	}

	p := &Pipeline{
		store:    st,
		blobs:    blobs,
		sched:    sched,
		detector: detector,
		semantic: extractor,
		client:   client,
		opts:     opts,
		now:      time.Now,
	}
	sched.SetRunner(model.JobRequirementExtraction, p.runRequirements)
	return p
}

// Scheduler returns the scheduler the pipeline reports to.
func (p *Pipeline) Scheduler() *scheduler.Scheduler {
	return p.sched
}

// Wait blocks until every requirement job started by the pipeline or
// handed over by the scheduler has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
	p.sched.Wait()
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			return eris.Wrapf(ErrInvalidID, "pipeline: %q", id)
		}
	}
	return nil
}
