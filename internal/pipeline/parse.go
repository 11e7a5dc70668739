package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/detect"
	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/merge"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/semantic"
	"github.com/sells-group/tender-cli/internal/template"
)

// ParseResult is the outcome of ParseTemplate.
type ParseResult struct {
	JobID         string                     `json:"job_id"`
	PausedJobID   string                     `json:"paused_job_id,omitempty"`
	DocumentID    string                     `json:"document_id"`
	Sections      []model.Section            `json:"sections"`
	Questions     []model.Question           `json:"questions"`
	Skipped       []template.SkippedQuestion `json:"skipped"`
	CompanyFields []model.CompanyField       `json:"company_fields"`
	DetectStats   model.DetectionStats       `json:"detect_stats"`
	MergeStats    merge.Stats                `json:"merge_stats"`
	Placeholders  int                        `json:"placeholders"`
	Degraded      bool                       `json:"degraded"`
}

// ParseTemplate detects the questions of an uploaded document, builds its
// internal template and persists both. It runs as the project's
// QUESTION_EXTRACTION job, pausing a running requirement job until done.
func (p *Pipeline) ParseTemplate(ctx context.Context, projectID, documentID string) (*ParseResult, error) {
	if err := validateIDs(projectID, documentID); err != nil {
		return nil, err
	}
	unlock := p.docs.Lock(projectID + "/" + documentID)
	defer unlock()

	log := zap.L().With(zap.String("project_id", projectID), zap.String("document_id", documentID))

	jobID, err := p.sched.RegisterJob(ctx, projectID, model.JobQuestionExtraction, []string{blob.OriginalKey(projectID, documentID)})
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)

	start, err := p.sched.StartJob(ctx, jobID)
	if err != nil {
		p.abandon(bg, log, jobID)
		return nil, err
	}
	if !start.CanStart {
		p.abandon(bg, log, jobID)
		return nil, eris.Wrapf(ErrJobInFlight, "pipeline: parse %s: %s", documentID, start.Reason)
	}
	log = log.With(zap.String("job_id", jobID))
	if start.PausedJobID != "" {
		log.Info("pipeline: requirement job paused for parse", zap.String("paused_job_id", start.PausedJobID))
	}

	res, err := p.parse(ctx, log, projectID, documentID)
	if err != nil {
		if _, ferr := p.sched.FailJob(bg, jobID, err); ferr != nil {
			log.Error("pipeline: failed to record job failure", zap.Error(ferr))
		}
		return nil, err
	}
	if _, err := p.sched.CompleteJob(bg, jobID, true); err != nil {
		return nil, err
	}

	res.JobID = jobID
	res.PausedJobID = start.PausedJobID
	return res, nil
}

func (p *Pipeline) parse(ctx context.Context, log *zap.Logger, projectID, documentID string) (*ParseResult, error) {
	start := time.Now()
	log.Info("pipeline: parsing template")

	original, err := p.blobs.Get(ctx, blob.OriginalKey(projectID, documentID))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load original %s", documentID)
	}
	text, err := p.loadText(ctx, projectID, documentID, original)
	if err != nil {
		return nil, err
	}

	var detected *detect.Result
	var sem *semantic.Result
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := p.detector.Detect(original)
		if err != nil {
			return err
		}
		detected = r
		return nil
	})
	g.Go(func() error {
		sem = p.semantic.Extract(gCtx, text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if sem.Degraded {
		log.Warn("pipeline: semantic pass degraded", zap.Error(sem.Err))
	}

	aligned := merge.AlignSections(sem.Questions, detected.Sections, sem.Sections)
	merged := merge.Merge(detected.Questions, aligned)
	sections := merge.MergeSections(detected.Sections, sem.Sections)

	built, err := template.Build(documentID, original, merged.Questions)
	if err != nil {
		return nil, err
	}
	tpl := built.Template
	tpl.ProjectID = projectID
	tpl.PackageKey = blob.TemplateKey(projectID, documentID)

	if err := p.blobs.Put(ctx, tpl.PackageKey, tpl.PackageBytes, blob.ContentTypeDocx); err != nil {
		return nil, eris.Wrapf(err, "pipeline: store template %s", documentID)
	}
	if err := p.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save template %s", documentID)
	}
	if err := p.store.ReplaceQuestions(ctx, documentID, merged.Questions); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save questions %s", documentID)
	}

	log.Info("pipeline: template parsed",
		zap.Int("sections", len(sections)),
		zap.Int("questions", len(merged.Questions)),
		zap.Int("merged", merged.Stats.Merged),
		zap.Int("pattern_only", merged.Stats.PatternOnly),
		zap.Int("semantic_only", merged.Stats.SemanticOnly),
		zap.Int("placeholders", len(tpl.Mappings)),
		zap.Int("skipped", len(built.Skipped)),
		zap.Bool("degraded", sem.Degraded),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &ParseResult{
		DocumentID:    documentID,
		Sections:      sections,
		Questions:     merged.Questions,
		Skipped:       built.Skipped,
		CompanyFields: sem.CompanyFields,
		DetectStats:   detected.Stats,
		MergeStats:    merged.Stats,
		Placeholders:  len(tpl.Mappings),
		Degraded:      sem.Degraded,
	}, nil
}

// loadText returns the stored plain text rendering of a document, or
// derives one from the package.
func (p *Pipeline) loadText(ctx context.Context, projectID, documentID string, original []byte) (string, error) {
	data, err := p.blobs.Get(ctx, blob.TextKey(projectID, documentID))
	switch {
	case err == nil:
		return string(data), nil
	case errors.Is(err, blob.ErrNotFound):
		return docx.ExtractText(original)
	default:
		return "", eris.Wrapf(err, "pipeline: load text %s", documentID)
	}
}

func (p *Pipeline) abandon(ctx context.Context, log *zap.Logger, jobID string) {
	if _, err := p.sched.AbandonJob(ctx, jobID); err != nil {
		log.Warn("pipeline: failed to abandon job", zap.String("job_id", jobID), zap.Error(err))
	}
}
