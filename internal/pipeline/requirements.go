package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/internal/scheduler"
	"github.com/sells-group/tender-cli/internal/textnorm"
	"github.com/sells-group/tender-cli/pkg/anthropic"
)

const requirementsPhase = "requirement_extraction"

const requirementsPrompt = `You extract the requirements a bidder must satisfy from a French public-procurement source document (règlement de consultation, CCAP, CCTP).
Return only a JSON array. Each element is an object:
{"text": "<the requirement, verbatim or closely paraphrased>", "category": "<short category such as administrative, technical, financial, legal>", "mandatory": true|false}
Mark a requirement mandatory when the document says it must, shall or is required. Return [] when the document states no requirement.`

// RequirementsStart reports how a requirement job was scheduled.
type RequirementsStart struct {
	JobID    string `json:"job_id"`
	Started  bool   `json:"started"`
	Deferred bool   `json:"deferred"`
	Reason   string `json:"reason,omitempty"`
}

type requirementReply struct {
	Text      string `json:"text"`
	Category  string `json:"category"`
	Mandatory bool   `json:"mandatory"`
}

// StartRequirements registers a REQUIREMENT_EXTRACTION job over
// sourceKeys, or over every source of the project when none are given, and
// runs it in the background. A job that must wait for a parse is deferred
// and started by the scheduler once the parse ends.
func (p *Pipeline) StartRequirements(ctx context.Context, projectID string, sourceKeys []string) (*RequirementsStart, error) {
	if err := validateIDs(projectID); err != nil {
		return nil, err
	}
	if len(sourceKeys) == 0 {
		keys, err := p.blobs.List(ctx, blob.SourcesPrefix(projectID))
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: list sources of %s", projectID)
		}
		sourceKeys = keys
	}
	if len(sourceKeys) == 0 {
		return nil, eris.Wrapf(ErrNoSources, "pipeline: project %s", projectID)
	}

	log := zap.L().With(zap.String("project_id", projectID))
	jobID, err := p.sched.RegisterJob(ctx, projectID, model.JobRequirementExtraction, sourceKeys)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)

	start, err := p.sched.StartJob(ctx, jobID)
	if err != nil {
		p.abandon(bg, log, jobID)
		return nil, err
	}

	out := &RequirementsStart{JobID: jobID, Deferred: start.Deferred, Reason: start.Reason}
	switch {
	case start.CanStart:
		job, err := p.sched.Get(jobID)
		if err != nil {
			return nil, err
		}
		out.Started = true
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runRequirements(bg, job)
		}()
	case start.Deferred:
		log.Info("pipeline: requirement job deferred", zap.String("job_id", jobID), zap.String("reason", start.Reason))
	default:
		p.abandon(bg, log, jobID)
		return nil, eris.Wrapf(ErrJobInFlight, "pipeline: requirements for %s: %s", projectID, start.Reason)
	}
	return out, nil
}

// ListRequirements returns the requirements extracted for a project.
func (p *Pipeline) ListRequirements(ctx context.Context, projectID string) ([]model.Requirement, error) {
	return p.store.ListRequirements(ctx, projectID)
}

// runRequirements processes the job's sources from its checkpoint. It
// returns when the job is paused, finished or no longer running.
func (p *Pipeline) runRequirements(ctx context.Context, job model.BackgroundJob) {
	unlock := p.jobs.Lock(job.ID)
	defer unlock()

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("project_id", job.ProjectID))

	current, err := p.sched.Get(job.ID)
	if err != nil {
		log.Warn("pipeline: requirement job vanished", zap.Error(err))
		return
	}
	if current.Status != model.JobRunning {
		log.Info("pipeline: requirement job not running", zap.String("status", string(current.Status)))
		return
	}
	log.Info("pipeline: requirement job running",
		zap.Int("checkpoint", current.CurrentDocumentIndex),
		zap.Int("sources", len(current.SourceKeys)),
	)

	for i := current.CurrentDocumentIndex; i < len(current.SourceKeys); i++ {
		if p.sched.ShouldPause(job.ID) {
			log.Info("pipeline: requirement job yielded", zap.Int("checkpoint", i))
			return
		}

		key := current.SourceKeys[i]
		reqs, err := p.processSource(ctx, log, key)
		if err != nil {
			p.failRequirements(ctx, log, job.ID, err)
			return
		}
		for j := range reqs {
			reqs[j].ProjectID = current.ProjectID
			reqs[j].SourceKey = key
		}
		if err := p.store.SaveRequirements(ctx, job.ID, i, reqs); err != nil {
			p.failRequirements(ctx, log, job.ID, eris.Wrapf(err, "pipeline: save requirements of %s", key))
			return
		}

		if err := p.sched.Checkpoint(ctx, job.ID, i+1); err != nil {
			if errors.Is(err, scheduler.ErrPaused) {
				log.Info("pipeline: requirement job paused", zap.Int("checkpoint", i+1))
				return
			}
			log.Warn("pipeline: requirement job stopped", zap.Error(err))
			return
		}
	}

	if _, err := p.sched.CompleteJob(ctx, job.ID, true); err != nil {
		if errors.Is(err, scheduler.ErrPausePending) {
			log.Info("pipeline: requirement job paused before completion")
			return
		}
		log.Error("pipeline: failed to complete requirement job", zap.Error(err))
		return
	}
	log.Info("pipeline: requirement job completed")
}

func (p *Pipeline) failRequirements(ctx context.Context, log *zap.Logger, jobID string, cause error) {
	log.Error("pipeline: requirement job failed", zap.Error(cause))
	if _, err := p.sched.FailJob(ctx, jobID, cause); err != nil {
		log.Warn("pipeline: failed to record job failure", zap.Error(err))
	}
}

// processSource extracts the requirements of one source document. An
// unreadable document yields no requirement and a warning; storage and
// model failures are returned.
func (p *Pipeline) processSource(ctx context.Context, log *zap.Logger, key string) ([]model.Requirement, error) {
	data, err := p.blobs.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load source %s", key)
	}
	text, err := sourceText(key, data)
	if err != nil {
		log.Warn("pipeline: skipping unreadable source", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return p.askRequirements(ctx, text)
}

func (p *Pipeline) askRequirements(ctx context.Context, text string) ([]model.Requirement, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if p.client == nil {
		return nil, eris.New("pipeline: no model client configured")
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       p.opts.RequirementsModel,
		MaxTokens:   p.opts.RequirementsMaxTokens,
		System:      []anthropic.SystemBlock{{Text: requirementsPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: textnorm.Truncate(text, p.opts.RequirementsMaxChars)}},
		Temperature: &temp,
	}

	cfg := resilience.RetryFromAttempts(p.opts.RetryAttempts, "anthropic", requirementsPhase)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.Requirement, error) {
		resp, err := p.client.CreateMessage(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.Usage.LogCost(p.opts.RequirementsModel, requirementsPhase)

		reqs, err := parseRequirements(resp.Text())
		if err != nil {
			// A malformed reply is worth another sample.
			return nil, resilience.NewTransientError(err, 0)
		}
		return reqs, nil
	})
}

// parseRequirements accepts a JSON array, or an object wrapping it under
// "requirements". Entries without text are dropped.
func parseRequirements(reply string) ([]model.Requirement, error) {
	raw := []byte(anthropic.CleanJSON(reply))

	var items []requirementReply
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Requirements []requirementReply `json:"requirements"`
		}
		if werr := json.Unmarshal(raw, &wrapped); werr != nil || wrapped.Requirements == nil {
			return nil, eris.Wrap(err, "pipeline: parse requirements reply")
		}
		items = wrapped.Requirements
	}

	out := make([]model.Requirement, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		out = append(out, model.Requirement{
			Text:      text,
			Category:  strings.ToLower(strings.TrimSpace(it.Category)),
			Mandatory: it.Mandatory,
		})
	}
	return out, nil
}

// sourceText renders a source document as plain text by extension.
func sourceText(key string, data []byte) (string, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docx.ExtractText(data)
	default:
		if !utf8.Valid(data) {
			return "", eris.Errorf("pipeline: %s is not UTF-8 text", key)
		}
		return string(data), nil
	}
}

func pdfText(data []byte) (text string, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "pipeline: open pdf")
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", eris.Wrap(err, "pipeline: read pdf text")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", eris.Wrap(err, "pipeline: read pdf text")
	}
	return buf.String(), nil
}
