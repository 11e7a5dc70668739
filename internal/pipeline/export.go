package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
	"github.com/sells-group/tender-cli/internal/template"
)

// ExportOutput is a delivered document.
type ExportOutput struct {
	Bytes  []byte                 `json:"-"`
	Report *model.InjectionReport `json:"report"`
	// Key is the blob key of the persisted copy, when exports are kept.
	Key string `json:"key,omitempty"`
}

// Export injects answers, keyed by question id, into the internal template
// of a document. With ValidateBeforeExport a stale or broken template is
// rejected with template.ErrStaleTemplate or template.ErrInvalidTemplate.
func (p *Pipeline) Export(ctx context.Context, projectID, documentID string, answers map[string]string) (*ExportOutput, error) {
	if err := validateIDs(projectID, documentID); err != nil {
		return nil, err
	}
	tpl, err := p.loadTemplate(ctx, projectID, documentID)
	if err != nil {
		return nil, err
	}

	var checks template.ValidationResult
	if p.opts.ValidateBeforeExport {
		checks, err = p.validate(ctx, tpl, projectID, documentID)
		if err != nil {
			return nil, err
		}
		if err := checks.Err(); err != nil {
			return nil, err
		}
	}

	res, err := template.Export(tpl, answers, p.opts.Export)
	if err != nil {
		return nil, err
	}
	for _, w := range checks.Warnings {
		res.Report.Warn(w)
	}
	out := &ExportOutput{Bytes: res.Bytes, Report: res.Report}

	if p.opts.PersistExports {
		out.Key = blob.ExportKey(projectID, documentID, p.now())
		if err := p.blobs.Put(ctx, out.Key, res.Bytes, blob.ContentTypeDocx); err != nil {
			return nil, eris.Wrapf(err, "pipeline: store export %s", documentID)
		}
	}

	zap.L().Info("pipeline: document exported",
		zap.String("project_id", projectID),
		zap.String("document_id", documentID),
		zap.Int("injected", res.Report.InjectedCount),
		zap.Int("missing", res.Report.MissingCount),
		zap.Int("not_found", res.Report.NotFoundCount),
		zap.String("key", out.Key),
	)
	return out, nil
}

// Validate checks the internal template of a document against its current
// original.
func (p *Pipeline) Validate(ctx context.Context, projectID, documentID string) (template.ValidationResult, error) {
	if err := validateIDs(projectID, documentID); err != nil {
		return template.ValidationResult{}, err
	}
	tpl, err := p.loadTemplate(ctx, projectID, documentID)
	if err != nil {
		return template.ValidationResult{}, err
	}
	return p.validate(ctx, tpl, projectID, documentID)
}

func (p *Pipeline) validate(ctx context.Context, tpl *model.InternalTemplate, projectID, documentID string) (template.ValidationResult, error) {
	original, err := p.loadOriginal(ctx, projectID, documentID)
	if err != nil {
		return template.ValidationResult{}, err
	}
	if original == nil {
		zap.L().Warn("pipeline: original missing, template staleness not checked",
			zap.String("project_id", projectID),
			zap.String("document_id", documentID),
		)
	}
	return template.Validate(tpl, original), nil
}

// Questions returns the persisted questions of a parsed document.
func (p *Pipeline) Questions(ctx context.Context, projectID, documentID string) ([]model.Question, error) {
	if _, err := p.loadTemplateMeta(ctx, projectID, documentID); err != nil {
		return nil, err
	}
	return p.store.ListQuestions(ctx, documentID)
}

func (p *Pipeline) loadTemplateMeta(ctx context.Context, projectID, documentID string) (*model.InternalTemplate, error) {
	tpl, err := p.store.GetTemplate(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: template %s", documentID)
	}
	if tpl.ProjectID != projectID {
		return nil, eris.Wrapf(store.ErrNotFound, "pipeline: template %s in project %s", documentID, projectID)
	}
	return tpl, nil
}

func (p *Pipeline) loadTemplate(ctx context.Context, projectID, documentID string) (*model.InternalTemplate, error) {
	tpl, err := p.loadTemplateMeta(ctx, projectID, documentID)
	if err != nil {
		return nil, err
	}
	key := tpl.PackageKey
	if key == "" {
		key = blob.TemplateKey(projectID, documentID)
	}
	data, err := p.blobs.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load template package %s", documentID)
	}
	tpl.PackageBytes = data
	return tpl, nil
}

// loadOriginal returns nil when the original is gone. Validation then
// skips the hash check and reports it as a warning.
func (p *Pipeline) loadOriginal(ctx context.Context, projectID, documentID string) ([]byte, error) {
	data, err := p.blobs.Get(ctx, blob.OriginalKey(projectID, documentID))
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, blob.ErrNotFound):
		return nil, nil
	default:
		return nil, eris.Wrapf(err, "pipeline: load original %s", documentID)
	}
}
