package pipeline

import (
	"context"
	"mime"
	"path"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/docx"
)

const contentTypeText = "text/plain; charset=utf-8"

// UploadDocument stores the original package of a template document. A
// non-empty text is stored as its plain text rendering; otherwise the
// rendering is derived from the package when the document is parsed.
func (p *Pipeline) UploadDocument(ctx context.Context, projectID, documentID string, data []byte, text string) error {
	if err := validateIDs(projectID, documentID); err != nil {
		return err
	}
	if _, err := docx.Open(data); err != nil {
		return err
	}

	if err := p.blobs.Put(ctx, blob.OriginalKey(projectID, documentID), data, blob.ContentTypeDocx); err != nil {
		return eris.Wrapf(err, "pipeline: store original %s", documentID)
	}
	if text != "" {
		if err := p.blobs.Put(ctx, blob.TextKey(projectID, documentID), []byte(text), contentTypeText); err != nil {
			return eris.Wrapf(err, "pipeline: store text %s", documentID)
		}
	}

	zap.L().Info("pipeline: document uploaded",
		zap.String("project_id", projectID),
		zap.String("document_id", documentID),
		zap.Int("bytes", len(data)),
		zap.Bool("with_text", text != ""),
	)
	return nil
}

// UploadSource stores a requirement source document of a project and
// returns its key.
func (p *Pipeline) UploadSource(ctx context.Context, projectID, name string, data []byte) (string, error) {
	if err := validateIDs(projectID, name); err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := blob.SourcesPrefix(projectID) + name
	if err := p.blobs.Put(ctx, key, data, contentType); err != nil {
		return "", eris.Wrapf(err, "pipeline: store source %s", name)
	}
	return key, nil
}
