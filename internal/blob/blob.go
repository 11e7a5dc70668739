// Package blob stores opaque byte blobs (original templates, built internal
// templates, exports, requirement sources) by key.
package blob

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when no blob exists under a key.
var ErrNotFound = eris.New("blob: not found")

// ContentTypeDocx is the media type of word-processing packages.
const ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Store reads and writes blobs by key. Keys use "/" separators.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config selects and configures a Store.
type Config struct {
	Driver string // local | s3
	Dir    string
	Bucket string
	Prefix string
	Region string
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "local":
		s, err := NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3(ctx, cfg.Region, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}

func validateKey(key string) (string, error) {
	clean := path.Clean(strings.TrimLeft(key, "/"))
	if key == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", eris.Errorf("blob: invalid key %q", key)
	}
	return clean, nil
}

func documentPrefix(projectID, documentID string) string {
	return path.Join("projects", projectID, "documents", documentID)
}

// OriginalKey is where the uploaded tenant template lives.
func OriginalKey(projectID, documentID string) string {
	return documentPrefix(projectID, documentID) + "/original.docx"
}

// TextKey is the optional plain-text rendering of the original template.
func TextKey(projectID, documentID string) string {
	return documentPrefix(projectID, documentID) + "/original.txt"
}

// TemplateKey is where the built internal template lives.
func TemplateKey(projectID, documentID string) string {
	return documentPrefix(projectID, documentID) + "/internal.docx"
}

// ExportKey names a persisted export copy.
func ExportKey(projectID, documentID string, at time.Time) string {
	return documentPrefix(projectID, documentID) + "/exports/" + at.UTC().Format("20060102T150405.000Z") + ".docx"
}

// SourcesPrefix holds the requirement source documents of a project.
func SourcesPrefix(projectID string) string {
	return path.Join("projects", projectID, "sources") + "/"
}
