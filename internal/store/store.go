// Package store persists templates, detected questions, background jobs and
// extracted requirements.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing background jobs.
type JobFilter struct {
	ProjectID string          `json:"project_id,omitempty"`
	Type      model.JobType   `json:"type,omitempty"`
	Status    model.JobStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

const defaultListLimit = 100

// Store defines the persistence interface for templates and jobs.
type Store interface {
	// Templates. SaveTemplate replaces any previous template of the document.
	SaveTemplate(ctx context.Context, tpl *model.InternalTemplate) error
	GetTemplate(ctx context.Context, documentID string) (*model.InternalTemplate, error)

	// Questions
	ReplaceQuestions(ctx context.Context, documentID string, questions []model.Question) error
	ListQuestions(ctx context.Context, documentID string) ([]model.Question, error)

	// Jobs
	SaveJob(ctx context.Context, job *model.BackgroundJob) error
	GetJob(ctx context.Context, jobID string) (*model.BackgroundJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.BackgroundJob, error)
	ListActiveJobs(ctx context.Context) ([]model.BackgroundJob, error)

	// Requirements. SaveRequirements replaces the rows previously stored
	// for the same job and document index, so a replayed document does not
	// duplicate its output.
	SaveRequirements(ctx context.Context, jobID string, documentIndex int, reqs []model.Requirement) error
	ListRequirements(ctx context.Context, projectID string) ([]model.Requirement, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var activeStatuses = []model.JobStatus{model.JobPending, model.JobRunning, model.JobPaused}

// Open returns the store selected by driver ("sqlite" or "postgres").
// poolCfg only applies to postgres and may be nil.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
