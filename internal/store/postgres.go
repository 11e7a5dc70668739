package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/db"
	"github.com/sells-group/tender-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	upsertTemplateSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "templates",
		Columns:      []string{"document_id", "project_id", "package_key", "mappings", "original_hash", "created_at"},
		ConflictKeys: []string{"document_id"},
	})
	upsertJobSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table: "jobs",
		Columns: []string{
			"id", "project_id", "type", "status", "current_document_index",
			"source_keys", "error", "created_at", "updated_at",
		},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"status", "current_document_index", "source_keys", "error", "updated_at"},
	})
)

const (
	getTemplateSQL = `SELECT document_id, project_id, package_key, mappings, original_hash, created_at FROM templates WHERE document_id = $1`
	pgJobColumns   = `id, project_id, type, status, current_document_index, source_keys, error, created_at, updated_at`
	getJobSQL      = `SELECT ` + pgJobColumns + ` FROM jobs WHERE id = $1`
)

var questionColumns = []string{
	"document_id", "position", "id", "text", "level", "parent_id", "section_order",
	"order_in_section", "type", "required", "anchor", "confidence", "provenance",
}

var requirementColumns = []string{
	"id", "project_id", "job_id", "document_index", "position",
	"source_key", "text", "category", "mandatory", "created_at",
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"upsert_template": upsertTemplateSQL,
	"get_template":    getTemplateSQL,
	"upsert_job":      upsertJobSQL,
	"get_job":         getJobSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS templates (
	document_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	package_key   TEXT NOT NULL,
	mappings      JSONB NOT NULL,
	original_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questions (
	document_id      TEXT NOT NULL,
	position         INTEGER NOT NULL,
	id               TEXT NOT NULL,
	text             TEXT NOT NULL,
	level            INTEGER NOT NULL,
	parent_id        TEXT NOT NULL DEFAULT '',
	section_order    INTEGER,
	order_in_section INTEGER NOT NULL,
	type             TEXT NOT NULL,
	required         BOOLEAN NOT NULL DEFAULT false,
	anchor           JSONB,
	confidence       DOUBLE PRECISION NOT NULL,
	provenance       TEXT NOT NULL,
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id             TEXT NOT NULL,
	type                   TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	current_document_index INTEGER NOT NULL DEFAULT 0,
	source_keys            JSONB NOT NULL DEFAULT '[]',
	error                  TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS requirements (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id     TEXT NOT NULL,
	job_id         TEXT NOT NULL,
	document_index INTEGER NOT NULL,
	position       INTEGER NOT NULL,
	source_key     TEXT NOT NULL,
	text           TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	mandatory      BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_templates_project_id ON templates(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_project_id ON jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_requirements_project_id ON requirements(project_id);
CREATE INDEX IF NOT EXISTS idx_requirements_job_doc ON requirements(job_id, document_index);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Templates ---

func (s *PostgresStore) SaveTemplate(ctx context.Context, tpl *model.InternalTemplate) error {
	mappingsJSON, err := marshalMappings(tpl.Mappings)
	if err != nil {
		return err
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, upsertTemplateSQL,
		tpl.DocumentID, tpl.ProjectID, tpl.PackageKey, mappingsJSON, tpl.OriginalHash, tpl.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save template %s", tpl.DocumentID)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, documentID string) (*model.InternalTemplate, error) {
	var tpl model.InternalTemplate
	var mappingsJSON []byte

	err := s.pool.QueryRow(ctx, getTemplateSQL, documentID).
		Scan(&tpl.DocumentID, &tpl.ProjectID, &tpl.PackageKey, &mappingsJSON, &tpl.OriginalHash, &tpl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: template %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get template %s", documentID)
	}

	if tpl.Mappings, err = unmarshalMappings(mappingsJSON); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// --- Questions ---

func (s *PostgresStore) ReplaceQuestions(ctx context.Context, documentID string, questions []model.Question) error {
	rows := make([][]any, 0, len(questions))
	for i, q := range questions {
		anchorJSON, err := marshalAnchor(q.Anchor)
		if err != nil {
			return err
		}
		var section *int32
		if q.SectionOrder != nil {
			v := int32(*q.SectionOrder)
			section = &v
		}
		rows = append(rows, []any{
			documentID, int32(i), q.ID, q.Text, int32(q.Level), q.ParentQuestionID, section,
			int32(q.OrderInSection), string(q.Type), q.Required, anchorJSON, q.Confidence, string(q.Provenance),
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace questions")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE document_id = $1`, documentID); err != nil {
		return eris.Wrapf(err, "postgres: delete questions %s", documentID)
	}
	if _, err := db.CopyFrom(ctx, tx, "questions", questionColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert questions %s", documentID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace questions")
}

func (s *PostgresStore) ListQuestions(ctx context.Context, documentID string) ([]model.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, level, parent_id, section_order, order_in_section, type, required,
			anchor, confidence, provenance
		 FROM questions WHERE document_id = $1 ORDER BY position`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list questions %s", documentID)
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		var level, order int32
		var section *int32
		var anchorJSON []byte
		var qType, provenance string
		if err := rows.Scan(&q.ID, &q.Text, &level, &q.ParentQuestionID, &section, &order,
			&qType, &q.Required, &anchorJSON, &q.Confidence, &provenance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan question")
		}
		q.Level = int(level)
		q.OrderInSection = int(order)
		q.Type = model.QuestionType(qType)
		q.Provenance = model.Provenance(provenance)
		if section != nil {
			q.SectionOrder = model.IntPtr(int(*section))
		}
		if q.Anchor, err = unmarshalAnchor(anchorJSON); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, eris.Wrap(rows.Err(), "postgres: list questions iterate")
}

// --- Jobs ---

func (s *PostgresStore) SaveJob(ctx context.Context, job *model.BackgroundJob) error {
	keysJSON, err := marshalStrings(job.SourceKeys)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertJobSQL,
		job.ID, job.ProjectID, string(job.Type), string(job.Status), int32(job.CurrentDocumentIndex),
		keysJSON, job.Error, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.BackgroundJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, getJobSQL, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.BackgroundJob, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context) ([]model.BackgroundJob, error) {
	statuses := make([]string, len(activeStatuses))
	for i, st := range activeStatuses {
		statuses[i] = string(st)
	}
	return s.queryJobs(ctx, "list active jobs",
		`SELECT `+pgJobColumns+` FROM jobs WHERE status = ANY($1) ORDER BY created_at, id`,
		statuses,
	)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.BackgroundJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	jobs := []model.BackgroundJob{}
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s scan", op)
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func scanPgJob(row pgx.Row) (*model.BackgroundJob, error) {
	var job model.BackgroundJob
	var jobType, status string
	var index int32
	var keysJSON []byte

	if err := row.Scan(&job.ID, &job.ProjectID, &jobType, &status, &index,
		&keysJSON, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Type = model.JobType(jobType)
	job.Status = model.JobStatus(status)
	job.CurrentDocumentIndex = int(index)

	keys, err := unmarshalStrings(keysJSON)
	if err != nil {
		return nil, err
	}
	job.SourceKeys = keys
	return &job, nil
}

// --- Requirements ---

func (s *PostgresStore) SaveRequirements(ctx context.Context, jobID string, documentIndex int, reqs []model.Requirement) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.JobID = jobID
		r.DocumentIndex = documentIndex
		rows = append(rows, []any{
			r.ID, r.ProjectID, jobID, int32(documentIndex), int32(i),
			r.SourceKey, r.Text, r.Category, r.Mandatory, r.CreatedAt,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save requirements")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM requirements WHERE job_id = $1 AND document_index = $2`, jobID, int32(documentIndex),
	); err != nil {
		return eris.Wrapf(err, "postgres: delete requirements %s/%d", jobID, documentIndex)
	}
	if _, err := db.CopyFrom(ctx, tx, "requirements", requirementColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert requirements %s/%d", jobID, documentIndex)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save requirements")
}

func (s *PostgresStore) ListRequirements(ctx context.Context, projectID string) ([]model.Requirement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, job_id, document_index, source_key, text, category, mandatory, created_at
		 FROM requirements WHERE project_id = $1
		 ORDER BY job_id, document_index, position`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list requirements %s", projectID)
	}
	defer rows.Close()

	reqs := []model.Requirement{}
	for rows.Next() {
		var r model.Requirement
		var index int32
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.JobID, &index, &r.SourceKey,
			&r.Text, &r.Category, &r.Mandatory, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan requirement")
		}
		r.DocumentIndex = int(index)
		reqs = append(reqs, r)
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: list requirements iterate")
}

// compile-time checks
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
