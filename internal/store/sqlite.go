package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tender-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// SQLite has a single writer and pragmas are per connection.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS templates (
	document_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	package_key   TEXT NOT NULL,
	mappings      TEXT NOT NULL,
	original_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
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
	required         INTEGER NOT NULL DEFAULT 0,
	anchor           TEXT,
	confidence       REAL NOT NULL,
	provenance       TEXT NOT NULL,
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                     TEXT PRIMARY KEY,
	project_id             TEXT NOT NULL,
	type                   TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	current_document_index INTEGER NOT NULL DEFAULT 0,
	source_keys            TEXT NOT NULL DEFAULT '[]',
	error                  TEXT NOT NULL DEFAULT '',
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS requirements (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	job_id         TEXT NOT NULL,
	document_index INTEGER NOT NULL,
	position       INTEGER NOT NULL,
	source_key     TEXT NOT NULL,
	text           TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	mandatory      INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_templates_project_id ON templates(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_project_id ON jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_requirements_project_id ON requirements(project_id);
CREATE INDEX IF NOT EXISTS idx_requirements_job_doc ON requirements(job_id, document_index);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Templates ---

func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *model.InternalTemplate) error {
	mappingsJSON, err := marshalMappings(tpl.Mappings)
	if err != nil {
		return err
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (document_id, project_id, package_key, mappings, original_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			project_id = excluded.project_id,
			package_key = excluded.package_key,
			mappings = excluded.mappings,
			original_hash = excluded.original_hash,
			created_at = excluded.created_at`,
		tpl.DocumentID, tpl.ProjectID, tpl.PackageKey, string(mappingsJSON), tpl.OriginalHash, tpl.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save template %s", tpl.DocumentID)
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, documentID string) (*model.InternalTemplate, error) {
	var tpl model.InternalTemplate
	var mappingsJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, project_id, package_key, mappings, original_hash, created_at
		 FROM templates WHERE document_id = ?`,
		documentID,
	).Scan(&tpl.DocumentID, &tpl.ProjectID, &tpl.PackageKey, &mappingsJSON, &tpl.OriginalHash, &tpl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: template %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get template %s", documentID)
	}

	if tpl.Mappings, err = unmarshalMappings([]byte(mappingsJSON)); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// --- Questions ---

func (s *SQLiteStore) ReplaceQuestions(ctx context.Context, documentID string, questions []model.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace questions")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE document_id = ?`, documentID); err != nil {
		return eris.Wrapf(err, "sqlite: delete questions %s", documentID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO questions (document_id, position, id, text, level, parent_id, section_order,
			order_in_section, type, required, anchor, confidence, provenance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert question")
	}
	defer stmt.Close()

	for i, q := range questions {
		anchorJSON, err := marshalAnchor(q.Anchor)
		if err != nil {
			return err
		}
		var anchor, section any
		if anchorJSON != nil {
			anchor = string(anchorJSON)
		}
		if q.SectionOrder != nil {
			section = *q.SectionOrder
		}
		if _, err := stmt.ExecContext(ctx,
			documentID, i, q.ID, q.Text, q.Level, q.ParentQuestionID, section,
			q.OrderInSection, string(q.Type), q.Required, anchor, q.Confidence, string(q.Provenance),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert question %s", q.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace questions")
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, documentID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, level, parent_id, section_order, order_in_section, type, required,
			anchor, confidence, provenance
		 FROM questions WHERE document_id = ? ORDER BY position`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list questions %s", documentID)
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		var section sql.NullInt64
		var anchor sql.NullString
		var qType, provenance string
		if err := rows.Scan(&q.ID, &q.Text, &q.Level, &q.ParentQuestionID, &section, &q.OrderInSection,
			&qType, &q.Required, &anchor, &q.Confidence, &provenance); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan question")
		}
		q.Type = model.QuestionType(qType)
		q.Provenance = model.Provenance(provenance)
		if section.Valid {
			q.SectionOrder = model.IntPtr(int(section.Int64))
		}
		if anchor.Valid {
			if q.Anchor, err = unmarshalAnchor([]byte(anchor.String)); err != nil {
				return nil, err
			}
		}
		questions = append(questions, q)
	}
	return questions, eris.Wrap(rows.Err(), "sqlite: list questions iterate")
}

// --- Jobs ---

func (s *SQLiteStore) SaveJob(ctx context.Context, job *model.BackgroundJob) error {
	keysJSON, err := marshalStrings(job.SourceKeys)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, project_id, type, status, current_document_index, source_keys, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_document_index = excluded.current_document_index,
			source_keys = excluded.source_keys,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		job.ID, job.ProjectID, string(job.Type), string(job.Status), job.CurrentDocumentIndex,
		string(keysJSON), job.Error, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save job %s", job.ID)
}

const sqliteJobColumns = `id, project_id, type, status, current_document_index, source_keys, error, created_at, updated_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.BackgroundJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.BackgroundJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *SQLiteStore) ListActiveJobs(ctx context.Context) ([]model.BackgroundJob, error) {
	placeholders := make([]string, len(activeStatuses))
	args := make([]any, len(activeStatuses))
	for i, st := range activeStatuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE status IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at, id`
	return s.queryJobs(ctx, "list active jobs", query, args...)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.BackgroundJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	jobs := []model.BackgroundJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

// --- Requirements ---

func (s *SQLiteStore) SaveRequirements(ctx context.Context, jobID string, documentIndex int, reqs []model.Requirement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save requirements")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM requirements WHERE job_id = ? AND document_index = ?`, jobID, documentIndex,
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete requirements %s/%d", jobID, documentIndex)
	}

	now := time.Now().UTC()
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO requirements (id, project_id, job_id, document_index, position, source_key, text, category, mandatory, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ProjectID, jobID, documentIndex, i, r.SourceKey, r.Text, r.Category, r.Mandatory, r.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert requirement %s", r.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save requirements")
}

func (s *SQLiteStore) ListRequirements(ctx context.Context, projectID string) ([]model.Requirement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, job_id, document_index, source_key, text, category, mandatory, created_at
		 FROM requirements WHERE project_id = ?
		 ORDER BY job_id, document_index, position`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list requirements %s", projectID)
	}
	defer rows.Close()

	reqs := []model.Requirement{}
	for rows.Next() {
		var r model.Requirement
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.JobID, &r.DocumentIndex, &r.SourceKey,
			&r.Text, &r.Category, &r.Mandatory, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan requirement")
		}
		reqs = append(reqs, r)
	}
	return reqs, eris.Wrap(rows.Err(), "sqlite: list requirements iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.BackgroundJob, error) {
	var job model.BackgroundJob
	var jobType, status, keysJSON string

	if err := row.Scan(&job.ID, &job.ProjectID, &jobType, &status, &job.CurrentDocumentIndex,
		&keysJSON, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Type = model.JobType(jobType)
	job.Status = model.JobStatus(status)

	keys, err := unmarshalStrings([]byte(keysJSON))
	if err != nil {
		return nil, err
	}
	job.SourceKeys = keys
	return &job, nil
}
