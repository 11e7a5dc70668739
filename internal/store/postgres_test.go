package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var pgJobRowColumns = []string{
	"id", "project_id", "type", "status", "current_document_index",
	"source_keys", "error", "created_at", "updated_at",
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS templates`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTemplate_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT document_id, project_id, package_key, mappings, original_hash, created_at FROM templates WHERE document_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTemplate(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTemplate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM templates WHERE document_id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"document_id", "project_id", "package_key", "mappings", "original_hash", "created_at"}).
			AddRow("doc-1", "proj-1", "projects/proj-1/documents/doc-1/internal.docx",
				[]byte(`[{"question_id":"q_1","placeholder_token":"{{Q_000000000001}}","question_title":"Effectifs ?","question_order":1}]`),
				"abc123", created))

	tpl, err := s.GetTemplate(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", tpl.ProjectID)
	assert.Equal(t, "abc123", tpl.OriginalHash)
	require.Len(t, tpl.Mappings, 1)
	assert.Equal(t, "q_1", tpl.Mappings[0].QuestionID)
	assert.Equal(t, "{{Q_000000000001}}", tpl.Mappings[0].PlaceholderToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveTemplate_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tpl := sampleTemplate("doc-1")

	mock.ExpectExec(`INSERT INTO "templates" .+ ON CONFLICT \("document_id"\) DO UPDATE SET`).
		WithArgs("doc-1", "proj-1", tpl.PackageKey, pgxmock.AnyArg(), "abc123", tpl.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveTemplate(context.Background(), tpl))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveJob_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	job := sampleJob("job-1", "proj-1", model.JobRunning, created)
	job.CurrentDocumentIndex = 1

	mock.ExpectExec(`INSERT INTO "jobs" .+ ON CONFLICT \("id"\) DO UPDATE SET "status" = EXCLUDED."status"`).
		WithArgs("job-1", "proj-1", "REQUIREMENT_EXTRACTION", "running", int32(1),
			[]byte(`["a.pdf","b.docx"]`), "", created, created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveJob_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	job := sampleJob("job-1", "proj-1", model.JobRunning, time.Now().UTC())

	mock.ExpectExec(`INSERT INTO "jobs"`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err := s.SaveJob(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save job job-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE true AND project_id = \$1 AND status = \$2 ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("proj-1", "paused", 10, 5).
		WillReturnRows(pgxmock.NewRows(pgJobRowColumns).
			AddRow("job-1", "proj-1", "REQUIREMENT_EXTRACTION", "paused", int32(2),
				[]byte(`["a.pdf","b.pdf","c.pdf"]`), "", created, created))

	jobs, err := s.ListJobs(context.Background(), JobFilter{ProjectID: "proj-1", Status: model.JobPaused, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobPaused, jobs[0].Status)
	assert.Equal(t, 2, jobs[0].CurrentDocumentIndex)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, jobs[0].SourceKeys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE status = ANY\(\$1\) ORDER BY created_at, id`).
		WithArgs([]string{"pending", "running", "paused"}).
		WillReturnRows(pgxmock.NewRows(pgJobRowColumns).
			AddRow("job-1", "proj-1", "QUESTION_EXTRACTION", "running", int32(0), []byte(`[]`), "", created, created).
			AddRow("job-2", "proj-1", "REQUIREMENT_EXTRACTION", "paused", int32(1), []byte(`["a.pdf","b.pdf"]`), "", created, created))

	jobs, err := s.ListActiveJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobQuestionExtraction, jobs[0].Type)
	assert.Nil(t, jobs[0].SourceKeys)
	assert.Equal(t, model.JobPaused, jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceQuestions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	questions := []model.Question{
		{ID: "q_1", Text: "Effectifs ?", Level: 1, SectionOrder: model.IntPtr(1), OrderInSection: 1,
			Type: model.QuestionTypeFreeText, Confidence: 1, Anchor: &model.AnchorPosition{ParagraphIndex: 1},
			Provenance: model.ProvenancePattern},
		{ID: "q_2", Text: "Politique RSE ?", Level: 1, OrderInSection: 1,
			Type: model.QuestionTypeYesNo, Confidence: 0.7, Provenance: model.ProvenanceSemantic},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM questions WHERE document_id = \$1`).
		WithArgs("doc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"questions"}, questionColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.ReplaceQuestions(context.Background(), "doc-1", questions))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceQuestions_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM questions`).
		WithArgs("doc-1").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.ReplaceQuestions(context.Background(), "doc-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete questions doc-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListQuestions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	section := int32(1)

	mock.ExpectQuery(`SELECT .+ FROM questions WHERE document_id = \$1 ORDER BY position`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "text", "level", "parent_id", "section_order", "order_in_section", "type", "required",
			"anchor", "confidence", "provenance",
		}).
			AddRow("q_1", "Effectifs ?", int32(1), "", &section, int32(1), "FREE_TEXT", true,
				[]byte(`{"paragraph_index":1}`), 1.0, "MERGED").
			AddRow("q_2", "Politique RSE ?", int32(1), "", (*int32)(nil), int32(1), "YES_NO", false,
				[]byte(nil), 0.7, "SEMANTIC"))

	got, err := s.ListQuestions(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.IntPtr(1), got[0].SectionOrder)
	assert.Equal(t, &model.AnchorPosition{ParagraphIndex: 1}, got[0].Anchor)
	assert.True(t, got[0].Required)
	assert.Equal(t, model.ProvenanceMerged, got[0].Provenance)
	assert.Nil(t, got[1].SectionOrder)
	assert.Nil(t, got[1].Anchor)
	assert.Equal(t, model.QuestionTypeYesNo, got[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRequirements(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	reqs := []model.Requirement{
		{ProjectID: "proj-1", SourceKey: "a.pdf", Text: "Fournir un Kbis", Mandatory: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM requirements WHERE job_id = \$1 AND document_index = \$2`).
		WithArgs("job-1", int32(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"requirements"}, requirementColumns).
		WillReturnResult(1)
	mock.ExpectCommit()

	require.NoError(t, s.SaveRequirements(context.Background(), "job-1", 2, reqs))
	assert.NotEmpty(t, reqs[0].ID)
	assert.Equal(t, "job-1", reqs[0].JobID)
	assert.Equal(t, 2, reqs[0].DocumentIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRequirements_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM requirements WHERE project_id = \$1`).
		WithArgs("proj-1").
		WillReturnError(errors.New("relation does not exist"))

	_, err := s.ListRequirements(context.Background(), "proj-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list requirements proj-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	closed := false
	s := &PostgresStore{closeFn: func() { closed = true }}
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
