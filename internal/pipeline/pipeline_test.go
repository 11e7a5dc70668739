package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/docx/docxtest"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/scheduler"
	"github.com/sells-group/tender-cli/internal/semantic"
	"github.com/sells-group/tender-cli/internal/store"
	"github.com/sells-group/tender-cli/internal/template"
)

type fixture struct {
	p      *Pipeline
	store  *store.SQLiteStore
	blobs  *blob.LocalStore
	dir    string
	sched  *scheduler.Scheduler
	client *mockClient
}

// newFixture wires a pipeline over a SQLite store and a local blob store.
// The semantic pass has no client and always degrades to the text
// heuristics; the mock client serves requirement extraction.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "tender.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	blobs, err := blob.NewLocal(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	mc := new(mockClient)
	sched := scheduler.New(st)
	p := New(st, blobs, sched, nil, semantic.New(nil, semantic.DefaultConfig(), nil), mc, opts)
	t.Cleanup(p.Wait)

	return &fixture{p: p, store: st, blobs: blobs, dir: filepath.Join(dir, "blobs"), sched: sched, client: mc}
}

func sampleOriginal() []byte {
	return docxtest.Build(
		docxtest.Heading(1, "Moyens"),
		docxtest.Para("1. Effectifs ?"),
		docxtest.Para("2. Matériel ?"),
		docxtest.Table([]string{"Décrivez votre organisation *", ""}),
	)
}

func (f *fixture) uploadAndParse(t *testing.T) *ParseResult {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.p.UploadDocument(ctx, "proj-1", "doc-1", sampleOriginal(), ""))
	res, err := f.p.ParseTemplate(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	return res
}

func TestUploadDocument_RejectsNonDocx(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	err := f.p.UploadDocument(context.Background(), "proj-1", "doc-1", []byte("not a zip"), "")
	require.Error(t, err)
	assert.True(t, docx.IsStructureError(err))

	ok, err := f.blobs.Exists(context.Background(), blob.OriginalKey("proj-1", "doc-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadDocument_RejectsBadIDs(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	for _, id := range []string{"", "  ", "a/b", "..", `a\b`} {
		err := f.p.UploadDocument(context.Background(), "proj-1", id, sampleOriginal(), "")
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
}

func TestParseTemplate_BuildsAndPersists(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	res := f.uploadAndParse(t)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.True(t, res.Degraded)
	assert.Equal(t, 3, res.Placeholders)
	assert.Len(t, res.Skipped, len(res.Questions)-3)
	assert.Empty(t, res.PausedJobID)

	job, err := f.sched.Get(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobQuestionExtraction, job.Type)
	assert.Equal(t, model.JobCompleted, job.Status)

	tpl, err := f.store.GetTemplate(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", tpl.ProjectID)
	assert.Equal(t, blob.TemplateKey("proj-1", "doc-1"), tpl.PackageKey)
	assert.Equal(t, template.HashOriginal(sampleOriginal()), tpl.OriginalHash)
	assert.Len(t, tpl.Mappings, 3)

	ok, err := f.blobs.Exists(ctx, tpl.PackageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	questions, err := f.p.Questions(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, res.Questions, questions)

	_, err = f.p.Questions(ctx, "proj-2", "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseTemplate_IsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	first := f.uploadAndParse(t)
	second, err := f.p.ParseTemplate(context.Background(), "proj-1", "doc-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, first.Questions, second.Questions)
	assert.Equal(t, first.Placeholders, second.Placeholders)
}

func TestParseTemplate_MissingOriginalFailsJob(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	_, err := f.p.ParseTemplate(context.Background(), "proj-1", "doc-404")
	require.Error(t, err)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	jobs := f.sched.List("proj-1")
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobFailed, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].Error)
}

func TestParseTemplate_SingleFlight(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, f.p.UploadDocument(ctx, "proj-1", "doc-1", sampleOriginal(), ""))

	// Another parse of the project is in progress.
	other, err := f.sched.RegisterJob(ctx, "proj-1", model.JobQuestionExtraction, nil)
	require.NoError(t, err)
	start, err := f.sched.StartJob(ctx, other)
	require.NoError(t, err)
	require.True(t, start.CanStart)

	_, err = f.p.ParseTemplate(ctx, "proj-1", "doc-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobInFlight)

	for _, j := range f.sched.List("proj-1") {
		if j.ID != other {
			assert.Equal(t, model.JobFailed, j.Status, "rejected job is abandoned")
		}
	}
}

func TestExport_RoundTrip(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.uploadAndParse(t)

	tpl, err := f.store.GetTemplate(ctx, "doc-1")
	require.NoError(t, err)

	t.Run("full answers", func(t *testing.T) {
		answers := map[string]string{}
		for i, m := range tpl.Mappings {
			answers[m.QuestionID] = []string{"Nous sommes 12.", "Deux camions.", "Une équipe dédiée."}[i]
		}

		out, err := f.p.Export(ctx, "proj-1", "doc-1", answers)
		require.NoError(t, err)
		assert.Equal(t, 3, out.Report.InjectedCount)
		assert.Zero(t, out.Report.MissingCount)
		assert.Zero(t, out.Report.NotFoundCount)
		assert.Empty(t, out.Key)

		text, err := docx.ExtractText(out.Bytes)
		require.NoError(t, err)
		assert.Contains(t, text, "Nous sommes 12.")
		assert.Contains(t, text, "Une équipe dédiée.")

		xmlText, err := docxtest.DocumentXML(out.Bytes)
		require.NoError(t, err)
		assert.Empty(t, template.FindTokens(xmlText))
	})

	t.Run("no answers", func(t *testing.T) {
		out, err := f.p.Export(ctx, "proj-1", "doc-1", map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, 3, out.Report.MissingCount)
		assert.Zero(t, out.Report.InjectedCount)

		text, err := docx.ExtractText(out.Bytes)
		require.NoError(t, err)
		assert.Equal(t, 3, strings.Count(text, template.DefaultMissingAnswerText))
	})
}

func TestExport_PersistsCopy(t *testing.T) {
	opts := DefaultOptions()
	opts.PersistExports = true
	f := newFixture(t, opts)
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	f.p.now = func() time.Time { return at }
	f.uploadAndParse(t)

	out, err := f.p.Export(context.Background(), "proj-1", "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, blob.ExportKey("proj-1", "doc-1", at), out.Key)

	stored, err := f.blobs.Get(context.Background(), out.Key)
	require.NoError(t, err)
	assert.Equal(t, out.Bytes, stored)
}

func TestExport_RejectsStaleTemplate(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.uploadAndParse(t)

	edited := docxtest.Build(
		docxtest.Heading(1, "Moyens humains"),
		docxtest.Para("1. Effectifs ?"),
	)
	require.NoError(t, f.p.UploadDocument(ctx, "proj-1", "doc-1", edited, ""))

	res, err := f.p.Validate(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.True(t, res.Stale)

	_, err = f.p.Export(ctx, "proj-1", "doc-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, template.ErrStaleTemplate)
}

func TestExport_SkipsValidationWhenDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.ValidateBeforeExport = false
	f := newFixture(t, opts)
	ctx := context.Background()
	f.uploadAndParse(t)

	require.NoError(t, f.p.UploadDocument(ctx, "proj-1", "doc-1", docxtest.Build(docxtest.Para("Autre")), ""))

	out, err := f.p.Export(ctx, "proj-1", "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Report.MissingCount)
}

func TestExport_UnknownTemplate(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.uploadAndParse(t)

	_, err := f.p.Export(context.Background(), "proj-1", "doc-404", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.p.Export(context.Background(), "proj-2", "doc-1", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestValidate_Fresh(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.uploadAndParse(t)

	res, err := f.p.Validate(context.Background(), "proj-1", "doc-1")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.False(t, res.Stale)
	assert.Equal(t, 3, res.PlaceholderCount)
	assert.Empty(t, res.Errors)
}

func TestValidate_MissingOriginalWarns(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.uploadAndParse(t)

	orig := filepath.Join(f.dir, filepath.FromSlash(blob.OriginalKey("proj-1", "doc-1")))
	require.NoError(t, os.Remove(orig))

	res, err := f.p.Validate(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Contains(t, res.Warnings, template.WarnOriginalUnavailable)

	out, err := f.p.Export(ctx, "proj-1", "doc-1", nil)
	require.NoError(t, err)
	assert.Contains(t, out.Report.Warnings, template.WarnOriginalUnavailable)
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex
	var mu sync.Mutex
	inside := map[string]int{}
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := km.Lock(key)
			mu.Lock()
			inside[key]++
			maxInside = max(maxInside, inside[key])
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside[key]--
			mu.Unlock()
			unlock()
		}([]string{"a", "b"}[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, km.locks)
}
