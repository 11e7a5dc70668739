package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/model"
)

func TestReadAnswers(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "answers.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"q-1": "Nous sommes 12.", "q-2": ""}`), 0o644))

		answers, err := readAnswers(path, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"q-1": "Nous sommes 12.", "q-2": ""}, answers)
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "answers.yaml")
		require.NoError(t, os.WriteFile(path, []byte("q-1: |\n  Ligne 1\n  Ligne 2\n"), 0o644))

		answers, err := readAnswers(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "Ligne 1\nLigne 2\n", answers["q-1"])
	})

	t.Run("stdin", func(t *testing.T) {
		answers, err := readAnswers("-", strings.NewReader(`{"q-9": "Oui"}`))
		require.NoError(t, err)
		assert.Equal(t, "Oui", answers["q-9"])
	})

	t.Run("no file", func(t *testing.T) {
		answers, err := readAnswers("", nil)
		require.NoError(t, err)
		assert.Empty(t, answers)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readAnswers(filepath.Join(dir, "nope.json"), nil)
		assert.Error(t, err)
	})

	t.Run("not a map", func(t *testing.T) {
		_, err := readAnswers("-", strings.NewReader(`["a", "b"]`))
		assert.Error(t, err)
	})
}

func TestFormatQuestions(t *testing.T) {
	questions := []model.Question{
		{ID: "3f2a9c1e-0000-0000-0000-000000000000", Text: "Effectifs ?", Level: 1, SectionOrder: model.IntPtr(1), Type: model.QuestionTypeFreeText, Required: true, Provenance: model.ProvenanceMerged},
		{ID: "q-2", Text: strings.Repeat("é", 80), Level: 2, Type: model.QuestionTypeYesNo, Provenance: model.ProvenancePattern},
	}

	var buf bytes.Buffer
	formatQuestions(&buf, questions)

	out := buf.String()
	assert.Contains(t, out, "TEXT")
	assert.Contains(t, out, "3f2a9c1e")
	assert.NotContains(t, out, "3f2a9c1e-0000")
	assert.Contains(t, out, "Effectifs ?")
	assert.Contains(t, out, string(model.ProvenanceMerged))
	assert.Contains(t, out, strings.Repeat("é", 57)+"...")
	assert.NotContains(t, out, strings.Repeat("é", 58))
}

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	jobs := []model.BackgroundJob{
		{
			ID:                   "abc12345-6789-0000-0000-000000000000",
			ProjectID:            "proj-1",
			Type:                 model.JobRequirementExtraction,
			Status:               model.JobPaused,
			CurrentDocumentIndex: 2,
			SourceKeys:           []string{"a", "b", "c"},
			CreatedAt:            now,
			UpdatedAt:            now.Add(90 * time.Second),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			ProjectID: "proj-1",
			Type:      model.JobQuestionExtraction,
			Status:    model.JobFailed,
			Error:     "abandoned",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	out := buf.String()
	assert.Contains(t, out, "PROGRESS")
	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2026-03-02 10:30")
	assert.Contains(t, out, "abandoned")
}

func TestFormatRequirements(t *testing.T) {
	reqs := []model.Requirement{
		{SourceKey: "projects/p/sources/rc.pdf", Category: "administrative", Mandatory: true, Text: "Fournir un Kbis"},
		{SourceKey: "projects/p/sources/cctp.docx", Category: "technical", Text: "Visite conseillée"},
	}

	var buf bytes.Buffer
	formatRequirements(&buf, reqs)

	out := buf.String()
	assert.Contains(t, out, "rc.pdf")
	assert.NotContains(t, out, "projects/p/sources")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "no")
	assert.Contains(t, out, "Visite conseillée")
}
