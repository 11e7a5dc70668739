package docx

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/docx/docxtest"
)

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := Open(nil)
		require.Error(t, err)
		assert.True(t, IsStructureError(err))
	})

	t.Run("not a zip", func(t *testing.T) {
		t.Parallel()
		_, err := Open([]byte("plain text, not a package"))
		require.Error(t, err)
		assert.True(t, IsStructureError(err))
		assert.Contains(t, err.Error(), "not a zip")
	})

	t.Run("encrypted", func(t *testing.T) {
		t.Parallel()
		data := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
		_, err := Open(data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "encrypted")
	})

	t.Run("missing document part", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		fw, err := w.Create("word/styles.xml")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("<w:styles/>"))
		require.NoError(t, w.Close())

		_, err = Open(buf.Bytes())
		require.Error(t, err)
		assert.True(t, IsStructureError(err))
		assert.Contains(t, err.Error(), DocumentPart)
	})

	t.Run("no body", func(t *testing.T) {
		t.Parallel()
		_, err := Open(docxtest.BuildRaw(`<w:document xmlns:w="x"></w:document>`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no body")
	})
}

func TestParagraphs_WalkBodyAndTables(t *testing.T) {
	t.Parallel()

	data := docxtest.Build(
		docxtest.Heading(1, "Moyens humains"),
		docxtest.Para("1. Effectifs ?"),
		docxtest.Empty(),
		docxtest.Table([]string{"Question", "Réponse"}, []string{"Avez-vous un PRA ?", ""}),
		docxtest.Numbered(1, "Détaillez votre organisation"),
	)
	pkg, err := Open(data)
	require.NoError(t, err)

	paras, err := pkg.Paragraphs()
	require.NoError(t, err)
	require.Len(t, paras, 8)

	assert.Equal(t, "Moyens humains", paras[0].Text)
	assert.Equal(t, 1, paras[0].HeadingLevel())
	assert.Equal(t, "1. Effectifs ?", paras[1].Text)
	assert.Equal(t, 0, paras[1].HeadingLevel())
	assert.Equal(t, "", paras[2].Text)

	cell := paras[5]
	assert.Equal(t, "Avez-vous un PRA ?", cell.Text)
	require.NotNil(t, cell.Table)
	assert.Equal(t, 0, cell.Table.TableIndex)
	assert.Equal(t, 1, cell.Table.RowIndex)
	assert.Equal(t, 0, cell.Table.CellIndex)

	last := paras[7]
	assert.Nil(t, last.Table)
	assert.True(t, last.Numbered())
	assert.Equal(t, 1, last.NumLevel)

	xmlText := pkg.DocumentXML()
	for _, p := range paras {
		frag := string(xmlText[p.Start:p.End])
		assert.True(t, len(frag) >= 6, "paragraph %d", p.Index)
		assert.Equal(t, "<w:p", frag[:4])
	}
	assert.Equal(t, "</w:p>", string(xmlText[paras[1].End-6:paras[1].End]))
}

func TestParagraphs_SkipsFallbackContent(t *testing.T) {
	t.Parallel()

	data := docxtest.Build(
		docxtest.Para("Avant"),
		`<w:p><w:r><mc:AlternateContent><mc:Choice Requires="wps"><w:t>Choix</w:t></mc:Choice><mc:Fallback><w:p><w:r><w:t>Secours</w:t></w:r></w:p></mc:Fallback></mc:AlternateContent></w:r></w:p>`,
		docxtest.Para("Après"),
	)
	pkg, err := Open(data)
	require.NoError(t, err)
	paras, err := pkg.Paragraphs()
	require.NoError(t, err)

	require.Len(t, paras, 3)
	assert.Equal(t, "Choix", paras[1].Text)
	assert.Equal(t, "Après", paras[2].Text)
	assert.Equal(t, 2, paras[2].Index)
}

func TestRewrite_ReplacesOnlyDocumentPart(t *testing.T) {
	t.Parallel()

	pkg, err := Open(docxtest.Build(docxtest.Para("Bonjour")))
	require.NoError(t, err)

	updated := bytes.Replace(pkg.DocumentXML(), []byte("Bonjour"), []byte("Au revoir"), 1)
	out, err := pkg.Rewrite(updated)
	require.NoError(t, err)

	reopened, err := Open(out)
	require.NoError(t, err)
	assert.Contains(t, string(reopened.DocumentXML()), "Au revoir")
	assert.Len(t, reopened.entries, 3)
	assert.Equal(t, "[Content_Types].xml", reopened.entries[0].header.Name)
}

func TestHeadingLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"Heading1":   1,
		"heading3":   3,
		"Titre2":     2,
		"Title":      1,
		"Subtitle":   2,
		"Normal":     0,
		"Heading10":  0,
		"ListBullet": 0,
	}
	for style, want := range tests {
		assert.Equal(t, want, HeadingLevel(style), style)
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	text, err := ExtractText(docxtest.Build(docxtest.Para("Ligne 1"), docxtest.Empty(), docxtest.Para("Ligne 2")))
	require.NoError(t, err)
	assert.Equal(t, "Ligne 1\nLigne 2\n", text)
}
