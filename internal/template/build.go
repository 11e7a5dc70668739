package template

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/model"
)

var (
	// ErrStaleAnchor means a question anchor does not designate an existing
	// paragraph of the document being built.
	ErrStaleAnchor = eris.New("template: stale anchor")
	// ErrTokenCollision means two questions derive the same token, or the
	// document already contains it.
	ErrTokenCollision = eris.New("template: placeholder token collision")
)

// SkipReasonUnanchored is reported for questions with no anchor.
const SkipReasonUnanchored = "unanchored, not embedded"

// SkippedQuestion is a question the builder did not embed.
type SkippedQuestion struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	Reason     string `json:"reason"`
}

// BuildResult is a freshly built internal template.
type BuildResult struct {
	Template *model.InternalTemplate `json:"template"`
	Skipped  []SkippedQuestion       `json:"skipped"`
}

// scaffold renders a token paragraph: white 1pt text with exact minimal
// line height and no spacing.
func scaffold(token string) string {
	return `<w:p><w:pPr><w:spacing w:before="0" w:after="0" w:line="20" w:lineRule="exact"/></w:pPr>` +
		`<w:r><w:rPr><w:color w:val="FFFFFF"/><w:sz w:val="2"/><w:szCs w:val="2"/></w:rPr>` +
		`<w:t xml:space="preserve">` + token + `</w:t></w:r></w:p>`
}

// HashOriginal returns the hex sha256 of the original package bytes.
func HashOriginal(original []byte) string {
	sum := sha256.Sum256(original)
	return hex.EncodeToString(sum[:])
}

type insertion struct {
	offset int
	seq    int
	markup string
}

// Build inserts one placeholder paragraph right after the anchor paragraph
// of every anchored question, in the given order, and returns the
// augmented package with its mappings. Unanchored questions are skipped
// and reported.
func Build(documentID string, original []byte, questions []model.Question) (*BuildResult, error) {
	pkg, err := docx.Open(original)
	if err != nil {
		return nil, err
	}
	paras, err := pkg.Paragraphs()
	if err != nil {
		return nil, err
	}
	documentXML := string(pkg.DocumentXML())

	res := &BuildResult{Skipped: []SkippedQuestion{}}
	mappings := make([]model.QuestionPositionMapping, 0, len(questions))
	inserts := make([]insertion, 0, len(questions))
	tokens := make(map[string]string, len(questions))

	for _, q := range questions {
		if !q.Anchored() {
			res.Skipped = append(res.Skipped, SkippedQuestion{QuestionID: q.ID, Text: q.Text, Reason: SkipReasonUnanchored})
			continue
		}

		idx := q.Anchor.ParagraphIndex
		if idx < 0 || idx >= len(paras) || !paras[idx].Anchor().Equal(*q.Anchor) {
			return nil, eris.Wrapf(ErrStaleAnchor, "template: question %s at paragraph %d", q.ID, idx)
		}

		token := Token(q.ID)
		if other, dup := tokens[token]; dup {
			return nil, eris.Wrapf(ErrTokenCollision, "template: %s shared by %s and %s", token, other, q.ID)
		}
		if strings.Contains(documentXML, token) {
			return nil, eris.Wrapf(ErrTokenCollision, "template: %s already present in document", token)
		}
		tokens[token] = q.ID

		inserts = append(inserts, insertion{offset: paras[idx].End, seq: len(inserts), markup: scaffold(token)})
		mappings = append(mappings, model.QuestionPositionMapping{
			QuestionID:       q.ID,
			PlaceholderToken: token,
			SectionID:        q.SectionOrder,
			QuestionTitle:    q.Text,
			QuestionOrder:    q.OrderInSection,
		})
	}

	sort.SliceStable(inserts, func(i, j int) bool {
		if inserts[i].offset != inserts[j].offset {
			return inserts[i].offset < inserts[j].offset
		}
		return inserts[i].seq < inserts[j].seq
	})

	var b strings.Builder
	b.Grow(len(documentXML) + len(inserts)*256)
	cursor := 0
	for _, ins := range inserts {
		b.WriteString(documentXML[cursor:ins.offset])
		b.WriteString(ins.markup)
		cursor = ins.offset
	}
	b.WriteString(documentXML[cursor:])

	augmented, err := pkg.Rewrite([]byte(b.String()))
	if err != nil {
		return nil, err
	}

	res.Template = &model.InternalTemplate{
		DocumentID:   documentID,
		PackageBytes: augmented,
		Mappings:     mappings,
		CreatedAt:    time.Now().UTC(),
		OriginalHash: HashOriginal(original),
	}

	zap.L().Info("template: built internal template",
		zap.String("document_id", documentID),
		zap.Int("placeholders", len(mappings)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
