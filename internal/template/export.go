package template

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/textnorm"
)

const (
	// answerPreviewRunes bounds InjectionDetail.AnswerPreview.
	answerPreviewRunes = 80
	// DefaultMissingAnswerText marks unanswered questions in delivered
	// documents.
	DefaultMissingAnswerText = "[Réponse manquante]"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// ExportOptions controls what happens to unanswered placeholders.
type ExportOptions struct {
	// MissingAnswerText replaces unanswered placeholders. Empty drops the
	// placeholder paragraph.
	MissingAnswerText string
	// PreserveEmptyPlaceholders keeps the literal token, visible, for
	// unanswered questions.
	PreserveEmptyPlaceholders bool
}

// ExportResult is the delivered document and its report.
type ExportResult struct {
	Bytes  []byte
	Report *model.InjectionReport
}

// span is one paragraph of document.xml holding at least one token.
type span struct {
	start, end int
	tokens     []string
	// scaffold is true when the paragraph holds nothing but tokens.
	scaffold bool
}

// Export replaces every placeholder of tpl with its answer, or with the
// missing-answer treatment, in a single pass over the markup. Problems with
// individual placeholders or answers are reported, never fatal.
func Export(tpl *model.InternalTemplate, answers map[string]string, opts ExportOptions) (*ExportResult, error) {
	start := time.Now()

	pkg, err := docx.Open(tpl.PackageBytes)
	if err != nil {
		return nil, err
	}
	documentXML := string(pkg.DocumentXML())

	report := &model.InjectionReport{
		TotalQuestions: len(tpl.Mappings),
		Details:        []model.InjectionDetail{},
		Warnings:       []string{},
	}
	byToken := tpl.MappingByToken()
	placed := make(map[string]bool, len(tpl.Mappings))

	var b strings.Builder
	b.Grow(len(documentXML))
	cursor := 0
	for _, sp := range tokenSpans(documentXML) {
		b.WriteString(documentXML[cursor:sp.start])
		cursor = sp.end
		original := documentXML[sp.start:sp.end]

		if !sp.scaffold {
			b.WriteString(replaceInline(original, byToken, answers, opts, report, placed))
			continue
		}
		for _, token := range sp.tokens {
			b.WriteString(resolve(token, byToken, answers, opts, report, placed))
		}
	}
	b.WriteString(documentXML[cursor:])

	for _, m := range tpl.Mappings {
		if placed[m.QuestionID] {
			continue
		}
		report.Warn(fmt.Sprintf("placeholder %s for question %s not found in template markup", m.PlaceholderToken, m.QuestionID))
		if _, answered := answers[m.QuestionID]; answered {
			continue
		}
		report.Add(model.InjectionDetail{
			QuestionID:       m.QuestionID,
			PlaceholderToken: m.PlaceholderToken,
			QuestionTitle:    m.QuestionTitle,
			Status:           model.InjectionMissing,
			Error:            "placeholder not found in template markup",
		})
	}

	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if placed[id] {
			continue
		}
		report.Add(model.InjectionDetail{
			QuestionID:    id,
			Status:        model.InjectionNotFound,
			AnswerPreview: textnorm.Truncate(answers[id], answerPreviewRunes),
			Error:         "no placeholder for this question",
		})
		report.Warn(fmt.Sprintf("answer for question %s has no placeholder", id))
	}

	out, err := pkg.Rewrite([]byte(b.String()))
	if err != nil {
		return nil, err
	}

	report.Success = true
	report.ExportedAt = time.Now().UTC()
	report.DurationMs = time.Since(start).Milliseconds()

	zap.L().Info("template: export complete",
		zap.String("document_id", tpl.DocumentID),
		zap.Int("total", report.TotalQuestions),
		zap.Int("injected", report.InjectedCount),
		zap.Int("missing", report.MissingCount),
		zap.Int("not_found", report.NotFoundCount),
		zap.Int("warnings", len(report.Warnings)),
	)
	return &ExportResult{Bytes: out, Report: report}, nil
}

// resolve returns the markup replacing one scaffold token paragraph.
func resolve(token string, byToken map[string]model.QuestionPositionMapping, answers map[string]string, opts ExportOptions, report *model.InjectionReport, placed map[string]bool) string {
	m, ok := byToken[token]
	if !ok {
		report.Warn(fmt.Sprintf("placeholder %s has no mapping", token))
		if opts.PreserveEmptyPlaceholders {
			return plainParagraph(token)
		}
		return ""
	}
	placed[m.QuestionID] = true

	answer := strings.TrimSpace(answers[m.QuestionID])
	if answer != "" {
		report.Add(model.InjectionDetail{
			QuestionID:       m.QuestionID,
			PlaceholderToken: token,
			QuestionTitle:    m.QuestionTitle,
			Status:           model.InjectionInjected,
			AnswerPreview:    textnorm.Truncate(answer, answerPreviewRunes),
		})
		return plainParagraph(answer)
	}

	report.Add(model.InjectionDetail{
		QuestionID:       m.QuestionID,
		PlaceholderToken: token,
		QuestionTitle:    m.QuestionTitle,
		Status:           model.InjectionMissing,
	})
	switch {
	case opts.PreserveEmptyPlaceholders:
		return plainParagraph(token)
	case opts.MissingAnswerText != "":
		return plainParagraph(opts.MissingAnswerText)
	default:
		return ""
	}
}

// replaceInline substitutes tokens found inside a paragraph that also holds
// other content. Only the token text changes.
func replaceInline(paragraph string, byToken map[string]model.QuestionPositionMapping, answers map[string]string, opts ExportOptions, report *model.InjectionReport, placed map[string]bool) string {
	return tokenRe.ReplaceAllStringFunc(paragraph, func(token string) string {
		m, ok := byToken[token]
		if !ok {
			report.Warn(fmt.Sprintf("placeholder %s has no mapping", token))
			if opts.PreserveEmptyPlaceholders {
				return token
			}
			return ""
		}
		placed[m.QuestionID] = true

		detail := model.InjectionDetail{QuestionID: m.QuestionID, PlaceholderToken: token, QuestionTitle: m.QuestionTitle}
		answer := strings.TrimSpace(answers[m.QuestionID])
		if answer != "" {
			detail.Status = model.InjectionInjected
			detail.AnswerPreview = textnorm.Truncate(answer, answerPreviewRunes)
			report.Add(detail)
			return escape(strings.Join(strings.Fields(answer), " "))
		}
		detail.Status = model.InjectionMissing
		report.Add(detail)
		if opts.PreserveEmptyPlaceholders {
			return token
		}
		return escape(opts.MissingAnswerText)
	})
}

// tokenSpans locates the enclosing paragraph of every token, merging tokens
// that share a paragraph.
func tokenSpans(documentXML string) []span {
	var spans []span
	for _, loc := range tokenRe.FindAllStringIndex(documentXML, -1) {
		token := documentXML[loc[0]:loc[1]]
		if n := len(spans); n > 0 && loc[0] < spans[n-1].end {
			spans[n-1].tokens = append(spans[n-1].tokens, token)
			continue
		}

		pStart := paragraphStart(documentXML, loc[0])
		rel := strings.Index(documentXML[loc[1]:], "</w:p>")
		if pStart < 0 || rel < 0 {
			spans = append(spans, span{start: loc[0], end: loc[1], tokens: []string{token}})
			continue
		}
		spans = append(spans, span{start: pStart, end: loc[1] + rel + len("</w:p>"), tokens: []string{token}})
	}

	for i := range spans {
		sp := &spans[i]
		if sp.end-sp.start == len(sp.tokens[0]) && len(sp.tokens) == 1 {
			// Bare token outside any paragraph.
			sp.scaffold = false
			continue
		}
		text := tagRe.ReplaceAllString(documentXML[sp.start:sp.end], "")
		sp.scaffold = strings.TrimSpace(tokenRe.ReplaceAllString(text, "")) == ""
	}
	return spans
}

// paragraphStart finds the opening tag of the w:p enclosing pos. "<w:pPr"
// and friends share the prefix, so only "<w:p>" and "<w:p " qualify.
func paragraphStart(s string, pos int) int {
	head := s[:pos]
	start := max(strings.LastIndex(head, "<w:p>"), strings.LastIndex(head, "<w:p "))
	if start < 0 || strings.Contains(head[start:], "</w:p>") {
		return -1
	}
	return start
}

func plainParagraph(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var b strings.Builder
	b.WriteString(`<w:p><w:r>`)
	for i, line := range lines {
		if i > 0 {
			b.WriteString(`<w:br/>`)
		}
		b.WriteString(`<w:t xml:space="preserve">`)
		b.WriteString(escape(line))
		b.WriteString(`</w:t>`)
	}
	b.WriteString(`</w:r></w:p>`)
	return b.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return ""
	}
	return buf.String()
}
