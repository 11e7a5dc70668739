// Package detect finds sections and questions in a template from its
// formatting, numbering and wording alone.
package detect

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/textnorm"
)

// Confidence levels assigned by the pattern pass.
const (
	NumberedQuestionConfidence  = 0.9
	NumberedParagraphConfidence = 0.75
	HeuristicConfidence         = 0.6
)

var (
	multiNumberRe  = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3})+)\.?\s+\S`)
	singleNumberRe = regexp.MustCompile(`^\d{1,3}[.)]\s+\S`)
	lowerLetterRe  = regexp.MustCompile(`^[a-z][.)]\s+\S`)
	upperLetterRe  = regexp.MustCompile(`^[A-Z][.)]\s+\S`)
)

// Result is the output of a detection pass.
type Result struct {
	Sections  []model.Section      `json:"sections"`
	Questions []model.Question     `json:"questions"`
	Stats     model.DetectionStats `json:"stats"`
}

// Detector runs the pattern pass over document packages.
type Detector struct {
	rules Rules
}

// New creates a Detector with the given rules.
func New(rules Rules) *Detector {
	return &Detector{rules: rules}
}

// NewDefault creates a Detector with DefaultRules.
func NewDefault() *Detector {
	return New(DefaultRules())
}

// Rules returns the rules in use.
func (d *Detector) Rules() Rules {
	return d.rules
}

// Detect reads a .docx package and classifies each body paragraph. It
// fails with a *docx.StructureError when the package has no readable
// body. A document without any question is a valid, empty result.
func (d *Detector) Detect(data []byte) (*Result, error) {
	start := time.Now()

	pkg, err := docx.Open(data)
	if err != nil {
		return nil, err
	}
	paras, err := pkg.Paragraphs()
	if err != nil {
		return nil, err
	}

	c := newClassifier(d.rules)
	for _, p := range paras {
		c.stats.Paragraphs++
		if p.Table != nil {
			c.stats.TableParagraphs++
		}
		anchor := p.Anchor()
		c.classify(p.Text, &anchor, p.HeadingLevel(), p.NumLevel)
	}

	res := c.result()
	res.Stats.DurationMs = time.Since(start).Milliseconds()

	zap.L().Debug("detect: pattern pass complete",
		zap.Int("paragraphs", res.Stats.Paragraphs),
		zap.Int("table_paragraphs", res.Stats.TableParagraphs),
		zap.Int("sections", res.Stats.Sections),
		zap.Int("questions", len(res.Questions)),
		zap.Int64("duration_ms", res.Stats.DurationMs),
	)
	return res, nil
}

// DetectText applies the same heuristics line by line to plain text.
// No anchors can be derived, so every question is unanchored.
func (d *Detector) DetectText(text string) *Result {
	c := newClassifier(d.rules)
	for _, line := range strings.Split(text, "\n") {
		c.stats.Paragraphs++
		heading := 0
		if c.rules.SectionLike(line) && len([]rune(strings.TrimSpace(line))) <= 120 {
			heading = 1
		}
		c.classify(line, nil, heading, -1)
	}
	return c.result()
}

// DetectText runs the plain-text heuristics with the default rules.
func DetectText(text string) *Result {
	return NewDefault().DetectText(text)
}

type classifier struct {
	rules       Rules
	sections    []model.Section
	questions   []model.Question
	stats       model.DetectionStats
	order       int
	lastLevel1  string
	occurrences map[string]int
}

func newClassifier(rules Rules) *classifier {
	return &classifier{rules: rules, occurrences: make(map[string]int)}
}

func (c *classifier) currentSection() *int {
	if len(c.sections) == 0 {
		return nil
	}
	return model.IntPtr(c.sections[len(c.sections)-1].Order)
}

func (c *classifier) classify(raw string, anchor *model.AnchorPosition, heading, numLevel int) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}

	if heading > 0 {
		sec := model.Section{Order: len(c.sections) + 1, Title: text}
		if anchor != nil {
			sec.Anchor = *anchor
		}
		c.sections = append(c.sections, sec)
		c.order = 0
		c.lastLevel1 = ""
		c.stats.Sections++
		return
	}

	level, numbered := numberingLevel(text)
	if !numbered && numLevel >= 0 {
		level, numbered = numLevel+1, true
		if level > 2 {
			level = 2
		}
	}

	questionLike := c.rules.QuestionLike(text)
	var confidence float64
	switch {
	case numbered && questionLike:
		confidence = NumberedQuestionConfidence
	case numbered:
		confidence = NumberedParagraphConfidence
	case questionLike:
		confidence = HeuristicConfidence
		level = 1
	default:
		return
	}
	if numbered {
		c.stats.NumberedQuestions++
	} else {
		c.stats.HeuristicQuestions++
	}

	// A sub-question with no parent in its section is promoted.
	parent := ""
	if level == 2 {
		if c.lastLevel1 == "" {
			level = 1
		} else {
			parent = c.lastLevel1
		}
	}

	section := c.currentSection()
	secKey := 0
	if section != nil {
		secKey = *section
	}
	norm := textnorm.Normalize(text)
	occKey := norm + "\x00" + strconv.Itoa(secKey)
	occ := c.occurrences[occKey]
	c.occurrences[occKey] = occ + 1

	c.order++
	q := model.Question{
		ID:               model.NewQuestionID(norm, secKey, occ),
		Text:             text,
		Level:            level,
		ParentQuestionID: parent,
		SectionOrder:     section,
		OrderInSection:   c.order,
		Type:             model.QuestionTypeFreeText,
		Required:         c.rules.IsRequired(text),
		Confidence:       confidence,
		Provenance:       model.ProvenancePattern,
	}
	if c.rules.IsYesNo(text) {
		q.Type = model.QuestionTypeYesNo
	}
	if anchor != nil {
		a := *anchor
		q.Anchor = &a
	}
	if level == 1 {
		c.lastLevel1 = q.ID
	}
	c.questions = append(c.questions, q)
}

func (c *classifier) result() *Result {
	res := &Result{
		Sections:  c.sections,
		Questions: c.questions,
		Stats:     c.stats,
	}
	if res.Sections == nil {
		res.Sections = []model.Section{}
	}
	if res.Questions == nil {
		res.Questions = []model.Question{}
	}
	return res
}

// numberingLevel reads a leading numbering token: "1." and "A." are depth
// 1, "1.2", "1.2.3" and "a)" are depth 2.
func numberingLevel(text string) (int, bool) {
	switch {
	case multiNumberRe.MatchString(text):
		return 2, true
	case singleNumberRe.MatchString(text):
		return 1, true
	case lowerLetterRe.MatchString(text):
		return 2, true
	case upperLetterRe.MatchString(text):
		return 1, true
	}
	return 0, false
}
