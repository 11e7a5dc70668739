package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// QuestionType classifies the expected answer shape.
type QuestionType string

const (
	QuestionTypeFreeText QuestionType = "FREE_TEXT"
	QuestionTypeYesNo    QuestionType = "YES_NO"
)

// ParseQuestionType maps loosely typed input onto a known type. Anything
// unrecognised is FREE_TEXT.
func ParseQuestionType(s string) QuestionType {
	switch QuestionType(s) {
	case QuestionTypeYesNo, "yes_no", "YESNO", "BOOLEAN", "boolean":
		return QuestionTypeYesNo
	default:
		return QuestionTypeFreeText
	}
}

// Provenance records which detection pass produced a question.
type Provenance string

const (
	ProvenancePattern  Provenance = "PATTERN"
	ProvenanceSemantic Provenance = "SEMANTIC"
	ProvenanceMerged   Provenance = "MERGED"
)

// Question is a question or sub-question detected in a template.
type Question struct {
	ID               string          `json:"id"`
	Text             string          `json:"text"`
	Level            int             `json:"level"`
	ParentQuestionID string          `json:"parent_question_id,omitempty"`
	SectionOrder     *int            `json:"section_order,omitempty"`
	OrderInSection   int             `json:"order_in_section"`
	Type             QuestionType    `json:"type"`
	Required         bool            `json:"required"`
	Anchor           *AnchorPosition `json:"anchor,omitempty"`
	Confidence       float64         `json:"confidence"`
	Provenance       Provenance      `json:"provenance"`
}

// Anchored reports whether the question can be embedded in a template.
func (q Question) Anchored() bool {
	return q.Anchor != nil
}

// SectionKey returns the section order, or 0 for questions that precede
// any section.
func (q Question) SectionKey() int {
	if q.SectionOrder == nil {
		return 0
	}
	return *q.SectionOrder
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// NewQuestionID derives a stable question id from already normalized text,
// the section it belongs to and its occurrence among identical texts of that
// section. Identical input always yields the identical id.
func NewQuestionID(normalized string, sectionOrder, occurrence int) string {
	h := sha256.New()
	h.Write([]byte("v1|"))
	h.Write([]byte(strconv.Itoa(sectionOrder)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(occurrence)))
	h.Write([]byte("|"))
	h.Write([]byte(normalized))
	return "q_" + hex.EncodeToString(h.Sum(nil))[:16]
}
