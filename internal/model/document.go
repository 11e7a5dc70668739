package model

// TableCoordinates locates a paragraph inside a table cell.
type TableCoordinates struct {
	TableIndex int `json:"table_index"`
	RowIndex   int `json:"row_index"`
	CellIndex  int `json:"cell_index"`
}

// AnchorPosition is the paragraph a question or section is attached to.
// ParagraphIndex counts every outermost body paragraph in document order,
// table cell paragraphs included.
type AnchorPosition struct {
	ParagraphIndex int               `json:"paragraph_index"`
	Table          *TableCoordinates `json:"table,omitempty"`
}

// Equal reports whether two anchors designate the same paragraph.
func (a AnchorPosition) Equal(b AnchorPosition) bool {
	if a.ParagraphIndex != b.ParagraphIndex {
		return false
	}
	if a.Table == nil || b.Table == nil {
		return a.Table == nil && b.Table == nil
	}
	return *a.Table == *b.Table
}

// Section is a heading-level division of a template.
type Section struct {
	Order  int            `json:"order"`
	Title  string         `json:"title"`
	Anchor AnchorPosition `json:"anchor"`
}

// DetectionStats summarises a pattern detection pass.
type DetectionStats struct {
	Paragraphs         int   `json:"paragraphs"`
	TableParagraphs    int   `json:"table_paragraphs"`
	Sections           int   `json:"sections"`
	NumberedQuestions  int   `json:"numbered_questions"`
	HeuristicQuestions int   `json:"heuristic_questions"`
	DurationMs         int64 `json:"duration_ms"`
}

// CompanyField is a company-form field suggested by the semantic pass
// (e.g. SIRET, head office address).
type CompanyField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}
