package docx

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/sells-group/tender-cli/internal/model"
)

// Paragraph is one outermost w:p of the document body. Start and End are
// byte offsets of the element in document.xml (End is just past </w:p>).
type Paragraph struct {
	Index        int
	Text         string
	Style        string
	OutlineLevel int // -1 when the paragraph carries no outline level
	NumLevel     int // -1 when the paragraph is not auto-numbered
	Table        *model.TableCoordinates
	Start        int
	End          int
}

// Anchor returns the anchor position designating this paragraph.
func (p Paragraph) Anchor() model.AnchorPosition {
	a := model.AnchorPosition{ParagraphIndex: p.Index}
	if p.Table != nil {
		tc := *p.Table
		a.Table = &tc
	}
	return a
}

// Numbered reports whether Word numbering is applied to the paragraph.
func (p Paragraph) Numbered() bool {
	return p.NumLevel >= 0
}

// HeadingLevel returns the heading level from the outline level or the
// paragraph style, 0 for body text.
func (p Paragraph) HeadingLevel() int {
	if p.OutlineLevel >= 0 && p.OutlineLevel < 9 {
		return p.OutlineLevel + 1
	}
	return HeadingLevel(p.Style)
}

// HeadingLevel extracts the heading level from a paragraph style id.
// e.g. "Heading1" → 1, "Titre2" → 2, "Title" → 1.
func HeadingLevel(style string) int {
	lower := strings.ToLower(style)

	if lower == "title" || lower == "titre" {
		return 1
	}
	if lower == "subtitle" || lower == "sous-titre" {
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimSpace(lower[len(prefix):])
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

type tableState struct {
	index int
	row   int
	cell  int
}

// ParseParagraphs walks document.xml in order and returns every outermost
// body paragraph, table cell paragraphs included. mc:Fallback content is
// skipped so alternate renderings are not counted twice.
func ParseParagraphs(documentXML []byte) ([]Paragraph, error) {
	dec := xml.NewDecoder(bytes.NewReader(documentXML))

	var (
		paras         []Paragraph
		cur           *Paragraph
		text          strings.Builder
		pDepth        int
		runDepth      int
		inBody        bool
		inText        bool
		fallbackDepth int
		tables        []tableState
		tableCount    int
		hasNumPr      bool
		numID         string
		numLevel      int
	)

	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, structureErr("malformed document markup", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if fallbackDepth > 0 {
				fallbackDepth++
				continue
			}
			switch t.Name.Local {
			case "Fallback":
				fallbackDepth = 1
			case "body":
				inBody = true
			case "tbl":
				if inBody && pDepth == 0 {
					tables = append(tables, tableState{index: tableCount, row: -1, cell: -1})
					tableCount++
				}
			case "tr":
				if pDepth == 0 && len(tables) > 0 {
					top := &tables[len(tables)-1]
					top.row++
					top.cell = -1
				}
			case "tc":
				if pDepth == 0 && len(tables) > 0 {
					tables[len(tables)-1].cell++
				}
			case "p":
				if !inBody {
					continue
				}
				pDepth++
				if pDepth == 1 {
					cur = &Paragraph{Index: len(paras), Start: int(offset), OutlineLevel: -1, NumLevel: -1}
					if len(tables) > 0 {
						top := tables[len(tables)-1]
						cur.Table = &model.TableCoordinates{TableIndex: top.index, RowIndex: top.row, CellIndex: top.cell}
					}
					text.Reset()
					hasNumPr, numID, numLevel = false, "", 0
				}
			case "pStyle":
				if pDepth == 1 && cur != nil {
					cur.Style = attrVal(t)
				}
			case "outlineLvl":
				if pDepth == 1 && cur != nil {
					if lvl, err := strconv.Atoi(attrVal(t)); err == nil {
						cur.OutlineLevel = lvl
					}
				}
			case "numPr":
				if pDepth == 1 {
					hasNumPr = true
				}
			case "ilvl":
				if pDepth == 1 && hasNumPr {
					if lvl, err := strconv.Atoi(attrVal(t)); err == nil {
						numLevel = lvl
					}
				}
			case "numId":
				if pDepth == 1 && hasNumPr {
					numID = attrVal(t)
				}
			case "r":
				runDepth++
			case "t":
				inText = pDepth == 1
			case "tab":
				if pDepth == 1 && runDepth > 0 {
					text.WriteByte('\t')
				}
			case "br", "cr":
				if pDepth == 1 && runDepth > 0 {
					text.WriteByte(' ')
				}
			}

		case xml.CharData:
			if inText && fallbackDepth == 0 {
				text.Write(t)
			}

		case xml.EndElement:
			if fallbackDepth > 0 {
				fallbackDepth--
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				if runDepth > 0 {
					runDepth--
				}
			case "tbl":
				if pDepth == 0 && len(tables) > 0 {
					tables = tables[:len(tables)-1]
				}
			case "body":
				inBody = false
			case "p":
				if pDepth == 0 {
					continue
				}
				pDepth--
				if pDepth == 0 && cur != nil {
					cur.End = int(dec.InputOffset())
					cur.Text = strings.TrimSpace(text.String())
					if hasNumPr && numID != "" && numID != "0" {
						cur.NumLevel = numLevel
					}
					paras = append(paras, *cur)
					cur = nil
				}
			}
		}
	}

	return paras, nil
}

func attrVal(t xml.StartElement) string {
	for _, a := range t.Attr {
		if a.Name.Local == "val" {
			return a.Value
		}
	}
	return ""
}

// PlainText renders non-empty paragraphs one per line.
func PlainText(paras []Paragraph) string {
	var b strings.Builder
	for _, p := range paras {
		if p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ExtractText returns the plain text rendering of a .docx payload.
func ExtractText(data []byte) (string, error) {
	pkg, err := Open(data)
	if err != nil {
		return "", err
	}
	paras, err := pkg.Paragraphs()
	if err != nil {
		return "", err
	}
	return PlainText(paras), nil
}
