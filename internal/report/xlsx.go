package report

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tender-cli/internal/model"
)

// Sheet names used by the workbooks below.
const (
	SheetSummary      = "Summary"
	SheetDetails      = "Details"
	SheetWarnings     = "Warnings"
	SheetRequirements = "Requirements"
)

var detailHeader = []string{"Question ID", "Question", "Placeholder", "Status", "Answer preview", "Error"}

// WriteXLSX writes the injection report as a workbook with a summary sheet,
// one row per detail and the warnings.
func WriteXLSX(w io.Writer, r *model.InjectionReport) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addPair(summary, "Exported at", r.ExportedAt.UTC().Format(time.RFC3339))
	addIntPair(summary, "Total questions", r.TotalQuestions)
	addIntPair(summary, "Injected", r.InjectedCount)
	addIntPair(summary, "Missing", r.MissingCount)
	addIntPair(summary, "Not found", r.NotFoundCount)
	addIntPair(summary, "Duration (ms)", int(r.DurationMs))
	row := summary.AddRow()
	row.AddCell().SetString("Success")
	row.AddCell().SetBool(r.Success)

	details, err := f.AddSheet(SheetDetails)
	if err != nil {
		return eris.Wrap(err, "report: add details sheet")
	}
	addRow(details, detailHeader...)
	for _, d := range r.Details {
		addRow(details, d.QuestionID, d.QuestionTitle, d.PlaceholderToken, string(d.Status), d.AnswerPreview, d.Error)
	}

	warnings, err := f.AddSheet(SheetWarnings)
	if err != nil {
		return eris.Wrap(err, "report: add warnings sheet")
	}
	addRow(warnings, "Warning")
	for _, msg := range r.Warnings {
		addRow(warnings, msg)
	}

	return eris.Wrap(f.Write(w), "report: write xlsx")
}

// WriteRequirementsXLSX writes extracted requirements one per row.
func WriteRequirementsXLSX(w io.Writer, reqs []model.Requirement) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetRequirements)
	if err != nil {
		return eris.Wrap(err, "report: add requirements sheet")
	}
	addRow(sheet, "Source", "Document", "Category", "Mandatory", "Requirement")
	for _, r := range reqs {
		row := sheet.AddRow()
		row.AddCell().SetString(r.SourceKey)
		row.AddCell().SetInt(r.DocumentIndex)
		row.AddCell().SetString(r.Category)
		row.AddCell().SetBool(r.Mandatory)
		row.AddCell().SetString(r.Text)
	}
	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addPair(sheet *xlsx.Sheet, label, value string) {
	addRow(sheet, label, value)
}

func addIntPair(sheet *xlsx.Sheet, label string, value int) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(value)
}
