// Package report renders injection reports and requirement lists for
// humans (text, XLSX) and machines (JSON, YAML, HTTP headers).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tender-cli/internal/model"
)

// Header names carrying the report summary on export responses.
const (
	HeaderTotal    = "X-Injection-Total"
	HeaderInjected = "X-Injection-Injected"
	HeaderMissing  = "X-Injection-Missing"
	HeaderNotFound = "X-Injection-Not-Found"
	HeaderWarnings = "X-Injection-Warnings"
	HeaderSuccess  = "X-Injection-Success"
)

// Headers flattens the report counters into response headers.
func Headers(r *model.InjectionReport) map[string]string {
	return map[string]string{
		HeaderTotal:    strconv.Itoa(r.TotalQuestions),
		HeaderInjected: strconv.Itoa(r.InjectedCount),
		HeaderMissing:  strconv.Itoa(r.MissingCount),
		HeaderNotFound: strconv.Itoa(r.NotFoundCount),
		HeaderWarnings: strconv.Itoa(len(r.Warnings)),
		HeaderSuccess:  strconv.FormatBool(r.Success),
	}
}

// Summary renders a short plain-text summary followed by the non-injected
// details and the warnings.
func Summary(r *model.InjectionReport) string {
	var b strings.Builder
	status := "OK"
	if !r.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Export %s in %dms\n", status, r.DurationMs)
	fmt.Fprintf(&b, "  questions: %d\n", r.TotalQuestions)
	fmt.Fprintf(&b, "  injected:  %d\n", r.InjectedCount)
	fmt.Fprintf(&b, "  missing:   %d\n", r.MissingCount)
	fmt.Fprintf(&b, "  not found: %d\n", r.NotFoundCount)

	for _, d := range r.Details {
		if d.Status == model.InjectionInjected {
			continue
		}
		title := d.QuestionTitle
		if title == "" {
			title = d.QuestionID
		}
		fmt.Fprintf(&b, "  [%s] %s", d.Status, title)
		if d.Error != "" {
			fmt.Fprintf(&b, " (%s)", d.Error)
		}
		b.WriteString("\n")
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}
	return b.String()
}

// Encode writes v as "json" (indented) or "yaml".
func Encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "report: encode json")
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: close yaml encoder")
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}
