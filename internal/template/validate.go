package template

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/model"
)

var (
	// ErrStaleTemplate means the original document changed after the
	// internal template was built. The template must be rebuilt.
	ErrStaleTemplate = eris.New("template: stale template")
	// ErrInvalidTemplate means the stored template cannot be exported.
	ErrInvalidTemplate = eris.New("template: invalid template")
)

// WarnOriginalUnavailable is recorded when no original is available to
// compare the template hash against.
const WarnOriginalUnavailable = "original unavailable, staleness not checked"

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	IsValid          bool     `json:"is_valid"`
	Stale            bool     `json:"stale"`
	PlaceholderCount int      `json:"placeholder_count"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
}

// Err converts an invalid result into ErrStaleTemplate or
// ErrInvalidTemplate. It returns nil for a valid result.
func (v ValidationResult) Err() error {
	if v.IsValid {
		return nil
	}
	msg := strings.Join(v.Errors, "; ")
	if v.Stale {
		return eris.Wrap(ErrStaleTemplate, msg)
	}
	return eris.Wrap(ErrInvalidTemplate, msg)
}

// Validate checks tpl against the presumed original bytes: the original
// hash must match, the package must still open and carry its placeholders.
// A nil original skips the hash check and records WarnOriginalUnavailable.
func Validate(tpl *model.InternalTemplate, original []byte) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if tpl == nil {
		res.Errors = append(res.Errors, "no internal template")
		return res
	}

	if original == nil {
		res.Warnings = append(res.Warnings, WarnOriginalUnavailable)
	} else {
		if got := HashOriginal(original); got != tpl.OriginalHash {
			res.Stale = true
			res.Errors = append(res.Errors, fmt.Sprintf("original document hash %s does not match template hash %s", short(got), short(tpl.OriginalHash)))
		}
	}

	pkg, err := docx.Open(tpl.PackageBytes)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	tokens := FindTokens(string(pkg.DocumentXML()))
	res.PlaceholderCount = len(tokens)
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	switch {
	case len(tokens) == 0 && len(tpl.Mappings) > 0:
		res.Errors = append(res.Errors, "no placeholder present in template")
	case len(tokens) == 0:
		res.Warnings = append(res.Warnings, "template has no question to answer")
	}

	mapped := tpl.MappingByToken()
	for _, m := range tpl.Mappings {
		if !present[m.PlaceholderToken] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("placeholder %s for question %s missing from markup", m.PlaceholderToken, m.QuestionID))
		}
	}
	for _, t := range tokens {
		if _, ok := mapped[t]; !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("placeholder %s has no mapping", t))
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
