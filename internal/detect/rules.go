package detect

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tender-cli/internal/textnorm"
)

// Rules holds the plain-text signals used to recognise questions. All
// prefixes are matched against folded text (lowercase, no diacritics).
type Rules struct {
	IntroVerbs         []string `yaml:"intro_verbs"`
	YesNoPrefixes      []string `yaml:"yes_no_prefixes"`
	RequiredMarkers    []string `yaml:"required_markers"`
	SectionPrefixes    []string `yaml:"section_prefixes"`
	MaxHeuristicLength int      `yaml:"max_heuristic_length"`
	MaxColonLength     int      `yaml:"max_colon_length"`
}

// DefaultRules returns the built-in French/English rule set.
func DefaultRules() Rules {
	return Rules{
		IntroVerbs: []string{
			"precisez", "decrivez", "indiquez", "detaillez", "presentez",
			"expliquez", "fournissez", "justifiez", "listez", "joignez",
			"veuillez", "merci de", "avez-vous", "disposez-vous", "etes-vous",
			"pouvez-vous", "quel ", "quelle ", "quels ", "quelles ",
			"comment ", "combien ", "describe", "explain", "provide", "please",
		},
		YesNoPrefixes: []string{
			"avez-vous", "disposez-vous", "est-ce que", "est-ce qu'",
			"etes-vous", "possedez-vous", "acceptez-vous", "utilisez-vous",
			"pratiquez-vous", "etes vous", "avez vous",
			"do you", "have you", "are you", "is there", "does your",
		},
		RequiredMarkers:    []string{"*", "(obligatoire)", "obligatoire", "(required)"},
		SectionPrefixes:    []string{"section ", "partie ", "chapitre ", "article ", "lot "},
		MaxHeuristicLength: 500,
		MaxColonLength:     200,
	}
}

// LoadRules reads a YAML rules file. Lists present in the file replace the
// defaults; absent ones keep them.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "detect: read rules %s", path)
	}

	var wrapper struct {
		Detect Rules `yaml:"detect"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return rules, eris.Wrap(err, "detect: parse rules")
	}

	o := wrapper.Detect
	if len(o.IntroVerbs) > 0 {
		rules.IntroVerbs = foldAll(o.IntroVerbs)
	}
	if len(o.YesNoPrefixes) > 0 {
		rules.YesNoPrefixes = foldAll(o.YesNoPrefixes)
	}
	if len(o.RequiredMarkers) > 0 {
		rules.RequiredMarkers = foldAll(o.RequiredMarkers)
	}
	if len(o.SectionPrefixes) > 0 {
		rules.SectionPrefixes = foldAll(o.SectionPrefixes)
	}
	if o.MaxHeuristicLength > 0 {
		rules.MaxHeuristicLength = o.MaxHeuristicLength
	}
	if o.MaxColonLength > 0 {
		rules.MaxColonLength = o.MaxColonLength
	}
	return rules, nil
}

// foldAll folds each entry but keeps a trailing space, which marks a
// whole-word prefix.
func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		f := textnorm.Fold(s)
		if strings.HasSuffix(s, " ") {
			f += " "
		}
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// IsYesNo reports whether the question text opens with a closed
// interrogative form.
func (r Rules) IsYesNo(text string) bool {
	folded := textnorm.Fold(textnorm.StripNumbering(text))
	return hasAnyPrefix(folded, r.YesNoPrefixes)
}

// IsRequired reports whether the text carries a mandatory marker.
func (r Rules) IsRequired(text string) bool {
	folded := textnorm.Fold(text)
	for _, m := range r.RequiredMarkers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}

// QuestionLike reports whether text reads as a question on plain-text
// signals alone: trailing "?", a short line ending with ":", or an
// introductory verb.
func (r Rules) QuestionLike(text string) bool {
	text = strings.TrimSpace(text)
	n := len([]rune(text))
	if n < 3 || n > r.MaxHeuristicLength {
		return false
	}
	trimmed := strings.TrimRight(text, " *")
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	if strings.HasSuffix(trimmed, ":") && n <= r.MaxColonLength {
		return true
	}
	folded := textnorm.Fold(textnorm.StripNumbering(text))
	return hasAnyPrefix(folded, r.IntroVerbs)
}

// SectionLike reports whether a plain-text line announces a section
// ("Partie 2 - Moyens", "LOT 1").
func (r Rules) SectionLike(text string) bool {
	folded := textnorm.Fold(text)
	if strings.HasSuffix(folded, "?") || strings.HasSuffix(folded, ":") {
		return false
	}
	return hasAnyPrefix(folded, r.SectionPrefixes)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
