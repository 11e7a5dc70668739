// Package merge fuses pattern and semantic question lists into one
// canonical, deterministically ordered list.
package merge

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/textnorm"
)

// Similarity scores and confidences. Changing any of them changes which
// questions pair up and therefore their derived ids.
const (
	ExactScore                  = 1.0
	ContainmentScore            = 0.9
	MatchThreshold              = 0.6
	UnmatchedSemanticConfidence = 0.7
	DefaultSemanticConfidence   = 0.8
)

// Stats counts merge outcomes.
type Stats struct {
	Merged       int `json:"merged"`
	PatternOnly  int `json:"pattern_only"`
	SemanticOnly int `json:"semantic_only"`
}

// Result is the merged question list in canonical order.
type Result struct {
	Questions []model.Question `json:"questions"`
	Stats     Stats            `json:"stats"`
}

type candidate struct {
	q       model.Question
	aliases []string
}

// Merge pairs each pattern question, in document order, with the best
// unconsumed semantic question scoring above MatchThreshold. The first
// semantic candidate wins ties. Output is sorted by section and order,
// renumbered from 1 within each section, and ids are re-derived.
func Merge(pattern, semantic []model.Question) *Result {
	normSem := make([]string, len(semantic))
	for i, s := range semantic {
		normSem[i] = textnorm.Normalize(s.Text)
	}
	consumed := make([]bool, len(semantic))

	var stats Stats
	merged := make([]candidate, 0, len(pattern)+len(semantic))

	for _, p := range pattern {
		np := textnorm.Normalize(p.Text)
		best, bestScore := -1, 0.0
		for j, s := range semantic {
			if consumed[j] {
				continue
			}
			score := similarity(np, normSem[j], p.Text, s.Text)
			if score > MatchThreshold && score > bestScore {
				best, bestScore = j, score
			}
		}

		if best < 0 {
			stats.PatternOnly++
			merged = append(merged, candidate{q: p, aliases: []string{p.ID}})
			continue
		}

		consumed[best] = true
		s := semantic[best]
		q := p
		q.Type = s.Type
		q.Required = s.Required || p.Required
		q.Level = s.Level
		q.ParentQuestionID = s.ParentQuestionID
		q.Confidence = math.Max(bestScore, math.Max(p.Confidence, semanticConfidence(s)))
		q.Provenance = model.ProvenanceMerged
		stats.Merged++
		merged = append(merged, candidate{q: q, aliases: []string{p.ID, s.ID}})
	}

	for j, s := range semantic {
		if consumed[j] {
			continue
		}
		q := s
		q.Anchor = nil
		q.Confidence = UnmatchedSemanticConfidence
		q.Provenance = model.ProvenanceSemantic
		stats.SemanticOnly++
		merged = append(merged, candidate{q: q, aliases: []string{s.ID}})
	}

	return &Result{Questions: canonicalize(merged), Stats: stats}
}

func semanticConfidence(q model.Question) float64 {
	if q.Confidence <= 0 {
		return DefaultSemanticConfidence
	}
	return q.Confidence
}

// Similarity scores two raw question texts.
func Similarity(a, b string) float64 {
	return similarity(textnorm.Normalize(a), textnorm.Normalize(b), a, b)
}

func similarity(na, nb, rawA, rawB string) float64 {
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return ExactScore
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return ContainmentScore
	}

	wa, wb := textnorm.Words(rawA), textnorm.Words(rawB)
	larger := len(wa)
	if len(wb) > larger {
		larger = len(wb)
	}
	if larger == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

// canonicalize sorts, renumbers, re-derives ids and remaps parent links.
func canonicalize(in []candidate) []model.Question {
	idx := make([]int, len(in))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		qa, qb := in[idx[a]].q, in[idx[b]].q
		if qa.SectionKey() != qb.SectionKey() {
			return qa.SectionKey() < qb.SectionKey()
		}
		return qa.OrderInSection < qb.OrderInSection
	})

	out := make([]model.Question, len(in))
	remap := make(map[string]string, len(in)*2)
	counters := make(map[int]int)
	occurrences := make(map[string]int)

	for pos, i := range idx {
		q := in[i].q
		sec := q.SectionKey()
		counters[sec]++
		q.OrderInSection = counters[sec]

		norm := textnorm.Normalize(q.Text)
		key := strconv.Itoa(sec) + "\x00" + norm
		occ := occurrences[key]
		occurrences[key] = occ + 1

		q.ID = model.NewQuestionID(norm, sec, occ)
		for _, alias := range in[i].aliases {
			if alias == "" {
				continue
			}
			if _, taken := remap[alias]; !taken {
				remap[alias] = q.ID
			}
		}
		out[pos] = q
	}

	for i := range out {
		parent := out[i].ParentQuestionID
		if parent == "" {
			continue
		}
		if id, ok := remap[parent]; ok && id != out[i].ID {
			out[i].ParentQuestionID = id
			continue
		}
		out[i].ParentQuestionID = ""
		out[i].Level = 1
	}
	return out
}

// AlignSections returns a copy of semantic whose SectionOrder values point
// into the section list MergeSections keeps. With pattern sections, each
// semantic section maps to the best pattern section title scoring above
// MatchThreshold, first wins ties. Orders without a counterpart are
// cleared. Run it before Merge so derived ids use the final section.
func AlignSections(semantic []model.Question, patternSecs, semanticSecs []model.Section) []model.Question {
	target := make(map[int]int, len(semanticSecs))
	if len(patternSecs) == 0 {
		for _, s := range semanticSecs {
			target[s.Order] = s.Order
		}
	} else {
		for _, s := range semanticSecs {
			best, bestScore := 0, 0.0
			for _, p := range patternSecs {
				if score := Similarity(s.Title, p.Title); score > MatchThreshold && score > bestScore {
					best, bestScore = p.Order, score
				}
			}
			if bestScore > 0 {
				target[s.Order] = best
			}
		}
	}

	out := make([]model.Question, len(semantic))
	for i, q := range semantic {
		if q.SectionOrder != nil {
			if order, ok := target[*q.SectionOrder]; ok {
				q.SectionOrder = model.IntPtr(order)
			} else {
				q.SectionOrder = nil
			}
		}
		out[i] = q
	}
	return out
}

// MergeSections keeps the pattern sections, which carry anchors, and falls
// back to the semantic sections when the document has no heading styles.
func MergeSections(pattern, semantic []model.Section) []model.Section {
	if len(pattern) > 0 {
		return pattern
	}
	if semantic == nil {
		return []model.Section{}
	}
	return semantic
}
