package semantic

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/textnorm"
	"github.com/sells-group/tender-cli/pkg/anthropic"
)

type replyDTO struct {
	Sections      []sectionDTO   `json:"sections"`
	Questions     *[]questionDTO `json:"questions"`
	CompanyFields []fieldDTO     `json:"company_fields"`
}

type sectionDTO struct {
	Order int    `json:"order"`
	Title string `json:"title"`
}

type questionDTO struct {
	Text         string   `json:"text"`
	Level        int      `json:"level"`
	SectionOrder *int     `json:"section_order"`
	ParentIndex  *int     `json:"parent_index"`
	Type         string   `json:"type"`
	Required     bool     `json:"required"`
	Order        int      `json:"order"`
	Confidence   *float64 `json:"confidence"`
}

type fieldDTO struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// parseReply decodes and coerces the model reply. A reply without a
// "questions" array, or whose questions are all unusable, is an error.
func parseReply(text string) (*Result, error) {
	var dto replyDTO
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(text)), &dto); err != nil {
		return nil, eris.Wrap(err, "semantic: decode reply")
	}
	if dto.Questions == nil {
		return nil, eris.New("semantic: reply has no questions array")
	}

	sections := coerceSections(dto.Sections)
	questions := coerceQuestions(*dto.Questions, sections)
	if len(*dto.Questions) > 0 && len(questions) == 0 {
		return nil, eris.New("semantic: reply has no usable question")
	}

	return &Result{
		Sections:      sections,
		Questions:     questions,
		CompanyFields: coerceFields(dto.CompanyFields),
	}, nil
}

func coerceSections(in []sectionDTO) []model.Section {
	out := make([]model.Section, 0, len(in))
	seen := make(map[int]bool, len(in))
	for i, s := range in {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		order := s.Order
		if order <= 0 || seen[order] {
			order = i + 1
		}
		if seen[order] {
			continue
		}
		seen[order] = true
		out = append(out, model.Section{Order: order, Title: title})
	}
	return out
}

func coerceQuestions(in []questionDTO, sections []model.Section) []model.Question {
	known := make(map[int]bool, len(sections))
	for _, s := range sections {
		known[s.Order] = true
	}

	// kept maps reply indexes to positions in out.
	kept := make(map[int]int, len(in))
	out := make([]model.Question, 0, len(in))
	counters := make(map[int]int)
	occurrences := make(map[string]int)

	for i, dto := range in {
		text := strings.TrimSpace(dto.Text)
		if text == "" {
			continue
		}

		level := dto.Level
		if level != 1 && level != 2 {
			level = 1
		}

		var section *int
		secKey := 0
		if dto.SectionOrder != nil && known[*dto.SectionOrder] {
			section = model.IntPtr(*dto.SectionOrder)
			secKey = *dto.SectionOrder
		}

		counters[secKey]++
		order := dto.Order
		if order <= 0 {
			order = counters[secKey]
		}

		confidence := DefaultConfidence
		if dto.Confidence != nil && *dto.Confidence > 0 && *dto.Confidence <= 1 {
			confidence = *dto.Confidence
		}

		norm := textnorm.Normalize(text)
		occKey := strconv.Itoa(secKey) + "\x00" + norm
		occ := occurrences[occKey]
		occurrences[occKey] = occ + 1

		kept[i] = len(out)
		out = append(out, model.Question{
			ID:             model.NewQuestionID(norm, secKey, occ),
			Text:           text,
			Level:          level,
			SectionOrder:   section,
			OrderInSection: order,
			Type:           model.ParseQuestionType(strings.TrimSpace(dto.Type)),
			Required:       dto.Required,
			Confidence:     confidence,
			Provenance:     model.ProvenanceSemantic,
		})
	}

	for i, dto := range in {
		pos, ok := kept[i]
		if !ok || out[pos].Level != 2 {
			continue
		}
		if dto.ParentIndex != nil && *dto.ParentIndex != i {
			if ppos, ok := kept[*dto.ParentIndex]; ok && out[ppos].Level == 1 {
				out[pos].ParentQuestionID = out[ppos].ID
				continue
			}
		}
		// A sub-question without a resolvable parent is promoted.
		out[pos].Level = 1
	}
	return out
}

func coerceFields(in []fieldDTO) []model.CompanyField {
	out := make([]model.CompanyField, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		key := strings.ToLower(strings.TrimSpace(f.Key))
		label := strings.TrimSpace(f.Label)
		if key == "" {
			key = strings.ReplaceAll(textnorm.Normalize(label), " ", "_")
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if label == "" {
			label = key
		}
		out = append(out, model.CompanyField{Key: key, Label: label})
	}
	return out
}
