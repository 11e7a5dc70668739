package model

import "time"

// QuestionPositionMapping ties a placeholder token to the question it
// stands for.
type QuestionPositionMapping struct {
	QuestionID       string `json:"question_id"`
	PlaceholderToken string `json:"placeholder_token"`
	SectionID        *int   `json:"section_id,omitempty"`
	QuestionTitle    string `json:"question_title"`
	QuestionOrder    int    `json:"question_order"`
}

// InternalTemplate is the working copy of a tenant template carrying one
// invisible placeholder per anchored question. PackageBytes lives in blob
// storage under PackageKey; the store only keeps the metadata.
type InternalTemplate struct {
	DocumentID   string                    `json:"document_id"`
	ProjectID    string                    `json:"project_id"`
	PackageKey   string                    `json:"package_key"`
	PackageBytes []byte                    `json:"-"`
	Mappings     []QuestionPositionMapping `json:"mappings"`
	CreatedAt    time.Time                 `json:"created_at"`
	OriginalHash string                    `json:"original_hash"`
}

// MappingByToken indexes the mappings by placeholder token.
func (t *InternalTemplate) MappingByToken() map[string]QuestionPositionMapping {
	out := make(map[string]QuestionPositionMapping, len(t.Mappings))
	for _, m := range t.Mappings {
		out[m.PlaceholderToken] = m
	}
	return out
}
