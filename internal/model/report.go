package model

import "time"

// InjectionStatus is the outcome for one placeholder or answer.
type InjectionStatus string

const (
	InjectionInjected InjectionStatus = "injected"
	InjectionMissing  InjectionStatus = "missing"
	InjectionNotFound InjectionStatus = "not_found"
)

// InjectionDetail describes what happened to one question during export.
type InjectionDetail struct {
	QuestionID       string          `json:"question_id"`
	PlaceholderToken string          `json:"placeholder_token,omitempty"`
	QuestionTitle    string          `json:"question_title,omitempty"`
	Status           InjectionStatus `json:"status"`
	AnswerPreview    string          `json:"answer_preview,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// InjectionReport is produced fresh for every export and never persisted.
type InjectionReport struct {
	TotalQuestions int               `json:"total_questions"`
	InjectedCount  int               `json:"injected_count"`
	MissingCount   int               `json:"missing_count"`
	NotFoundCount  int               `json:"not_found_count"`
	Details        []InjectionDetail `json:"details"`
	Warnings       []string          `json:"warnings"`
	Success        bool              `json:"success"`
	ExportedAt     time.Time         `json:"exported_at"`
	DurationMs     int64             `json:"duration_ms"`
}

// Add records a detail and updates the matching counter.
func (r *InjectionReport) Add(d InjectionDetail) {
	r.Details = append(r.Details, d)
	switch d.Status {
	case InjectionInjected:
		r.InjectedCount++
	case InjectionMissing:
		r.MissingCount++
	case InjectionNotFound:
		r.NotFoundCount++
	}
}

// Warn appends a warning line.
func (r *InjectionReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
