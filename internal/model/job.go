package model

import "time"

// JobType identifies a background job class.
type JobType string

const (
	JobQuestionExtraction    JobType = "QUESTION_EXTRACTION"
	JobRequirementExtraction JobType = "REQUIREMENT_EXTRACTION"
)

// Priority ranks job classes. Higher wins.
type Priority int

const (
	PriorityLow  Priority = 1
	PriorityHigh Priority = 2
)

// Priority returns the scheduling class of the job type.
func (t JobType) Priority() Priority {
	if t == JobQuestionExtraction {
		return PriorityHigh
	}
	return PriorityLow
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobQuestionExtraction || t == JobRequirementExtraction
}

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BackgroundJob is a schedulable unit of work scoped to a project.
// CurrentDocumentIndex counts the source documents fully processed and is
// the only state a resumed job starts from.
type BackgroundJob struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	Type                 JobType   `json:"type"`
	Status               JobStatus `json:"status"`
	CurrentDocumentIndex int       `json:"current_document_index"`
	SourceKeys           []string  `json:"source_keys,omitempty"`
	Error                string    `json:"error,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Requirement is a single obligation extracted from a project source
// document by the requirement extraction job.
type Requirement struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	JobID         string    `json:"job_id"`
	DocumentIndex int       `json:"document_index"`
	SourceKey     string    `json:"source_key"`
	Text          string    `json:"text"`
	Category      string    `json:"category,omitempty"`
	Mandatory     bool      `json:"mandatory"`
	CreatedAt     time.Time `json:"created_at"`
}
