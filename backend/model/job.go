package model

import (
	"time"
)

// Job statuses. A job moves uploaded -> extracting -> analyzing -> completed,
// or to failed from any non-terminal status. Retry moves failed back to
// uploaded; nothing leaves completed.
const (
	StatusUploaded   = "uploaded"
	StatusExtracting = "extracting"
	StatusAnalyzing  = "analyzing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Pipeline step labels reported through Job.CurrentStep.
const (
	StepUploaded        = "Files uploaded"
	StepStarting        = "Starting analysis"
	StepExtracting      = "Extracting text from documents"
	StepSummarizing     = "Summarizing documents"
	StepExtractingDates = "Extracting timeline events"
	StepCaseSummary     = "Generating case summary"
	StepRecommending    = "Generating recommendations"
	StepSavingResults   = "Saving results"
	StepCompleted       = "Analysis completed"
)

// Completed-step markers accumulated in Job.CompletedSteps.
const (
	MarkDocumentProcessing = "document_processing"
	MarkTextExtraction     = "text_extraction"
	MarkAIAnalysis         = "ai_analysis"
	MarkGeneratingReport   = "generating_report"
)

// FileInfo describes one uploaded document.
type FileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Job is one analysis run over a set of uploaded documents.
type Job struct {
	ID             string     `json:"job_id"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	CurrentStep    string     `json:"current_step"`
	CompletedSteps []string   `json:"completed_steps"`
	Files          []FileInfo `json:"files"`
	Fingerprint    string     `json:"fingerprint,omitempty"`
	CaseID         string     `json:"case_id,omitempty"`
	CacheHit       bool       `json:"cache_hit"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the job can no longer change status, apart
// from an explicit retry of a failed job.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone returns a deep copy safe to hand to callers after the store's
// lock is released.
func (j *Job) Clone() *Job {
	cp := *j
	cp.CompletedSteps = append([]string(nil), j.CompletedSteps...)
	cp.Files = append([]FileInfo(nil), j.Files...)
	return &cp
}

// StatusEvent is a point-in-time job snapshot pushed to subscribers.
type StatusEvent struct {
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	CurrentStep    string    `json:"current_step"`
	CompletedSteps []string  `json:"completed_steps"`
	CacheHit       bool      `json:"cache_hit"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Snapshot builds the event published after a job mutation.
func (j *Job) Snapshot() StatusEvent {
	return StatusEvent{
		JobID:          j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		CurrentStep:    j.CurrentStep,
		CompletedSteps: append([]string(nil), j.CompletedSteps...),
		CacheHit:       j.CacheHit,
		Error:          j.Error,
		At:             j.UpdatedAt,
	}
}
