package model

import (
	"time"
)

// DocumentSummary is the per-document output of the summarizer agent.
type DocumentSummary struct {
	CaseNumber     string   `json:"case_number"`
	Parties        string   `json:"parties"`
	Court          string   `json:"court"`
	DocumentType   string   `json:"document_type"`
	Summary        string   `json:"summary"`
	KeyLegalIssues []string `json:"key_legal_issues"`
	Confidence     float64  `json:"confidence"`
	SourceFile     string   `json:"source_file,omitempty"`
}

// TimelineEvent is one dated event pulled out of the documents.
type TimelineEvent struct {
	Date            string   `json:"date"`
	EventType       string   `json:"event_type"`
	Description     string   `json:"description"`
	PartiesInvolved []string `json:"parties_involved"`
	Confidence      float64  `json:"confidence"`
	DocumentSource  string   `json:"document_source"`
}

// LegalRecommendation is one actionable item from the recommendations agent.
type LegalRecommendation struct {
	Category   string `json:"category"`
	Priority   string `json:"priority"`
	Action     string `json:"action"`
	LegalBasis string `json:"legal_basis"`
	Timeline   string `json:"timeline"`
	Rationale  string `json:"rationale"`
}

// CaseStrength is the agent's assessment of the case position.
type CaseStrength struct {
	Overall    string   `json:"overall"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	Score      float64  `json:"score"`
}

// LegalAnalysis bundles the recommendations agent's full output.
type LegalAnalysis struct {
	Recommendations   []LegalRecommendation `json:"recommendations"`
	CaseStrength      CaseStrength          `json:"case_strength"`
	LegalAnalysisText string                `json:"legal_analysis"`
	NextSteps         []string              `json:"next_steps"`
}

// FileProcessed records the extraction outcome for one file.
type FileProcessed struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	TextLength int    `json:"text_length,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExtractionStats aggregates per-file extraction outcomes.
type ExtractionStats struct {
	TotalFiles     int             `json:"total_files"`
	SuccessCount   int             `json:"success_count"`
	ErrorCount     int             `json:"error_count"`
	FilesProcessed []FileProcessed `json:"files_processed"`
}

// ExtractedText is the text pulled from one document.
type ExtractedText struct {
	Filename   string `json:"filename"`
	Content    string `json:"content"`
	TextLength int    `json:"text_length"`
}

// CaseRecord is the complete cached analysis for one document set.
// CaseID is the deterministic fingerprint of the uploaded files, so the
// same set always resolves to the same record.
type CaseRecord struct {
	CaseID            string            `json:"case_id"`
	CaseSummary       string            `json:"case_summary"`
	DocumentSummaries []DocumentSummary `json:"document_summaries"`
	Events            []TimelineEvent   `json:"events"`
	Recommendations   LegalAnalysis     `json:"recommendations"`
	ExtractionStats   ExtractionStats   `json:"extraction_stats"`
	CompletedAt       time.Time         `json:"completed_at"`
}

// CaseMeta is the index row kept alongside each cached record.
type CaseMeta struct {
	CaseID       string    `json:"case_id"`
	Fingerprint  string    `json:"fingerprint"`
	CaseNames    []string  `json:"case_names,omitempty"`
	CaseNumbers  []string  `json:"case_numbers,omitempty"`
	Parties      []string  `json:"parties,omitempty"`
	CourtName    string    `json:"court_name,omitempty"`
	FileNames    []string  `json:"file_names"`
	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}
