package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/pkg/logger"
)

// AnalysisRequest carries the extracted texts into the pipeline. Progress
// is invoked with the percentage and step label as stages begin; the
// caller owns what happens with those reports.
type AnalysisRequest struct {
	JobID    string
	Texts    []model.ExtractedText
	Progress func(percent int, step string)
}

// AnalysisResult is the full output of the agent pipeline.
type AnalysisResult struct {
	CaseSummary       string
	DocumentSummaries []model.DocumentSummary
	Events            []model.TimelineEvent
	Recommendations   model.LegalAnalysis
}

const summarySchemaJSON = `{
	"type": "object",
	"required": ["case_number", "parties", "court", "document_type", "summary", "key_legal_issues", "confidence"],
	"properties": {
		"case_number": {"type": "string"},
		"parties": {"type": "string"},
		"court": {"type": "string"},
		"document_type": {"type": "string"},
		"summary": {"type": "string"},
		"key_legal_issues": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

const eventsSchemaJSON = `{
	"type": "object",
	"required": ["events"],
	"properties": {
		"events": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["date", "event_type", "description"],
				"properties": {
					"date": {"type": "string"},
					"event_type": {"type": "string"},
					"description": {"type": "string"},
					"parties_involved": {"type": "array", "items": {"type": "string"}},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		}
	}
}`

const recommendationsSchemaJSON = `{
	"type": "object",
	"required": ["recommendations", "case_strength"],
	"properties": {
		"recommendations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["category", "priority", "action"],
				"properties": {
					"category": {"type": "string"},
					"priority": {"type": "string"},
					"action": {"type": "string"},
					"legal_basis": {"type": "string"},
					"timeline": {"type": "string"},
					"rationale": {"type": "string"}
				}
			}
		},
		"case_strength": {
			"type": "object",
			"properties": {
				"overall": {"type": "string"},
				"strengths": {"type": "array", "items": {"type": "string"}},
				"weaknesses": {"type": "array", "items": {"type": "string"}},
				"score": {"type": "number", "minimum": 0, "maximum": 10}
			}
		},
		"legal_analysis": {"type": "string"},
		"next_steps": {"type": "array", "items": {"type": "string"}}
	}
}`

// LLMAnalyzer runs the agent pipeline against an OpenAI-compatible chat
// completion API: per-document summaries, timeline extraction, the case
// narrative and recommendations. It implements the orchestrator's
// AnalysisPipeline.
type LLMAnalyzer struct {
	config     *config.LLMConfig
	httpClient *http.Client

	summarySchema         *jsonschema.Schema
	eventsSchema          *jsonschema.Schema
	recommendationsSchema *jsonschema.Schema
}

func NewLLMAnalyzer(cfg *config.LLMConfig) (*LLMAnalyzer, error) {
	compile := func(name, schemaJSON string) (*jsonschema.Schema, error) {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		return c.Compile(name)
	}

	summarySchema, err := compile("summary.json", summarySchemaJSON)
	if err != nil {
		return nil, err
	}
	eventsSchema, err := compile("events.json", eventsSchemaJSON)
	if err != nil {
		return nil, err
	}
	recommendationsSchema, err := compile("recommendations.json", recommendationsSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &LLMAnalyzer{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		summarySchema:         summarySchema,
		eventsSchema:          eventsSchema,
		recommendationsSchema: recommendationsSchema,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// chat sends one completion request. jsonMode asks the API to return a
// JSON object instead of free text.
func (a *LLMAnalyzer) chat(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: a.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	}
	if jsonMode {
		reqBody.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.config.APIURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse llm response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("llm error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// cleanJSONResponse strips markdown code fences models like to wrap JSON in.
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// decodeValidated parses the model output and checks it against the
// agent's schema before the typed decode.
func decodeValidated(content string, schema *jsonschema.Schema, out any) error {
	cleaned := cleanJSONResponse(content)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response failed schema validation: %w", err)
	}
	return json.Unmarshal([]byte(cleaned), out)
}

func (a *LLMAnalyzer) clip(text string) string {
	max := a.config.MaxCharsPerDoc
	if max > 0 && len(text) > max {
		return text[:max]
	}
	return text
}

// Analyze runs the whole pipeline. Content-level problems (bad JSON,
// schema mismatches) degrade to fallbacks; a transport failure while
// summarizing is fatal because nothing downstream can run without the
// summaries.
func (a *LLMAnalyzer) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("no extracted text to analyze")
	}
	report := req.Progress
	if report == nil {
		report = func(int, string) {}
	}

	report(40, model.StepSummarizing)
	summaries, err := a.summarizeDocuments(ctx, req.Texts)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "analysis.summaries.ok", "documents", len(summaries))

	report(60, model.StepExtractingDates)
	events := a.extractEvents(ctx, req.Texts)
	logger.Info(ctx, "analysis.events.ok", "events", len(events))

	report(80, model.StepCaseSummary)
	caseSummary := a.composeCaseSummary(ctx, summaries, events)
	logger.Info(ctx, "analysis.case_summary.ok", "length", len(caseSummary))

	report(90, model.StepRecommending)
	recommendations := a.recommend(ctx, summaries, events)
	logger.Info(ctx, "analysis.recommendations.ok",
		"recommendations", len(recommendations.Recommendations))

	return &AnalysisResult{
		CaseSummary:       caseSummary,
		DocumentSummaries: summaries,
		Events:            events,
		Recommendations:   recommendations,
	}, nil
}

const summarizerSystemPrompt = `You are a legal document analyst. Extract key information from the document and respond with a JSON object containing exactly these fields: case_number, parties, court, document_type, summary, key_legal_issues (array of strings), confidence (0 to 1). Use "Unknown" for fields you cannot determine.`

func (a *LLMAnalyzer) summarizeDocuments(ctx context.Context, texts []model.ExtractedText) ([]model.DocumentSummary, error) {
	summaries := make([]model.DocumentSummary, 0, len(texts))
	for _, text := range texts {
		user := fmt.Sprintf("Document filename: %s\n\nDocument content:\n%s", text.Filename, a.clip(text.Content))

		content, err := a.chat(ctx, summarizerSystemPrompt, user, true)
		if err != nil {
			return nil, fmt.Errorf("document summarization failed for %s: %w", text.Filename, err)
		}

		var summary model.DocumentSummary
		if err := decodeValidated(content, a.summarySchema, &summary); err != nil {
			logger.Warn(ctx, "analysis.summary.fallback", "filename", text.Filename, "error", err)
			summary = fallbackSummary(text)
		}
		summary.SourceFile = text.Filename
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// fallbackSummary is used when the model's answer cannot be parsed: the
// document still appears in the results, flagged by its low confidence.
func fallbackSummary(text model.ExtractedText) model.DocumentSummary {
	clip := text.Content
	if len(clip) > 500 {
		clip = clip[:500] + "..."
	}
	return model.DocumentSummary{
		CaseNumber:     "Unknown",
		Parties:        "Unknown",
		Court:          "Unknown",
		DocumentType:   "Unknown",
		Summary:        clip,
		KeyLegalIssues: []string{},
		Confidence:     0.3,
	}
}

const eventsSystemPrompt = `You are a legal timeline analyst. Extract every dated event from the documents and respond with a JSON object {"events": [...]}. Each event has: date (ISO format YYYY-MM-DD when determinable, otherwise the date as written), event_type, description, parties_involved (array of strings), confidence (0 to 1). Only include events with at least an approximate date.`

func (a *LLMAnalyzer) extractEvents(ctx context.Context, texts []model.ExtractedText) []model.TimelineEvent {
	var b strings.Builder
	for _, text := range texts {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", text.Filename, a.clip(text.Content))
	}

	content, err := a.chat(ctx, eventsSystemPrompt, b.String(), true)
	if err != nil {
		logger.Warn(ctx, "analysis.events.skipped", "error", err)
		return []model.TimelineEvent{}
	}

	var decoded struct {
		Events []model.TimelineEvent `json:"events"`
	}
	if err := decodeValidated(content, a.eventsSchema, &decoded); err != nil {
		logger.Warn(ctx, "analysis.events.skipped", "error", err)
		return []model.TimelineEvent{}
	}

	return normalizeEvents(decoded.Events)
}

// normalizeEvents dedupes identical events and orders the timeline by
// date. ISO dates compare correctly as strings; anything else sorts
// after them, keeping its extraction order.
func normalizeEvents(events []model.TimelineEvent) []model.TimelineEvent {
	seen := make(map[string]bool, len(events))
	result := make([]model.TimelineEvent, 0, len(events))
	for _, ev := range events {
		key := ev.Date + "|" + ev.EventType + "|" + ev.Description
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, ev)
	}

	isISO := func(date string) bool {
		if len(date) < 10 {
			return false
		}
		for i, r := range date[:10] {
			if i == 4 || i == 7 {
				if r != '-' {
					return false
				}
			} else if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}

	sort.SliceStable(result, func(i, j int) bool {
		di, dj := result[i].Date, result[j].Date
		ii, ij := isISO(di), isISO(dj)
		if ii != ij {
			return ii
		}
		if !ii {
			return false
		}
		return di[:10] < dj[:10]
	})
	return result
}

const caseSummarySystemPrompt = `You are a senior legal analyst. Write a clear narrative summary of the case based on the document summaries and timeline provided. Cover the nature of the dispute, the parties, the current posture and what is at stake. Respond with plain text, no JSON.`

func (a *LLMAnalyzer) composeCaseSummary(ctx context.Context, summaries []model.DocumentSummary, events []model.TimelineEvent) string {
	var b strings.Builder
	b.WriteString("Document summaries:\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.SourceFile, s.DocumentType, s.Summary)
	}
	if len(events) > 0 {
		b.WriteString("\nTimeline:\n")
		for _, ev := range events {
			fmt.Fprintf(&b, "- %s: %s\n", ev.Date, ev.Description)
		}
	}

	content, err := a.chat(ctx, caseSummarySystemPrompt, b.String(), false)
	if err != nil || strings.TrimSpace(content) == "" {
		logger.Warn(ctx, "analysis.case_summary.fallback", "error", err)
		return fallbackCaseSummary(summaries)
	}
	return strings.TrimSpace(content)
}

func fallbackCaseSummary(summaries []model.DocumentSummary) string {
	var b strings.Builder
	b.WriteString("Case file with ")
	fmt.Fprintf(&b, "%d analyzed document(s).", len(summaries))
	for _, s := range summaries {
		if s.Parties != "" && s.Parties != "Unknown" {
			fmt.Fprintf(&b, " Parties: %s.", s.Parties)
			break
		}
	}
	for _, s := range summaries {
		if s.Summary != "" {
			fmt.Fprintf(&b, " %s", s.Summary)
			break
		}
	}
	return b.String()
}

const recommendationsSystemPrompt = `You are a legal strategy advisor. Based on the case material, respond with a JSON object containing: recommendations (array of {category, priority, action, legal_basis, timeline, rationale}), case_strength ({overall, strengths, weaknesses, score 0-10}), legal_analysis (string), next_steps (array of strings). Priorities are High, Medium or Low.`

func (a *LLMAnalyzer) recommend(ctx context.Context, summaries []model.DocumentSummary, events []model.TimelineEvent) model.LegalAnalysis {
	var b strings.Builder
	b.WriteString("Document summaries:\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s: %s (issues: %s)\n", s.SourceFile, s.Summary, strings.Join(s.KeyLegalIssues, "; "))
	}
	if len(events) > 0 {
		b.WriteString("\nTimeline:\n")
		for _, ev := range events {
			fmt.Fprintf(&b, "- %s (%s): %s\n", ev.Date, ev.EventType, ev.Description)
		}
	}

	content, err := a.chat(ctx, recommendationsSystemPrompt, b.String(), true)
	if err != nil {
		logger.Warn(ctx, "analysis.recommendations.fallback", "error", err)
		return fallbackRecommendations()
	}

	var analysis model.LegalAnalysis
	if err := decodeValidated(content, a.recommendationsSchema, &analysis); err != nil {
		logger.Warn(ctx, "analysis.recommendations.fallback", "error", err)
		return fallbackRecommendations()
	}
	return analysis
}

func fallbackRecommendations() model.LegalAnalysis {
	return model.LegalAnalysis{
		Recommendations: []model.LegalRecommendation{
			{
				Category:  "General",
				Priority:  "High",
				Action:    "Consult with a qualified attorney to review the case documents",
				Rationale: "Automated analysis could not produce specific recommendations for this material",
			},
			{
				Category:  "Documentation",
				Priority:  "Medium",
				Action:    "Organize and index all case documents chronologically",
				Rationale: "A complete document index supports any further review",
			},
		},
		CaseStrength: model.CaseStrength{
			Overall:    "Undetermined",
			Strengths:  []string{},
			Weaknesses: []string{"Automated assessment unavailable"},
			Score:      5.0,
		},
		LegalAnalysisText: "A detailed automated analysis was not available for this case; the documents should be reviewed manually.",
		NextSteps:         []string{"Review extracted documents", "Verify the timeline against source material"},
	}
}
