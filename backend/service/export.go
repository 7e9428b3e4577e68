package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/pkg/logger"
)

// Export formats accepted by the report endpoints.
const (
	FormatExcel = "excel"
	FormatJSON  = "json"
	FormatPDF   = "pdf"
)

// Artifact is one rendered export: the bytes plus what a download
// response needs to serve them.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders a cached case record as an Excel workbook, a PDF
// report or raw JSON, and keeps copies under the export directory.
type ExportService struct {
	config *config.StorageConfig
}

func NewExportService(cfg *config.StorageConfig) *ExportService {
	return &ExportService{config: cfg}
}

// ExportFilename is the canonical artifact name for a case and format.
func ExportFilename(caseID, format string) string {
	ext := map[string]string{FormatExcel: "xlsx", FormatJSON: "json", FormatPDF: "pdf"}[format]
	return fmt.Sprintf("legal_analysis_%s.%s", caseID, ext)
}

func contentTypeForFormat(format string) string {
	switch format {
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Render produces the artifact for one format. An unknown format is a
// request problem, not a server one.
func (s *ExportService) Render(rec *model.CaseRecord, format string) (*Artifact, error) {
	var data []byte
	var err error
	switch format {
	case FormatExcel:
		data, err = s.ExcelReport(rec)
	case FormatPDF:
		data, err = s.PDFReport(rec)
	case FormatJSON:
		data, err = s.JSONReport(rec)
	default:
		return nil, model.NewValidationError("unsupported export format %q, expected excel, json or pdf", format)
	}
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    ExportFilename(rec.CaseID, format),
		ContentType: contentTypeForFormat(format),
		Data:        data,
	}, nil
}

// EnsureArtifact returns the on-disk path for one format, rendering and
// writing it first if it is not there yet.
func (s *ExportService) EnsureArtifact(ctx context.Context, rec *model.CaseRecord, format string) (string, error) {
	artifact, err := s.Render(rec, format)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.config.ExportDir, artifact.Filename)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(s.config.ExportDir, 0o755); err != nil {
		return "", &model.StorageError{Op: "mkdir", Path: s.config.ExportDir, Err: err}
	}
	if err := atomicWrite(path, artifact.Data); err != nil {
		return "", &model.StorageError{Op: "write", Path: path, Err: err}
	}
	logger.Info(ctx, "export.artifact.written", "case_id", rec.CaseID, "format", format, "bytes", len(artifact.Data))
	return path, nil
}

// WriteArtifacts renders every format and overwrites the copies under the
// export directory. Called when an analysis completes, so downloads after
// a retry never serve a stale report.
func (s *ExportService) WriteArtifacts(ctx context.Context, rec *model.CaseRecord) error {
	if err := os.MkdirAll(s.config.ExportDir, 0o755); err != nil {
		return &model.StorageError{Op: "mkdir", Path: s.config.ExportDir, Err: err}
	}
	for _, format := range []string{FormatExcel, FormatJSON, FormatPDF} {
		artifact, err := s.Render(rec, format)
		if err != nil {
			return err
		}
		path := filepath.Join(s.config.ExportDir, artifact.Filename)
		if err := atomicWrite(path, artifact.Data); err != nil {
			return &model.StorageError{Op: "write", Path: path, Err: err}
		}
	}
	logger.Info(ctx, "export.artifacts.ok", "case_id", rec.CaseID, "formats", 3)
	return nil
}

// JSONReport is the case record exactly as cached, pretty-printed.
func (s *ExportService) JSONReport(rec *model.CaseRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json export: %w", err)
	}
	return data, nil
}

// ExcelReport builds the six-sheet workbook.
func (s *ExportService) ExcelReport(rec *model.CaseRecord) ([]byte, error) {
	f := excelize.NewFile()

	writeSheet := func(name string, headers []string, rows [][]any, widths []float64) error {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(name, cell, h)
		}
		for r, row := range rows {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				_ = f.SetCellValue(name, cell, v)
			}
		}
		for i, w := range widths {
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return err
			}
			_ = f.SetColWidth(name, col, col, w)
		}
		return nil
	}

	recs := rec.Recommendations
	stats := rec.ExtractionStats

	summaryRows := [][]any{
		{"Case ID", rec.CaseID},
		{"Completed At", rec.CompletedAt.Format("2006-01-02 15:04")},
		{"Documents Analyzed", len(rec.DocumentSummaries)},
		{"Timeline Events", len(rec.Events)},
		{"Files Processed", stats.SuccessCount},
		{"Extraction Errors", stats.ErrorCount},
		{"Case Summary", rec.CaseSummary},
	}
	if err := writeSheet("Case Summary", []string{"Field", "Value"}, summaryRows, []float64{22, 100}); err != nil {
		return nil, err
	}

	docRows := make([][]any, 0, len(rec.DocumentSummaries))
	for _, d := range rec.DocumentSummaries {
		docRows = append(docRows, []any{
			d.SourceFile, d.DocumentType, d.CaseNumber, d.Parties, d.Court,
			d.Summary, strings.Join(d.KeyLegalIssues, "; "), d.Confidence,
		})
	}
	docHeaders := []string{"File", "Document Type", "Case Number", "Parties", "Court", "Summary", "Key Legal Issues", "Confidence"}
	if err := writeSheet("Document Summaries", docHeaders, docRows, []float64{26, 18, 18, 34, 26, 60, 40, 12}); err != nil {
		return nil, err
	}

	eventRows := make([][]any, 0, len(rec.Events))
	for _, ev := range rec.Events {
		eventRows = append(eventRows, []any{
			ev.Date, ev.EventType, ev.Description,
			strings.Join(ev.PartiesInvolved, "; "), ev.Confidence, ev.DocumentSource,
		})
	}
	eventHeaders := []string{"Date", "Event Type", "Description", "Parties Involved", "Confidence", "Document Source"}
	if err := writeSheet("Timeline Events", eventHeaders, eventRows, []float64{14, 18, 60, 34, 12, 26}); err != nil {
		return nil, err
	}

	recRows := make([][]any, 0, len(recs.Recommendations))
	for _, r := range recs.Recommendations {
		recRows = append(recRows, []any{r.Category, r.Priority, r.Action, r.LegalBasis, r.Timeline, r.Rationale})
	}
	recHeaders := []string{"Category", "Priority", "Action", "Legal Basis", "Timeline", "Rationale"}
	if err := writeSheet("Recommendations", recHeaders, recRows, []float64{18, 10, 50, 24, 16, 50}); err != nil {
		return nil, err
	}

	strengthRows := [][]any{
		{"Overall", recs.CaseStrength.Overall},
		{"Score", recs.CaseStrength.Score},
		{"Strengths", strings.Join(recs.CaseStrength.Strengths, "; ")},
		{"Weaknesses", strings.Join(recs.CaseStrength.Weaknesses, "; ")},
		{"Legal Analysis", recs.LegalAnalysisText},
		{"Next Steps", strings.Join(recs.NextSteps, "; ")},
	}
	if err := writeSheet("Case Strength", []string{"Field", "Value"}, strengthRows, []float64{16, 100}); err != nil {
		return nil, err
	}

	statRows := make([][]any, 0, len(stats.FilesProcessed))
	for _, fp := range stats.FilesProcessed {
		statRows = append(statRows, []any{fp.Filename, fp.Status, fp.TextLength, fp.Error})
	}
	if err := writeSheet("Extraction Stats", []string{"File", "Status", "Text Length", "Error"}, statRows, []float64{26, 12, 12, 50}); err != nil {
		return nil, err
	}

	_ = f.DeleteSheet("Sheet1")
	if index, err := f.GetSheetIndex("Case Summary"); err == nil {
		f.SetActiveSheet(index)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// PDFReport renders the text report. Core fonts only, so text is passed
// through the cp1252 translator.
func (s *ExportService) PDFReport(rec *model.CaseRecord) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Legal Case Analysis", false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Legal Case Analysis Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Case %s, completed %s", rec.CaseID, rec.CompletedAt.Format("2006-01-02"))), "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	section := func(title string) {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
	}
	paragraph := func(text string) {
		pdf.MultiCell(0, 5, tr(text), "", "L", false)
		pdf.Ln(2)
	}

	section("Case Summary")
	paragraph(rec.CaseSummary)

	section("Document Summaries")
	for _, d := range rec.DocumentSummaries {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 6, tr(d.SourceFile), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		meta := fmt.Sprintf("%s, %s, case %s", d.DocumentType, d.Court, d.CaseNumber)
		pdf.CellFormat(0, 5, tr(meta), "", 1, "L", false, 0, "")
		paragraph(d.Summary)
	}

	if len(rec.Events) > 0 {
		section("Timeline of Events")
		events := rec.Events
		if len(events) > 20 {
			events = events[:20]
		}
		for _, ev := range events {
			paragraph(fmt.Sprintf("%s (%s): %s", ev.Date, ev.EventType, ev.Description))
		}
	}

	recs := rec.Recommendations
	if len(recs.Recommendations) > 0 {
		section("Recommendations")
		for _, r := range recs.Recommendations {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.CellFormat(0, 6, tr(fmt.Sprintf("[%s] %s", r.Priority, r.Action)), "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 10)
			if r.Rationale != "" {
				paragraph(r.Rationale)
			}
		}
	}

	section("Case Assessment")
	paragraph(fmt.Sprintf("Overall strength: %s (score %.1f of 10)", recs.CaseStrength.Overall, recs.CaseStrength.Score))
	if len(recs.CaseStrength.Strengths) > 0 {
		paragraph("Strengths: " + strings.Join(recs.CaseStrength.Strengths, "; "))
	}
	if len(recs.CaseStrength.Weaknesses) > 0 {
		paragraph("Weaknesses: " + strings.Join(recs.CaseStrength.Weaknesses, "; "))
	}
	if recs.LegalAnalysisText != "" {
		paragraph(recs.LegalAnalysisText)
	}

	if len(recs.NextSteps) > 0 {
		section("Suggested Next Steps")
		for i, step := range recs.NextSteps {
			paragraph(fmt.Sprintf("%d. %s", i+1, step))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf write: %w", err)
	}
	return buf.Bytes(), nil
}
