package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
)

func testExportService(t *testing.T) *ExportService {
	t.Helper()
	return NewExportService(&config.StorageConfig{ExportDir: t.TempDir()})
}

func TestExportJSONRoundTrip(t *testing.T) {
	svc := testExportService(t)
	rec := sampleRecord("case-json")

	data, err := svc.JSONReport(rec)
	if err != nil {
		t.Fatalf("JSONReport failed: %v", err)
	}

	var decoded model.CaseRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if !reflect.DeepEqual(&decoded, rec) {
		t.Errorf("JSON export does not match the record:\n%+v\n%+v", decoded, rec)
	}
}

func TestExportExcelWorkbook(t *testing.T) {
	svc := testExportService(t)
	rec := sampleRecord("case-xlsx")

	data, err := svc.ExcelReport(rec)
	if err != nil {
		t.Fatalf("ExcelReport failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()

	wantSheets := []string{"Case Summary", "Document Summaries", "Timeline Events", "Recommendations", "Case Strength", "Extraction Stats"}
	got := f.GetSheetList()
	for _, want := range wantSheets {
		found := false
		for _, name := range got {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing sheet %q in %v", want, got)
		}
	}
	for _, name := range got {
		if name == "Sheet1" {
			t.Error("default sheet was not removed")
		}
	}

	if v, _ := f.GetCellValue("Timeline Events", "A1"); v != "Date" {
		t.Errorf("timeline header: expected Date, got %q", v)
	}
	if v, _ := f.GetCellValue("Timeline Events", "A2"); v != "2024-01-15" {
		t.Errorf("timeline first row: expected 2024-01-15, got %q", v)
	}
	if v, _ := f.GetCellValue("Document Summaries", "A2"); v != "complaint.pdf" {
		t.Errorf("document row: expected complaint.pdf, got %q", v)
	}
	if v, _ := f.GetCellValue("Case Summary", "B1"); v != "Value" {
		t.Errorf("case summary header: expected Value, got %q", v)
	}
	if v, _ := f.GetCellValue("Recommendations", "C2"); v != "File answer" {
		t.Errorf("recommendation action: got %q", v)
	}
}

func TestExportPDFReport(t *testing.T) {
	svc := testExportService(t)

	data, err := svc.PDFReport(sampleRecord("case-pdf"))
	if err != nil {
		t.Fatalf("PDFReport failed: %v", err)
	}
	if len(data) == 0 || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("output does not look like a PDF (%d bytes)", len(data))
	}
}

func TestExportRenderFormats(t *testing.T) {
	svc := testExportService(t)
	rec := sampleRecord("case-render")

	tests := []struct {
		format      string
		filename    string
		contentType string
	}{
		{FormatExcel, "legal_analysis_case-render.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{FormatJSON, "legal_analysis_case-render.json", "application/json"},
		{FormatPDF, "legal_analysis_case-render.pdf", "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			artifact, err := svc.Render(rec, tt.format)
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if artifact.Filename != tt.filename {
				t.Errorf("expected filename %q, got %q", tt.filename, artifact.Filename)
			}
			if artifact.ContentType != tt.contentType {
				t.Errorf("expected content type %q, got %q", tt.contentType, artifact.ContentType)
			}
			if len(artifact.Data) == 0 {
				t.Error("empty artifact")
			}
		})
	}
}

func TestExportRenderUnknownFormat(t *testing.T) {
	svc := testExportService(t)

	_, err := svc.Render(sampleRecord("case-bad"), "csv")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected a validation error, got %T", err)
	}
}

func TestExportWriteArtifacts(t *testing.T) {
	svc := testExportService(t)
	rec := sampleRecord("case-artifacts")

	if err := svc.WriteArtifacts(context.Background(), rec); err != nil {
		t.Fatalf("WriteArtifacts failed: %v", err)
	}

	for _, name := range []string{
		"legal_analysis_case-artifacts.xlsx",
		"legal_analysis_case-artifacts.json",
		"legal_analysis_case-artifacts.pdf",
	} {
		path := filepath.Join(svc.config.ExportDir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("artifact %s not written: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("artifact %s is empty", name)
		}
	}
}

func TestExportEnsureArtifactKeepsExisting(t *testing.T) {
	svc := testExportService(t)
	rec := sampleRecord("case-ensure")

	sentinel := []byte("already rendered")
	path := filepath.Join(svc.config.ExportDir, ExportFilename(rec.CaseID, FormatJSON))
	if err := os.WriteFile(path, sentinel, 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	got, err := svc.EnsureArtifact(context.Background(), rec, FormatJSON)
	if err != nil {
		t.Fatalf("EnsureArtifact failed: %v", err)
	}
	if got != path {
		t.Errorf("expected path %s, got %s", path, got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(data, sentinel) {
		t.Error("existing artifact was overwritten")
	}
}
