package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
)

// SummaryInfo describes one stored narrative without its content.
type SummaryInfo struct {
	CaseID     string    `json:"case_id"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// SummaryStore keeps one markdown narrative per case under its own
// directory, written atomically like the cache.
type SummaryStore struct {
	dir string
	mu  sync.Mutex
}

func NewSummaryStore(dir string) (*SummaryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &model.StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &SummaryStore{dir: dir}, nil
}

func (s *SummaryStore) path(caseID string) string {
	return filepath.Join(s.dir, caseID+".md")
}

// Save writes the narrative for a case, replacing any previous one.
func (s *SummaryStore) Save(caseID, content string) error {
	if caseID == "" {
		return model.NewValidationError("summary requires a case_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(s.path(caseID), []byte(content)); err != nil {
		return &model.StorageError{Op: "write", Path: s.path(caseID), Err: err}
	}
	return nil
}

// Get returns the narrative for a case.
func (s *SummaryStore) Get(caseID string) (string, error) {
	data, err := os.ReadFile(s.path(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", model.ErrNotFound
		}
		return "", &model.StorageError{Op: "read", Path: s.path(caseID), Err: err}
	}
	return string(data), nil
}

// Delete removes the narrative for a case.
func (s *SummaryStore) Delete(caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(caseID))
	if os.IsNotExist(err) {
		return model.ErrNotFound
	}
	if err != nil {
		return &model.StorageError{Op: "remove", Path: s.path(caseID), Err: err}
	}
	return nil
}

// List returns every stored narrative, newest first.
func (s *SummaryStore) List() ([]SummaryInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &model.StorageError{Op: "read", Path: s.dir, Err: err}
	}

	var infos []SummaryInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SummaryInfo{
			CaseID:     strings.TrimSuffix(e.Name(), ".md"),
			SizeBytes:  fi.Size(),
			ModifiedAt: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
	})
	return infos, nil
}

// RenderNarrative builds the markdown narrative saved alongside a
// completed analysis.
func RenderNarrative(rec *model.CaseRecord) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Case Summary: %s\n\n", rec.CaseID))
	b.WriteString(fmt.Sprintf("Generated: %s\n\n", rec.CompletedAt.Format("2006-01-02 15:04")))

	b.WriteString("## Overview\n\n")
	b.WriteString(rec.CaseSummary)
	b.WriteString("\n\n")

	if len(rec.DocumentSummaries) > 0 {
		b.WriteString("## Documents\n\n")
		for _, ds := range rec.DocumentSummaries {
			name := ds.SourceFile
			if name == "" {
				name = ds.DocumentType
			}
			b.WriteString(fmt.Sprintf("### %s\n\n", name))
			if ds.CaseNumber != "" {
				b.WriteString(fmt.Sprintf("- Case number: %s\n", ds.CaseNumber))
			}
			if ds.Parties != "" {
				b.WriteString(fmt.Sprintf("- Parties: %s\n", ds.Parties))
			}
			if ds.Court != "" {
				b.WriteString(fmt.Sprintf("- Court: %s\n", ds.Court))
			}
			b.WriteString("\n")
			b.WriteString(ds.Summary)
			b.WriteString("\n\n")
		}
	}

	if len(rec.Events) > 0 {
		b.WriteString("## Timeline\n\n")
		for _, ev := range rec.Events {
			b.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", ev.Date, ev.EventType, ev.Description))
		}
		b.WriteString("\n")
	}

	if len(rec.Recommendations.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for i, r := range rec.Recommendations.Recommendations {
			b.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, r.Priority, r.Action))
		}
		b.WriteString("\n")
	}

	return b.String()
}
