package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
)

// FileDigest pairs an uploaded filename with the SHA-256 of its content.
type FileDigest struct {
	Name   string
	SHA256 string
}

// ComputeFingerprint derives the deterministic case identity for a set of
// uploaded files. Order does not matter; the same names and bytes always
// produce the same fingerprint.
func ComputeFingerprint(files []FileDigest) string {
	sorted := append([]FileDigest(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].SHA256 < sorted[j].SHA256
	})

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write([]byte(f.SHA256))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheStats summarizes the cache for the admin endpoint.
type CacheStats struct {
	TotalCases     int              `json:"total_cases"`
	TotalSizeBytes int64            `json:"total_size_bytes"`
	MostAccessed   []model.CaseMeta `json:"most_accessed"`
	RecentCases    []model.CaseMeta `json:"recent_cases"`
}

// CaseCache persists completed analyses on disk so re-uploading the same
// case returns instantly. Layout under the cache directory:
//
//	index.json          one CaseMeta row per case
//	records/<id>.json   the full CaseRecord
//
// Every write goes through a temp file and os.Rename, so a crash leaves
// either the old state or the new one, never a torn record. Eviction is
// explicit only: Remove and ClearOlderThan.
type CaseCache struct {
	dir   string
	mu    sync.RWMutex
	index map[string]*model.CaseMeta
}

// NewCaseCache opens (or creates) a cache rooted at dir and loads the
// existing index.
func NewCaseCache(dir string) (*CaseCache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "records"), 0o755); err != nil {
		return nil, &model.StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	c := &CaseCache{
		dir:   dir,
		index: make(map[string]*model.CaseMeta),
	}

	indexPath := c.indexPath()
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, &model.StorageError{Op: "read", Path: indexPath, Err: err}
	}

	var rows []model.CaseMeta
	if err := json.Unmarshal(data, &rows); err != nil {
		// A corrupt index is rebuilt empty rather than taking the service
		// down; records on disk are still reachable once re-cached.
		slog.Warn("cache index unreadable, starting empty", "path", indexPath, "error", err)
		return c, nil
	}
	for i := range rows {
		row := rows[i]
		c.index[row.CaseID] = &row
	}
	return c, nil
}

func (c *CaseCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *CaseCache) recordPath(caseID string) string {
	return filepath.Join(c.dir, "records", caseID+".json")
}

// atomicWrite writes data next to path and renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// saveIndexLocked persists the index. Must be called with the write lock held.
func (c *CaseCache) saveIndexLocked() error {
	rows := make([]model.CaseMeta, 0, len(c.index))
	for _, m := range c.index {
		rows = append(rows, *m)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CaseID < rows[j].CaseID
	})

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return &model.StorageError{Op: "marshal", Path: c.indexPath(), Err: err}
	}
	if err := atomicWrite(c.indexPath(), data); err != nil {
		return &model.StorageError{Op: "write", Path: c.indexPath(), Err: err}
	}
	return nil
}

// normalizeFilename reduces a filename to a comparable key: lowercase,
// extension stripped, non-alphanumerics removed.
func normalizeFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// metaFromRecord builds the searchable index row for a record.
func metaFromRecord(rec *model.CaseRecord, fingerprint string, fileNames []string) *model.CaseMeta {
	meta := &model.CaseMeta{
		CaseID:      rec.CaseID,
		Fingerprint: fingerprint,
		FileNames:   append([]string(nil), fileNames...),
	}

	seenNumbers := make(map[string]bool)
	seenParties := make(map[string]bool)
	for _, ds := range rec.DocumentSummaries {
		if ds.CaseNumber != "" && ds.CaseNumber != "Unknown" && !seenNumbers[ds.CaseNumber] {
			seenNumbers[ds.CaseNumber] = true
			meta.CaseNumbers = append(meta.CaseNumbers, ds.CaseNumber)
		}
		if ds.Parties != "" && ds.Parties != "Unknown" && !seenParties[ds.Parties] {
			seenParties[ds.Parties] = true
			meta.Parties = append(meta.Parties, ds.Parties)
			meta.CaseNames = append(meta.CaseNames, ds.Parties)
		}
		if meta.CourtName == "" && ds.Court != "" && ds.Court != "Unknown" {
			meta.CourtName = ds.Court
		}
	}
	return meta
}

// Put stores a completed analysis. The whole record lands atomically; a
// concurrent Put for the same case leaves exactly one of the inputs.
func (c *CaseCache) Put(rec *model.CaseRecord, fingerprint string, fileNames []string) error {
	if rec.CaseID == "" {
		return model.NewValidationError("case record missing case_id")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &model.StorageError{Op: "marshal", Path: c.recordPath(rec.CaseID), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := atomicWrite(c.recordPath(rec.CaseID), data); err != nil {
		return &model.StorageError{Op: "write", Path: c.recordPath(rec.CaseID), Err: err}
	}

	meta := metaFromRecord(rec, fingerprint, fileNames)
	now := time.Now()
	if prev, ok := c.index[rec.CaseID]; ok {
		meta.CachedAt = prev.CachedAt
		meta.AccessCount = prev.AccessCount
	} else {
		meta.CachedAt = now
	}
	meta.LastAccessed = now
	c.index[rec.CaseID] = meta

	return c.saveIndexLocked()
}

// Get returns the cached record and bumps its access stats.
func (c *CaseCache) Get(caseID string) (*model.CaseRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.index[caseID]
	if !ok {
		return nil, model.ErrNotFound
	}

	data, err := os.ReadFile(c.recordPath(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrNotFound
		}
		return nil, &model.StorageError{Op: "read", Path: c.recordPath(caseID), Err: err}
	}

	var rec model.CaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &model.StorageError{Op: "decode", Path: c.recordPath(caseID), Err: err}
	}

	meta.LastAccessed = time.Now()
	meta.AccessCount++
	if err := c.saveIndexLocked(); err != nil {
		slog.Warn("cache access stats not persisted", "case_id", caseID, "error", err)
	}

	return &rec, nil
}

// Peek returns the record without touching access stats.
func (c *CaseCache) Peek(caseID string) (*model.CaseRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.index[caseID]; !ok {
		return nil, model.ErrNotFound
	}
	data, err := os.ReadFile(c.recordPath(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrNotFound
		}
		return nil, &model.StorageError{Op: "read", Path: c.recordPath(caseID), Err: err}
	}
	var rec model.CaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &model.StorageError{Op: "decode", Path: c.recordPath(caseID), Err: err}
	}
	return &rec, nil
}

// List returns every cached case, most recently accessed first.
func (c *CaseCache) List() []model.CaseMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows := make([]model.CaseMeta, 0, len(c.index))
	for _, m := range c.index {
		rows = append(rows, *m)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastAccessed.After(rows[j].LastAccessed)
	})
	return rows
}

// Search matches the query case-insensitively against case names, numbers,
// parties, court and file names.
func (c *CaseCache) Search(query string) []model.CaseMeta {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	matches := func(m *model.CaseMeta) bool {
		for _, s := range m.CaseNames {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
		for _, s := range m.CaseNumbers {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
		for _, s := range m.Parties {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
		if strings.Contains(strings.ToLower(m.CourtName), q) {
			return true
		}
		for _, s := range m.FileNames {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var rows []model.CaseMeta
	for _, m := range c.index {
		if matches(m) {
			rows = append(rows, *m)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastAccessed.After(rows[j].LastAccessed)
	})
	return rows
}

// MatchFingerprint returns the case whose file set fingerprint matches.
func (c *CaseCache) MatchFingerprint(fingerprint string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, m := range c.index {
		if m.Fingerprint == fingerprint {
			return id, true
		}
	}
	return "", false
}

// MatchNames finds a cached case whose normalized file names equal the
// uploaded set. This catches re-uploads where bytes differ (rescans) but
// the document set is the same.
func (c *CaseCache) MatchNames(fileNames []string) (string, bool) {
	if len(fileNames) == 0 {
		return "", false
	}
	want := make(map[string]bool, len(fileNames))
	for _, n := range fileNames {
		want[normalizeFilename(n)] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var bestID string
	var bestAccessed time.Time
	for id, m := range c.index {
		if len(m.FileNames) != len(fileNames) {
			continue
		}
		have := make(map[string]bool, len(m.FileNames))
		for _, n := range m.FileNames {
			have[normalizeFilename(n)] = true
		}
		if len(have) != len(want) {
			continue
		}
		equal := true
		for k := range want {
			if !have[k] {
				equal = false
				break
			}
		}
		if equal && m.LastAccessed.After(bestAccessed) {
			bestID = id
			bestAccessed = m.LastAccessed
		}
	}
	return bestID, bestID != ""
}

// Remove evicts one case unconditionally.
func (c *CaseCache) Remove(caseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[caseID]; !ok {
		return model.ErrNotFound
	}
	if err := os.Remove(c.recordPath(caseID)); err != nil && !os.IsNotExist(err) {
		return &model.StorageError{Op: "remove", Path: c.recordPath(caseID), Err: err}
	}
	delete(c.index, caseID)
	return c.saveIndexLocked()
}

// ClearOlderThan evicts cases not accessed within the given number of
// days and returns how many were removed.
func (c *CaseCache) ClearOlderThan(days int) (int, error) {
	if days < 0 {
		return 0, model.NewValidationError("days must not be negative, got %d", days)
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, m := range c.index {
		if m.LastAccessed.Before(cutoff) {
			if err := os.Remove(c.recordPath(id)); err != nil && !os.IsNotExist(err) {
				return removed, &model.StorageError{Op: "remove", Path: c.recordPath(id), Err: err}
			}
			delete(c.index, id)
			removed++
		}
	}
	if removed > 0 {
		if err := c.saveIndexLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Stats aggregates cache contents for the admin endpoint.
func (c *CaseCache) Stats() CacheStats {
	c.mu.RLock()
	rows := make([]model.CaseMeta, 0, len(c.index))
	for _, m := range c.index {
		rows = append(rows, *m)
	}
	c.mu.RUnlock()

	var size int64
	for _, m := range rows {
		if fi, err := os.Stat(c.recordPath(m.CaseID)); err == nil {
			size += fi.Size()
		}
	}

	byAccess := append([]model.CaseMeta(nil), rows...)
	sort.Slice(byAccess, func(i, j int) bool {
		return byAccess[i].AccessCount > byAccess[j].AccessCount
	})
	byRecent := append([]model.CaseMeta(nil), rows...)
	sort.Slice(byRecent, func(i, j int) bool {
		return byRecent[i].LastAccessed.After(byRecent[j].LastAccessed)
	})

	const topN = 5
	if len(byAccess) > topN {
		byAccess = byAccess[:topN]
	}
	if len(byRecent) > topN {
		byRecent = byRecent[:topN]
	}

	return CacheStats{
		TotalCases:     len(rows),
		TotalSizeBytes: size,
		MostAccessed:   byAccess,
		RecentCases:    byRecent,
	}
}

// Dir exposes the cache root, used by stats logging at startup.
func (c *CaseCache) Dir() string {
	return c.dir
}
