package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/pkg/logger"
)

// ExtractionResult is what document processing hands to the analysis
// stage: the usable texts plus the per-file outcome bookkeeping.
type ExtractionResult struct {
	Texts []model.ExtractedText
	Stats model.ExtractionStats
}

// DocumentArchive is the slice of the archive the extraction client needs.
type DocumentArchive interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

// ExtractTaskRequest creates an extraction task on the external service.
type ExtractTaskRequest struct {
	URL      string `json:"url"`
	Callback string `json:"callback,omitempty"`
	Seed     string `json:"seed,omitempty"`
	DataID   string `json:"data_id,omitempty"`
}

// ExtractTaskResponse is the task creation reply.
type ExtractTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// ExtractTaskStatus is the task status reply.
type ExtractTaskStatus struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID     string `json:"task_id"`
		DataID     string `json:"data_id"`
		State      string `json:"state"` // pending, running, converting, done, failed
		FullZipURL string `json:"full_zip_url,omitempty"`
		ErrorMsg   string `json:"err_msg,omitempty"`
	} `json:"data"`
}

// taskOutcome is what a finished task resolves to, whether via callback
// or polling.
type taskOutcome struct {
	state    string
	zipURL   string
	errorMsg string
}

// ExtractionClient runs text extraction through the external service:
// each document is mirrored to the archive, registered as a task by
// presigned URL, and awaited by callback or polling. It implements the
// orchestrator's DocumentProcessor.
type ExtractionClient struct {
	config     *config.ExtractorConfig
	archive    DocumentArchive
	httpClient *http.Client
	workers    int

	mu      sync.Mutex
	pending map[string]chan taskOutcome
}

func NewExtractionClient(cfg *config.ExtractorConfig, archive DocumentArchive, workers int) *ExtractionClient {
	if workers < 1 {
		workers = 1
	}
	return &ExtractionClient{
		config:  cfg,
		archive: archive,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		workers: workers,
		pending: make(map[string]chan taskOutcome),
	}
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Process extracts text from every file of a job. Individual failures are
// recorded in the stats rather than aborting the batch; an error comes
// back only when not a single file yielded text.
func (s *ExtractionClient) Process(ctx context.Context, jobID, dir string, files []model.FileInfo) (*ExtractionResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to process")
	}

	type slot struct {
		text      *model.ExtractedText
		processed model.FileProcessed
	}
	slots := make([]slot, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range files {
		i := i
		file := files[i]
		g.Go(func() error {
			text, err := s.extractOne(gctx, jobID, dir, file)
			if err != nil {
				logger.Warn(gctx, "extract.file.failed", "filename", file.Name, "error", err)
				slots[i] = slot{processed: model.FileProcessed{
					Filename: file.Name,
					Status:   "error",
					Error:    err.Error(),
				}}
				return nil
			}
			if strings.TrimSpace(text) == "" {
				slots[i] = slot{processed: model.FileProcessed{
					Filename: file.Name,
					Status:   "no_text_found",
				}}
				return nil
			}
			slots[i] = slot{
				text: &model.ExtractedText{
					Filename:   file.Name,
					Content:    text,
					TextLength: len(text),
				},
				processed: model.FileProcessed{
					Filename:   file.Name,
					Status:     "success",
					TextLength: len(text),
				},
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ExtractionResult{
		Stats: model.ExtractionStats{TotalFiles: len(files)},
	}
	for _, sl := range slots {
		result.Stats.FilesProcessed = append(result.Stats.FilesProcessed, sl.processed)
		if sl.text != nil {
			result.Texts = append(result.Texts, *sl.text)
			result.Stats.SuccessCount++
		} else {
			result.Stats.ErrorCount++
		}
	}

	if len(result.Texts) == 0 {
		return nil, fmt.Errorf("no text could be extracted from any of the %d files", len(files))
	}

	logger.Info(ctx, "extract.batch.done",
		"total", result.Stats.TotalFiles,
		"success", result.Stats.SuccessCount,
		"errors", result.Stats.ErrorCount,
	)
	return result, nil
}

// extractOne pushes a single document through archive, task creation and
// completion wait.
func (s *ExtractionClient) extractOne(ctx context.Context, jobID, dir string, file model.FileInfo) (string, error) {
	path := filepath.Join(dir, file.Name)
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", file.Name, err)
	}

	objectName := ObjectKey(jobID, file.Name)
	err = s.archive.Upload(ctx, objectName, f, file.Size, contentTypeFor(file.Name))
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", file.Name, err)
	}

	url, err := s.archive.PresignedURL(ctx, objectName)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", file.Name, err)
	}

	task, err := s.CreateTask(ctx, url, objectName)
	if err != nil {
		return "", err
	}
	logger.Debug(ctx, "extract.task.created", "task_id", task.Data.TaskID, "filename", file.Name)

	outcome, err := s.awaitTask(ctx, task.Data.TaskID)
	if err != nil {
		return "", err
	}
	if outcome.state != "done" {
		return "", fmt.Errorf("extraction failed for %s: %s", file.Name, outcome.errorMsg)
	}

	return s.fetchZipText(ctx, outcome.zipURL)
}

// CreateTask creates a new extraction task
func (s *ExtractionClient) CreateTask(ctx context.Context, fileURL, dataID string) (*ExtractTaskResponse, error) {
	reqBody := ExtractTaskRequest{
		URL:    fileURL,
		DataID: dataID,
	}

	if s.config.CallbackURL != "" {
		reqBody.Callback = s.config.CallbackURL
		reqBody.Seed = s.config.Seed
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/extract/task", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ExtractTaskResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("extraction API error: %s", result.Message)
	}

	return &result, nil
}

// GetTaskStatus queries the status of a task
func (s *ExtractionClient) GetTaskStatus(ctx context.Context, taskID string) (*ExtractTaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ExtractTaskStatus
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("extraction API error: %s", result.Message)
	}

	return &result, nil
}

// awaitTask waits for a task to finish, through the callback channel when
// one arrives first, otherwise by polling.
func (s *ExtractionClient) awaitTask(ctx context.Context, taskID string) (*taskOutcome, error) {
	ch := make(chan taskOutcome, 1)
	s.mu.Lock()
	s.pending[taskID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, taskID)
		s.mu.Unlock()
	}()

	interval := time.Duration(s.config.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.config.PollMaxAttempts; {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out := <-ch:
			return &out, nil
		case <-ticker.C:
			attempt++
			status, err := s.GetTaskStatus(ctx, taskID)
			if err != nil {
				logger.Warn(ctx, "extract.poll.failed", "task_id", taskID, "attempt", attempt, "error", err)
				continue
			}
			switch status.Data.State {
			case "done":
				return &taskOutcome{state: "done", zipURL: status.Data.FullZipURL}, nil
			case "failed":
				return &taskOutcome{state: "failed", errorMsg: status.Data.ErrorMsg}, nil
			}
		}
	}

	return nil, fmt.Errorf("extraction task %s did not finish within %d polls", taskID, s.config.PollMaxAttempts)
}

// Resolve completes a waiting task from the callback path. It reports
// whether anything was waiting on the task.
func (s *ExtractionClient) Resolve(taskID string, status *ExtractTaskStatus) bool {
	s.mu.Lock()
	ch, ok := s.pending[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	out := taskOutcome{
		state:    status.Data.State,
		zipURL:   status.Data.FullZipURL,
		errorMsg: status.Data.ErrorMsg,
	}
	select {
	case ch <- out:
	default:
	}
	return true
}

// VerifyCallback verifies the callback checksum
func (s *ExtractionClient) VerifyCallback(checksum, content, uid string) bool {
	// Checksum = SHA256(uid + seed + content)
	data := uid + s.config.Seed + content
	hash := sha256.Sum256([]byte(data))
	expected := hex.EncodeToString(hash[:])
	return checksum == expected
}

// fetchZipText downloads the result archive and pulls the extracted text
// out of it: the markdown rendition when present, otherwise the text
// blocks of content_list.json.
func (s *ExtractionClient) fetchZipText(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	zipData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read result: %w", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", fmt.Errorf("failed to open result archive: %w", err)
	}

	readEntry := func(f *zip.File) ([]byte, error) {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	for _, file := range zipReader.File {
		if strings.HasSuffix(file.Name, ".md") {
			content, err := readEntry(file)
			if err != nil {
				continue
			}
			return string(content), nil
		}
	}

	for _, file := range zipReader.File {
		if !strings.HasSuffix(file.Name, "content_list.json") {
			continue
		}
		content, err := readEntry(file)
		if err != nil {
			continue
		}
		var blocks []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(content, &blocks); err != nil {
			continue
		}
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n"), nil
	}

	return "", fmt.Errorf("no text content found in result archive")
}
