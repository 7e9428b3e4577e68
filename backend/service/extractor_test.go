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
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
)

// fakeArchive keeps uploads in memory and presigns against a test server.
type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

func newFakeArchive(baseURL string) *fakeArchive {
	return &fakeArchive{objects: make(map[string][]byte), baseURL: baseURL}
}

func (f *fakeArchive) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[objectName] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeArchive) PresignedURL(ctx context.Context, objectName string) (string, error) {
	return f.baseURL + "/signed/" + objectName, nil
}

func zipWithFile(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("Failed to create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write zip entry: %v", err)
	}
	zw.Close()
	return buf.Bytes()
}

// extractionServer fakes the external extraction API: task creation,
// status polling and result download.
type extractionServer struct {
	mu     sync.Mutex
	tasks  map[string]string // task ID -> object name
	nextID int
	server *httptest.Server
}

func newExtractionServer(t *testing.T) *extractionServer {
	t.Helper()
	es := &extractionServer{tasks: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("/extract/task", func(w http.ResponseWriter, r *http.Request) {
		var req ExtractTaskRequest
		json.NewDecoder(r.Body).Decode(&req)

		es.mu.Lock()
		es.nextID++
		taskID := fmt.Sprintf("task-%d", es.nextID)
		es.tasks[taskID] = req.DataID
		es.mu.Unlock()

		resp := ExtractTaskResponse{Code: 0}
		resp.Data.TaskID = taskID
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/extract/task/", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/extract/task/")
		es.mu.Lock()
		objectName := es.tasks[taskID]
		es.mu.Unlock()

		resp := ExtractTaskStatus{Code: 0}
		resp.Data.TaskID = taskID
		if strings.Contains(objectName, "unreadable") {
			resp.Data.State = "failed"
			resp.Data.ErrorMsg = "page render failed"
		} else {
			resp.Data.State = "done"
			resp.Data.FullZipURL = es.server.URL + "/result/" + taskID
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/result/", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/result/")
		es.mu.Lock()
		objectName := es.tasks[taskID]
		es.mu.Unlock()

		if strings.Contains(objectName, "empty") {
			w.Write(zipWithFile(t, "full.md", "   \n"))
			return
		}
		w.Write(zipWithFile(t, "full.md", "Extracted text of "+objectName))
	})

	es.server = httptest.NewServer(mux)
	t.Cleanup(es.server.Close)
	return es
}

func testExtractorConfig(apiURL string) *config.ExtractorConfig {
	return &config.ExtractorConfig{
		APIURL:              apiURL,
		APIToken:            "test-token",
		PollIntervalSeconds: 1,
		PollMaxAttempts:     10,
	}
}

func writeUploadFiles(t *testing.T, dir string, names ...string) []model.FileInfo {
	t.Helper()
	var files []model.FileInfo
	for _, name := range names {
		content := []byte("binary content of " + name)
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		files = append(files, model.FileInfo{Name: name, Size: int64(len(content))})
	}
	return files
}

func TestNewExtractionClient(t *testing.T) {
	cfg := testExtractorConfig("https://extract.test")
	svc := NewExtractionClient(cfg, newFakeArchive("https://archive.test"), 0)
	if svc == nil {
		t.Fatal("Expected non-nil client")
	}
	if svc.workers != 1 {
		t.Errorf("Expected workers floor of 1, got %d", svc.workers)
	}
	if svc.httpClient == nil {
		t.Error("Expected httpClient to be set")
	}
}

func TestExtractionClientCreateTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/extract/task" {
			t.Errorf("Expected /extract/task, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("Expected Authorization header")
		}

		resp := ExtractTaskResponse{Code: 0, Message: "success"}
		resp.Data.TaskID = "task-123"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	resp, err := svc.CreateTask(context.Background(), "http://example.com/doc.pdf", "job-1/doc.pdf")

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Data.TaskID != "task-123" {
		t.Errorf("Expected task ID 'task-123', got '%s'", resp.Data.TaskID)
	}
}

func TestExtractionClientCreateTaskWithCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody ExtractTaskRequest
		json.NewDecoder(r.Body).Decode(&reqBody)

		if reqBody.Callback != "http://callback.test" {
			t.Errorf("Expected callback URL, got '%s'", reqBody.Callback)
		}
		if reqBody.Seed != "test-seed" {
			t.Errorf("Expected seed, got '%s'", reqBody.Seed)
		}

		resp := ExtractTaskResponse{Code: 0}
		resp.Data.TaskID = "task-456"
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := testExtractorConfig(server.URL)
	cfg.CallbackURL = "http://callback.test"
	cfg.Seed = "test-seed"

	svc := NewExtractionClient(cfg, nil, 1)
	if _, err := svc.CreateTask(context.Background(), "http://example.com/doc.pdf", "job-1/doc.pdf"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestExtractionClientCreateTaskError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExtractTaskResponse{Code: 1, Message: "API error"})
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	if _, err := svc.CreateTask(context.Background(), "http://example.com/doc.pdf", "d1"); err == nil {
		t.Error("Expected error for API error response")
	}
}

func TestExtractionClientCreateTaskNetworkError(t *testing.T) {
	svc := NewExtractionClient(testExtractorConfig("http://invalid-host-that-does-not-exist:9999"), nil, 1)
	if _, err := svc.CreateTask(context.Background(), "http://example.com/doc.pdf", "d1"); err == nil {
		t.Error("Expected error for network failure")
	}
}

func TestExtractionClientGetTaskStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/extract/task/task-123" {
			t.Errorf("Expected /extract/task/task-123, got %s", r.URL.Path)
		}

		resp := ExtractTaskStatus{Code: 0}
		resp.Data.TaskID = "task-123"
		resp.Data.State = "done"
		resp.Data.FullZipURL = "http://example.com/result.zip"
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	status, err := svc.GetTaskStatus(context.Background(), "task-123")

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status.Data.State != "done" {
		t.Errorf("Expected state 'done', got '%s'", status.Data.State)
	}
	if status.Data.FullZipURL != "http://example.com/result.zip" {
		t.Errorf("Expected zip URL, got '%s'", status.Data.FullZipURL)
	}
}

func TestExtractionClientGetTaskStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExtractTaskStatus{Code: 1, Message: "Task not found"})
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	if _, err := svc.GetTaskStatus(context.Background(), "invalid-task"); err == nil {
		t.Error("Expected error for API error response")
	}
}

func TestExtractionClientVerifyCallback(t *testing.T) {
	cfg := testExtractorConfig("https://extract.test")
	cfg.Seed = "test-seed"
	svc := NewExtractionClient(cfg, nil, 1)

	// Checksum = SHA256(uid + seed + content)
	sum := sha256.Sum256([]byte("test-uid" + "test-seed" + "test-content"))
	valid := hex.EncodeToString(sum[:])

	if !svc.VerifyCallback(valid, "test-content", "test-uid") {
		t.Error("Expected valid checksum to verify")
	}
	if svc.VerifyCallback("invalid-checksum", "test-content", "test-uid") {
		t.Error("Expected false for invalid checksum")
	}
}

func TestExtractionClientResolveFastPath(t *testing.T) {
	// A waiting task must complete through Resolve without a single poll.
	cfg := testExtractorConfig("http://invalid-host-that-does-not-exist:9999")
	cfg.PollIntervalSeconds = 30
	svc := NewExtractionClient(cfg, nil, 1)

	type result struct {
		outcome *taskOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		out, err := svc.awaitTask(context.Background(), "task-cb")
		done <- result{out, err}
	}()

	// Wait for the task to register
	deadline := time.Now().Add(time.Second)
	for {
		svc.mu.Lock()
		_, registered := svc.pending["task-cb"]
		svc.mu.Unlock()
		if registered || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	status := &ExtractTaskStatus{}
	status.Data.TaskID = "task-cb"
	status.Data.State = "done"
	status.Data.FullZipURL = "http://example.com/result.zip"
	if !svc.Resolve("task-cb", status) {
		t.Fatal("Expected Resolve to find the waiting task")
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("awaitTask failed: %v", res.err)
		}
		if res.outcome.state != "done" || res.outcome.zipURL != "http://example.com/result.zip" {
			t.Errorf("Unexpected outcome: %+v", res.outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Callback resolution did not unblock the waiting task")
	}

	if svc.Resolve("task-unknown", status) {
		t.Error("Expected Resolve to report false for an unknown task")
	}
}

func TestExtractionClientProcess(t *testing.T) {
	es := newExtractionServer(t)
	archive := newFakeArchive(es.server.URL)
	svc := NewExtractionClient(testExtractorConfig(es.server.URL), archive, 2)

	dir := t.TempDir()
	files := writeUploadFiles(t, dir, "complaint.pdf", "answer.pdf")

	result, err := svc.Process(context.Background(), "job-1", dir, files)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(result.Texts) != 2 {
		t.Fatalf("Expected 2 extracted texts, got %d", len(result.Texts))
	}
	// Results keep the input file order
	if result.Texts[0].Filename != "complaint.pdf" || result.Texts[1].Filename != "answer.pdf" {
		t.Errorf("Results out of order: %s, %s", result.Texts[0].Filename, result.Texts[1].Filename)
	}
	if !strings.Contains(result.Texts[0].Content, "job-1/complaint.pdf") {
		t.Errorf("Unexpected content: %q", result.Texts[0].Content)
	}
	if result.Stats.SuccessCount != 2 || result.Stats.ErrorCount != 0 {
		t.Errorf("Unexpected stats: %+v", result.Stats)
	}

	// Files were mirrored to the archive under the job prefix
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if _, ok := archive.objects["job-1/complaint.pdf"]; !ok {
		t.Error("Expected complaint.pdf archived under job prefix")
	}
}

func TestExtractionClientProcessPartialFailure(t *testing.T) {
	es := newExtractionServer(t)
	archive := newFakeArchive(es.server.URL)
	svc := NewExtractionClient(testExtractorConfig(es.server.URL), archive, 2)

	dir := t.TempDir()
	files := writeUploadFiles(t, dir, "good.pdf", "unreadable.pdf", "empty.pdf")

	result, err := svc.Process(context.Background(), "job-2", dir, files)
	if err != nil {
		t.Fatalf("Process should tolerate partial failure, got %v", err)
	}

	if result.Stats.SuccessCount != 1 || result.Stats.ErrorCount != 2 {
		t.Fatalf("Expected 1 success and 2 errors, got %+v", result.Stats)
	}

	byName := make(map[string]model.FileProcessed)
	for _, fp := range result.Stats.FilesProcessed {
		byName[fp.Filename] = fp
	}
	if byName["good.pdf"].Status != "success" {
		t.Errorf("Expected good.pdf success, got %+v", byName["good.pdf"])
	}
	if byName["unreadable.pdf"].Status != "error" || !strings.Contains(byName["unreadable.pdf"].Error, "page render failed") {
		t.Errorf("Expected unreadable.pdf error with service message, got %+v", byName["unreadable.pdf"])
	}
	if byName["empty.pdf"].Status != "no_text_found" {
		t.Errorf("Expected empty.pdf no_text_found, got %+v", byName["empty.pdf"])
	}
}

func TestExtractionClientProcessAllFailed(t *testing.T) {
	es := newExtractionServer(t)
	archive := newFakeArchive(es.server.URL)
	svc := NewExtractionClient(testExtractorConfig(es.server.URL), archive, 2)

	dir := t.TempDir()
	files := writeUploadFiles(t, dir, "unreadable-1.pdf", "unreadable-2.pdf")

	if _, err := svc.Process(context.Background(), "job-3", dir, files); err == nil {
		t.Error("Expected error when no file yields text")
	}
}

func TestExtractionClientProcessNoFiles(t *testing.T) {
	svc := NewExtractionClient(testExtractorConfig("https://extract.test"), nil, 1)
	if _, err := svc.Process(context.Background(), "job-4", t.TempDir(), nil); err == nil {
		t.Error("Expected error for empty file list")
	}
}

func TestExtractionClientProcessMissingFile(t *testing.T) {
	es := newExtractionServer(t)
	archive := newFakeArchive(es.server.URL)
	svc := NewExtractionClient(testExtractorConfig(es.server.URL), archive, 1)

	files := []model.FileInfo{{Name: "ghost.pdf", Size: 10}}
	if _, err := svc.Process(context.Background(), "job-5", t.TempDir(), files); err == nil {
		t.Error("Expected error when the only file is unreadable on disk")
	}
}

func TestFetchZipTextPrefersMarkdown(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	md, _ := zw.Create("output/full.md")
	md.Write([]byte("# Extracted\n\nMarkdown body"))
	cl, _ := zw.Create("output/content_list.json")
	cl.Write([]byte(`[{"text":"block one"},{"text":"block two"}]`))
	zw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	text, err := svc.fetchZipText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(text, "Markdown body") {
		t.Errorf("Expected markdown content, got %q", text)
	}
}

func TestFetchZipTextContentListFallback(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	cl, _ := zw.Create("content_list.json")
	cl.Write([]byte(`[{"text":"block one"},{"text":""},{"text":"block two"}]`))
	zw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	text, err := svc.fetchZipText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if text != "block one\nblock two" {
		t.Errorf("Expected joined blocks, got %q", text)
	}
}

func TestFetchZipTextInvalidZip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip file"))
	}))
	defer server.Close()

	svc := NewExtractionClient(testExtractorConfig(server.URL), nil, 1)
	if _, err := svc.fetchZipText(context.Background(), server.URL); err == nil {
		t.Error("Expected error for invalid ZIP")
	}
}
