package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/pkg/logger"
)

// DocumentProcessor turns a job's uploaded files into extracted text.
type DocumentProcessor interface {
	Process(ctx context.Context, jobID, dir string, files []model.FileInfo) (*ExtractionResult, error)
}

// AnalysisPipeline turns extracted text into the case analysis.
type AnalysisPipeline interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error)
}

// JobCleaner removes a deleted job's mirrored documents from the archive.
type JobCleaner interface {
	RemovePrefix(ctx context.Context, jobID string) error
}

// UploadedFile is one incoming document.
type UploadedFile struct {
	Name   string
	Reader io.Reader
}

// SkippedFile reports an upload rejected during validation. The job is
// still created as long as at least one file passes.
type SkippedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

var allowedUploadExts = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Orchestrator owns the job lifecycle: it validates uploads, probes the
// cache, and drives extraction and analysis on background goroutines. At
// most Analysis.MaxConcurrentJobs analyses run at once; the rest wait in
// the extracting state.
type Orchestrator struct {
	config    *config.Config
	store     JobStore
	cache     *CaseCache
	summaries *SummaryStore
	extractor DocumentProcessor
	analyzer  AnalysisPipeline
	exporter  *ExportService
	cleaner   JobCleaner // nil when no archive is attached

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewOrchestrator(
	cfg *config.Config,
	store JobStore,
	cache *CaseCache,
	summaries *SummaryStore,
	extractor DocumentProcessor,
	analyzer AnalysisPipeline,
	exporter *ExportService,
	cleaner JobCleaner,
) *Orchestrator {
	maxJobs := cfg.Analysis.MaxConcurrentJobs
	if maxJobs < 1 {
		maxJobs = 1
	}
	return &Orchestrator{
		config:    cfg,
		store:     store,
		cache:     cache,
		summaries: summaries,
		extractor: extractor,
		analyzer:  analyzer,
		exporter:  exporter,
		cleaner:   cleaner,
		sem:       semaphore.NewWeighted(int64(maxJobs)),
	}
}

// CreateJob validates and stores an upload. Files that fail validation
// are skipped and reported; the call errors only when nothing passes.
// When the cache already holds an analysis for the same document set the
// job completes immediately without touching the pipeline.
func (o *Orchestrator) CreateJob(ctx context.Context, uploads []UploadedFile) (*model.Job, []SkippedFile, error) {
	if len(uploads) == 0 {
		return nil, nil, model.NewValidationError("no files in upload")
	}
	if maxFiles := o.config.Storage.MaxFilesPerJob; maxFiles > 0 && len(uploads) > maxFiles {
		return nil, nil, model.NewValidationError("too many files: %d exceeds the limit of %d", len(uploads), maxFiles)
	}

	jobID := uuid.New().String()
	dir := o.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, &model.StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	maxSize := o.config.Storage.MaxFileSizeBytes()
	var files []model.FileInfo
	var digests []FileDigest
	var skipped []SkippedFile
	seen := make(map[string]bool)

	for _, up := range uploads {
		name := filepath.Base(strings.TrimSpace(up.Name))
		if name == "" || name == "." || name == string(filepath.Separator) {
			skipped = append(skipped, SkippedFile{Filename: up.Name, Reason: "invalid filename"})
			continue
		}
		if seen[name] {
			skipped = append(skipped, SkippedFile{Filename: name, Reason: "duplicate filename"})
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !allowedUploadExts[ext] {
			skipped = append(skipped, SkippedFile{Filename: name, Reason: fmt.Sprintf("unsupported file type %s", ext)})
			continue
		}

		size, digest, err := o.saveUpload(dir, name, up.Reader, maxSize)
		if err != nil {
			skipped = append(skipped, SkippedFile{Filename: name, Reason: err.Error()})
			continue
		}

		seen[name] = true
		files = append(files, model.FileInfo{Name: name, Size: size, ContentType: contentTypeFor(name)})
		digests = append(digests, FileDigest{Name: name, SHA256: digest})
	}

	if len(files) == 0 {
		os.RemoveAll(dir)
		return nil, skipped, model.NewValidationError("no valid files to process")
	}

	job := &model.Job{
		ID:          jobID,
		Status:      model.StatusUploaded,
		CurrentStep: model.StepUploaded,
		Files:       files,
		Fingerprint: ComputeFingerprint(digests),
	}
	if err := o.store.Create(job); err != nil {
		os.RemoveAll(dir)
		return nil, skipped, err
	}
	logger.Info(ctx, "job.created", "job_id", jobID, "files", len(files), "skipped", len(skipped))

	if caseID, ok := o.probeCache(job); ok {
		completed, err := o.store.Complete(jobID, model.StatusUploaded, caseID, true)
		if err == nil {
			logger.Info(ctx, "job.cache_hit", "job_id", jobID, "case_id", caseID)
			return completed, skipped, nil
		}
		logger.Warn(ctx, "job.cache_hit.complete_failed", "job_id", jobID, "error", err)
	}

	created, err := o.store.Get(jobID)
	if err != nil {
		return nil, skipped, err
	}
	return created, skipped, nil
}

// saveUpload streams one file to the job directory, hashing as it goes.
func (o *Orchestrator) saveUpload(dir, name string, r io.Reader, maxSize int64) (int64, string, error) {
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("could not store file")
	}

	h := sha256.New()
	limit := io.LimitReader(r, maxSize+1)
	n, err := io.Copy(io.MultiWriter(dst, h), limit)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, "", fmt.Errorf("could not store file")
	}
	if n == 0 {
		os.Remove(path)
		return 0, "", fmt.Errorf("file is empty")
	}
	if n > maxSize {
		os.Remove(path)
		return 0, "", fmt.Errorf("file exceeds the %dMB size limit", o.config.Storage.MaxFileSizeMB)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// probeCache looks for an existing analysis of the same document set:
// first by content fingerprint, then by the normalized file name set.
// A hit counts only when the record itself is still readable.
func (o *Orchestrator) probeCache(job *model.Job) (string, bool) {
	if caseID, ok := o.cache.MatchFingerprint(job.Fingerprint); ok {
		if _, err := o.cache.Peek(caseID); err == nil {
			return caseID, true
		}
	}
	names := make([]string, 0, len(job.Files))
	for _, f := range job.Files {
		names = append(names, f.Name)
	}
	if caseID, ok := o.cache.MatchNames(names); ok {
		if _, err := o.cache.Peek(caseID); err == nil {
			return caseID, true
		}
	}
	return "", false
}

// StartAnalysis moves an uploaded job into the pipeline. The returned
// flag is false when no run was started because the results already
// exist: either the job is completed, or the cache matched during the
// probe and the job was completed on the spot.
func (o *Orchestrator) StartAnalysis(ctx context.Context, jobID string) (*model.Job, bool, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status == model.StatusCompleted {
		return job, false, nil
	}

	if job.Status == model.StatusUploaded {
		if caseID, ok := o.probeCache(job); ok {
			completed, err := o.store.Complete(jobID, model.StatusUploaded, caseID, true)
			if err == nil {
				logger.Info(ctx, "job.cache_hit", "job_id", jobID, "case_id", caseID)
				return completed, false, nil
			}
			// Lost the race to another caller; fall through to the CAS.
		}
	}

	started, err := o.store.Transition(jobID, model.StatusUploaded, model.StatusExtracting)
	if err != nil {
		return nil, false, err
	}

	o.wg.Add(1)
	go o.run(jobID, started.Fingerprint, started.Files)

	return started, true, nil
}

// run executes the pipeline for one job. It owns all progress and status
// writes for the run; collaborators report progress only through the
// callback handed to them.
func (o *Orchestrator) run(jobID, fingerprint string, files []model.FileInfo) {
	defer o.wg.Done()

	ctx := context.WithValue(context.Background(), logger.JobIDKey, jobID)
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failJob(ctx, jobID, fmt.Errorf("analysis slot unavailable: %w", err))
		return
	}
	defer o.sem.Release(1)

	started := time.Now()
	o.store.SetProgress(jobID, 10, model.StepStarting)
	o.store.AppendStep(jobID, model.MarkDocumentProcessing)

	o.store.SetProgress(jobID, 20, model.StepExtracting)
	extraction, err := o.extractor.Process(ctx, jobID, o.jobDir(jobID), files)
	if err != nil {
		o.failJob(ctx, jobID, &model.PipelineError{Stage: "extraction", Err: err})
		return
	}
	o.store.AppendStep(jobID, model.MarkTextExtraction)

	if _, err := o.store.Transition(jobID, model.StatusExtracting, model.StatusAnalyzing); err != nil {
		// The job was deleted or failed externally while extracting.
		logger.Warn(ctx, "job.run.lost", "job_id", jobID, "error", err)
		return
	}

	analysis, err := o.analyzer.Analyze(ctx, &AnalysisRequest{
		JobID: jobID,
		Texts: extraction.Texts,
		Progress: func(percent int, step string) {
			o.store.SetProgress(jobID, percent, step)
		},
	})
	if err != nil {
		o.failJob(ctx, jobID, &model.PipelineError{Stage: "analysis", Err: err})
		return
	}
	o.store.AppendStep(jobID, model.MarkAIAnalysis)

	o.store.SetProgress(jobID, 90, model.StepSavingResults)
	record := &model.CaseRecord{
		CaseID:            fingerprint,
		CaseSummary:       analysis.CaseSummary,
		DocumentSummaries: analysis.DocumentSummaries,
		Events:            analysis.Events,
		Recommendations:   analysis.Recommendations,
		ExtractionStats:   extraction.Stats,
		CompletedAt:       time.Now().UTC().Truncate(time.Second),
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	if err := o.cache.Put(record, fingerprint, names); err != nil {
		o.failJob(ctx, jobID, err)
		return
	}
	if err := o.summaries.Save(record.CaseID, RenderNarrative(record)); err != nil {
		o.failJob(ctx, jobID, err)
		return
	}
	if o.exporter != nil {
		if err := o.exporter.WriteArtifacts(ctx, record); err != nil {
			// Downloads re-render on demand, so a failed artifact write
			// does not fail the job.
			logger.Warn(ctx, "job.artifacts.failed", "job_id", jobID, "error", err)
		}
	}
	o.store.AppendStep(jobID, model.MarkGeneratingReport)

	if _, err := o.store.Complete(jobID, model.StatusAnalyzing, record.CaseID, false); err != nil {
		logger.Warn(ctx, "job.run.lost", "job_id", jobID, "error", err)
		return
	}
	logger.Info(ctx, "job.completed",
		"job_id", jobID,
		"case_id", record.CaseID,
		"documents", len(record.DocumentSummaries),
		"events", len(record.Events),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
}

// failJob records a pipeline failure. The job keeps the progress it had
// and the error message exactly as the collaborator produced it.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	logger.Error(ctx, "job.failed", "job_id", jobID, "error", cause)
	if _, err := o.store.Fail(jobID, cause.Error()); err != nil {
		logger.Warn(ctx, "job.fail.not_recorded", "job_id", jobID, "error", err)
	}
}

// GetStatus returns the job snapshot. Never blocks on a running analysis.
func (o *Orchestrator) GetStatus(jobID string) (*model.Job, error) {
	return o.store.Get(jobID)
}

// ListJobs returns all jobs, newest first.
func (o *Orchestrator) ListJobs() []*model.Job {
	return o.store.List()
}

// GetResults returns the cached record for a completed job.
func (o *Orchestrator) GetResults(ctx context.Context, jobID string) (*model.CaseRecord, *model.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, nil, &model.InvalidStateError{JobID: jobID, Status: job.Status, Op: "get results"}
	}
	record, err := o.cache.Get(job.CaseID)
	if err != nil {
		return nil, nil, err
	}
	return record, job, nil
}

// Retry moves a failed job back to uploaded with a clean slate. The files
// stay where they are; the client starts the analysis again explicitly.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := o.store.Transition(jobID, model.StatusFailed, model.StatusUploaded)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "job.retry", "job_id", jobID)
	return job, nil
}

// DeleteJob removes the job, its uploaded files and its archived objects.
// Cached analysis results survive; they belong to the case, not the job.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	if err := o.store.Delete(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(o.jobDir(jobID)); err != nil {
		logger.Warn(ctx, "job.delete.files", "job_id", jobID, "error", err)
	}
	if o.cleaner != nil {
		if err := o.cleaner.RemovePrefix(ctx, jobID); err != nil {
			logger.Warn(ctx, "job.delete.archive", "job_id", jobID, "error", err)
		}
	}
	logger.Info(ctx, "job.deleted", "job_id", jobID)
	return nil
}

// Wait blocks until every background run finishes or ctx expires. Used
// by graceful shutdown.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) jobDir(jobID string) string {
	return filepath.Join(o.config.Storage.UploadDir, jobID)
}
