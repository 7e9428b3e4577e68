package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/service"
)

// JobHandler exposes the job lifecycle: upload, analyze, status, results
// and the status event stream.
type JobHandler struct {
	orchestrator *service.Orchestrator
	bus          *service.EventBus
}

func NewJobHandler(orch *service.Orchestrator, bus *service.EventBus) *JobHandler {
	return &JobHandler{
		orchestrator: orch,
		bus:          bus,
	}
}

// Upload accepts multipart documents under the "files" field and creates
// a job. Invalid files are skipped and reported; the request fails only
// when nothing usable was sent.
func (h *JobHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}

	uploads := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload " + fh.Filename})
			return
		}
		defer f.Close()
		uploads = append(uploads, service.UploadedFile{Name: fh.Filename, Reader: f})
	}

	job, skipped, err := h.orchestrator.CreateJob(c.Request.Context(), uploads)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) && len(skipped) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "skipped_files": skipped})
			return
		}
		respondError(c, err)
		return
	}

	message := "Files uploaded successfully. Start the analysis when ready."
	if job.CacheHit {
		message = "Documents match a previously analyzed case. Results are available immediately."
	}
	resp := gin.H{
		"job_id":           job.ID,
		"status":           job.Status,
		"files_uploaded":   len(job.Files),
		"cached":           job.CacheHit,
		"instant_results":  job.CacheHit,
		"result_available": job.Status == model.StatusCompleted,
		"message":          message,
	}
	if len(skipped) > 0 {
		resp["skipped_files"] = skipped
	}
	c.JSON(http.StatusOK, resp)
}

// Analyze starts the pipeline for an uploaded job. Calling it for a job
// whose results already exist answers 200 instead of a conflict.
func (h *JobHandler) Analyze(c *gin.Context) {
	jobID := c.Param("job_id")

	job, started, err := h.orchestrator.StartAnalysis(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	if !started {
		c.JSON(http.StatusOK, gin.H{
			"job_id":  job.ID,
			"status":  job.Status,
			"cached":  true,
			"message": "Analysis already completed",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"cached":  false,
		"message": "Analysis started",
	})
}

// Status returns the job's progress snapshot.
func (h *JobHandler) Status(c *gin.Context) {
	job, err := h.orchestrator.GetStatus(c.Param("job_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"job_id":          job.ID,
		"status":          job.Status,
		"progress":        job.Progress,
		"current_step":    job.CurrentStep,
		"completed_steps": job.CompletedSteps,
		"cache_hit":       job.CacheHit,
		"created_at":      job.CreatedAt.Format(time.RFC3339),
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	c.JSON(http.StatusOK, resp)
}

// Results returns the full analysis for a completed job together with
// download locations for the rendered reports.
func (h *JobHandler) Results(c *gin.Context) {
	jobID := c.Param("job_id")

	record, job, err := h.orchestrator.GetResults(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":    job.ID,
		"case_id":   record.CaseID,
		"cache_hit": job.CacheHit,
		"results":   record,
		"downloads": gin.H{
			"excel": "/api/download/excel/" + job.ID,
			"json":  "/api/download/json/" + job.ID,
			"pdf":   "/api/export/" + job.ID + "?format=pdf",
		},
	})
}

// List returns all jobs, newest first.
func (h *JobHandler) List(c *gin.Context) {
	jobs := h.orchestrator.ListJobs()

	result := make([]gin.H, len(jobs))
	for i, job := range jobs {
		names := make([]string, len(job.Files))
		for j, f := range job.Files {
			names[j] = f.Name
		}
		item := gin.H{
			"job_id":     job.ID,
			"status":     job.Status,
			"progress":   job.Progress,
			"files":      names,
			"cache_hit":  job.CacheHit,
			"created_at": job.CreatedAt.Format(time.RFC3339),
			"updated_at": job.UpdatedAt.Format(time.RFC3339),
		}
		if job.Error != "" {
			item["error"] = job.Error
		}
		result[i] = item
	}
	c.JSON(http.StatusOK, gin.H{"jobs": result, "total": len(result)})
}

// Delete removes a job and its uploaded files.
func (h *JobHandler) Delete(c *gin.Context) {
	if err := h.orchestrator.DeleteJob(c.Request.Context(), c.Param("job_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job deleted"})
}

// Retry resets a failed job so analysis can be started again.
func (h *JobHandler) Retry(c *gin.Context) {
	job, err := h.orchestrator.Retry(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Job reset. Start the analysis again.",
	})
}

// Events streams job status snapshots as server-sent events until the
// job reaches a terminal status or the client goes away.
func (h *JobHandler) Events(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.orchestrator.GetStatus(jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	ch, cancel := h.bus.Subscribe(jobID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Current snapshot first, so subscribers joining late start from the
	// state the job is actually in.
	c.SSEvent("status", job.Snapshot())
	c.Writer.Flush()
	if job.Terminal() {
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return ev.Status != model.StatusCompleted && ev.Status != model.StatusFailed
		}
	})
}
