package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/service"
)

// ExportHandler serves rendered reports for completed jobs.
type ExportHandler struct {
	orchestrator *service.Orchestrator
	exporter     *service.ExportService
}

func NewExportHandler(orch *service.Orchestrator, exporter *service.ExportService) *ExportHandler {
	return &ExportHandler{
		orchestrator: orch,
		exporter:     exporter,
	}
}

// Export streams the report in the requested format as an attachment.
// Default format is excel.
func (h *ExportHandler) Export(c *gin.Context) {
	jobID := c.Param("job_id")
	format := c.DefaultQuery("format", service.FormatExcel)

	record, _, err := h.orchestrator.GetResults(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	artifact, err := h.exporter.Render(record, format)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// DownloadExcel serves the persisted Excel artifact, rendering it first
// if it is not on disk yet.
func (h *ExportHandler) DownloadExcel(c *gin.Context) {
	h.download(c, service.FormatExcel)
}

// DownloadJSON serves the persisted JSON artifact.
func (h *ExportHandler) DownloadJSON(c *gin.Context) {
	h.download(c, service.FormatJSON)
}

func (h *ExportHandler) download(c *gin.Context, format string) {
	jobID := c.Param("job_id")

	record, _, err := h.orchestrator.GetResults(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	path, err := h.exporter.EnsureArtifact(c.Request.Context(), record, format)
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, service.ExportFilename(record.CaseID, format))
}
