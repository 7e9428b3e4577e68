package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/pkg/logger"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/service"
)

// CallbackHandler receives completion callbacks from the extraction
// service and resolves the task a pipeline run is waiting on. A callback
// for a task nobody waits on (already resolved by polling, or a replay)
// is acknowledged and dropped.
type CallbackHandler struct {
	extractor *service.ExtractionClient
}

func NewCallbackHandler(extractor *service.ExtractionClient) *CallbackHandler {
	return &CallbackHandler{extractor: extractor}
}

type CallbackRequest struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

type CallbackContent struct {
	TaskID     string `json:"task_id"`
	DataID     string `json:"data_id"`
	State      string `json:"state"`
	FullZipURL string `json:"full_zip_url"`
	ErrorMsg   string `json:"err_msg"`
}

// HandleCallback verifies and applies one extraction callback.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var content CallbackContent
	if err := json.Unmarshal([]byte(req.Content), &content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content format"})
		return
	}
	if content.TaskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing task_id"})
		return
	}

	if !h.extractor.VerifyCallback(req.Checksum, req.Content, content.DataID) {
		logger.Warn(c.Request.Context(), "extract.callback.bad_checksum", "task_id", content.TaskID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid checksum"})
		return
	}

	var status service.ExtractTaskStatus
	status.Data.TaskID = content.TaskID
	status.Data.DataID = content.DataID
	status.Data.State = content.State
	status.Data.FullZipURL = content.FullZipURL
	status.Data.ErrorMsg = content.ErrorMsg

	matched := h.extractor.Resolve(content.TaskID, &status)
	logger.Debug(c.Request.Context(), "extract.callback.received",
		"task_id", content.TaskID,
		"state", content.State,
		"matched", matched,
	)

	c.JSON(http.StatusOK, gin.H{"message": "Callback received", "matched": matched})
}
