package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/service"
)

// SummaryHandler manages the markdown narratives stored per case.
type SummaryHandler struct {
	summaries *service.SummaryStore
}

func NewSummaryHandler(summaries *service.SummaryStore) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// List returns metadata for every stored narrative.
func (h *SummaryHandler) List(c *gin.Context) {
	infos, err := h.summaries.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": infos, "total": len(infos)})
}

// Get returns the narrative for one case.
func (h *SummaryHandler) Get(c *gin.Context) {
	caseID := c.Param("case_id")
	content, err := h.summaries.Get(caseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": caseID, "content": content})
}

type saveSummaryRequest struct {
	Content string `json:"content" binding:"required"`
}

// Save stores a narrative, replacing any existing one for the case.
func (h *SummaryHandler) Save(c *gin.Context) {
	caseID := c.Param("case_id")

	var req saveSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	if err := h.summaries.Save(caseID, req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": caseID, "message": "Summary saved"})
}

// Delete removes the narrative for one case.
func (h *SummaryHandler) Delete(c *gin.Context) {
	if err := h.summaries.Delete(c.Param("case_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Summary deleted"})
}
