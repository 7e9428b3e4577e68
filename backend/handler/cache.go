package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/service"
)

// CacheHandler exposes the analysis cache: browsing, searching and
// explicit eviction. Eviction here is the only way cached cases leave
// the store.
type CacheHandler struct {
	cache    *service.CaseCache
	exporter *service.ExportService
}

func NewCacheHandler(cache *service.CaseCache, exporter *service.ExportService) *CacheHandler {
	return &CacheHandler{
		cache:    cache,
		exporter: exporter,
	}
}

// List returns all cached cases, most recently accessed first.
func (h *CacheHandler) List(c *gin.Context) {
	rows := h.cache.List()
	c.JSON(http.StatusOK, gin.H{"cases": rows, "total": len(rows)})
}

// Search matches the query against case names, numbers, parties, court
// and file names.
func (h *CacheHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter is required"})
		return
	}
	rows := h.cache.Search(query)
	c.JSON(http.StatusOK, gin.H{"cases": rows, "total": len(rows), "query": query})
}

// Stats summarizes the cache contents.
func (h *CacheHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// GetCase returns a cached analysis directly by case ID. With a format
// query it streams the rendered report instead.
func (h *CacheHandler) GetCase(c *gin.Context) {
	caseID := c.Param("case_id")

	record, err := h.cache.Get(caseID)
	if err != nil {
		respondError(c, err)
		return
	}

	if format := c.Query("format"); format != "" {
		artifact, err := h.exporter.Render(record, format)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
		c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
		return
	}

	c.JSON(http.StatusOK, gin.H{"case_id": caseID, "results": record})
}

// DeleteCase evicts one case from the cache.
func (h *CacheHandler) DeleteCase(c *gin.Context) {
	if err := h.cache.Remove(c.Param("case_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Case removed from cache"})
}

// Clear evicts cases not accessed within the given number of days
// (default 30).
func (h *CacheHandler) Clear(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a number"})
		return
	}

	removed, err := h.cache.ClearOlderThan(days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "days": days})
}
