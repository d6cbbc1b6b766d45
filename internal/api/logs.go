package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/filewarden/internal/activity"
)

const defaultLogLimit = 100

// LogHandler serves the activity log.
type LogHandler struct {
	log *activity.Log
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(log *activity.Log) *LogHandler {
	return &LogHandler{log: log}
}

// Register mounts GET /logs.
func (h *LogHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/logs", h.List)
}

// List handles GET /logs?limit=N. limit=0 returns everything retained.
func (h *LogHandler) List(c *gin.Context) {
	limit := defaultLogLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries := h.log.Entries(limit)
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
