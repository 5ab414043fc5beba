package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusHandler implements GET /api/status.
type StatusHandler struct {
	version string
}

// NewStatusHandler builds a StatusHandler reporting version.
func NewStatusHandler(version string) *StatusHandler {
	return &StatusHandler{version: version}
}

// Get handles GET /api/status.
func (h *StatusHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.version})
}
