package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/prefs"
)

// GetPreferences 获取偏好设置
func (h *Handler) GetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.prefs.Snapshot()})
}

// UpdatePreferences 部分更新偏好设置
// PUT /api/preferences
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var patch prefs.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.prefs.Apply(c.Request.Context(), patch); err != nil {
		if errors.Is(err, prefs.ErrInvalidDitherAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to update preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save preferences"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.prefs.Snapshot()})
}
