package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/models"
	"github.com/langchou/chargekeeper/internal/service"
)

// exportRequest 导出请求
type exportRequest struct {
	Path string `json:"path" binding:"required"`
	From string `json:"from"`
	To   string `json:"to"`
}

// ListCharges 获取充电列表
// GET /api/charges?from=&to=
func (h *Handler) ListCharges(c *gin.Context) {
	period, err := parsePeriod(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	charges := h.store.Load(period)
	c.JSON(http.StatusOK, gin.H{
		"data":  charges,
		"total": len(charges),
	})
}

// AppendCharge 追加一条充电记录
// POST /api/charges
func (h *Handler) AppendCharge(c *gin.Context) {
	var cycle models.ChargeCycle
	if err := c.ShouldBindJSON(&cycle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid charge cycle"})
		return
	}
	if cycle.StartTime <= 0 || cycle.EndTime < cycle.StartTime {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid charge time range"})
		return
	}

	h.store.Append(cycle)
	c.JSON(http.StatusCreated, gin.H{"data": cycle})
}

// ExportCharges 导出充电记录
// POST /api/charges/export
func (h *Handler) ExportCharges(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	period, err := parsePeriod(req.From, req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.exporter.Export(c.Request.Context(), req.Path, period)
	if errors.Is(err, service.ErrInvalidExportPath) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warn("Export request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Export Failed",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Export Complete",
		"data":    result,
	})
}

// parsePeriod 解析时间区间，两端都为空时返回 nil 表示全部
func parsePeriod(from, to string) (*models.Period, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	var p models.Period
	var err error
	if p.From, err = parseTime(from); err != nil {
		return nil, fmt.Errorf("invalid from: %w", err)
	}
	if p.To, err = parseTime(to); err != nil {
		return nil, fmt.Errorf("invalid to: %w", err)
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return nil, fmt.Errorf("invalid period: to before from")
	}
	return &p, nil
}

// parseTime 支持 RFC3339 和毫秒时间戳
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}
