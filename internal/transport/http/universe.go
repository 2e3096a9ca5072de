package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradewind/internal/logger"
)

func (r *apiRouter) handleUniverseTop(c *gin.Context) {
	if r.universe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "候选股审计未启用"})
		return
	}
	mode, _, ok := r.resolveMode(c, c.Query("mode"))
	if !ok {
		return
	}
	date := r.resolveDate(c.Query("date"))
	rows, err := r.universe.Top(c.Request.Context(), date, mode, parseLimit(c, 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":    date,
		"mode":    mode,
		"entries": rows,
		"count":   len(rows),
	})
}

type universeRefreshRequest struct {
	Date string `json:"date"`
	Mode string `json:"mode"`
}

func (r *apiRouter) handleUniverseRefresh(c *gin.Context) {
	if r.universe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "候选股审计未启用"})
		return
	}
	var req universeRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, _, ok := r.resolveMode(c, req.Mode)
	if !ok {
		return
	}
	result, err := r.universe.Refresh(c.Request.Context(), strings.TrimSpace(req.Date), mode)
	if err != nil {
		logger.Errorf("[api] universe refresh failed date=%s mode=%s err=%v", req.Date, mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] universe refresh date=%s mode=%s ranked=%d pruned=%d",
		result.Date, result.Mode, len(result.Ranked), result.Pruned)
	c.JSON(http.StatusOK, result)
}
