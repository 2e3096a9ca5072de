package httpapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradewind/internal/journal"
	"tradewind/internal/logger"
)

func (r *apiRouter) handleRuns(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := journal.RunQuery{
		Date:   strings.TrimSpace(c.Query("date")),
		Mode:   strings.ToUpper(strings.TrimSpace(c.Query("mode"))),
		Status: strings.TrimSpace(c.Query("status")),
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Limit:  parseLimit(c, 100),
		Offset: offset,
	}
	runs, err := r.journal.ListRuns(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (r *apiRouter) handleRunByID(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id 不能为空"})
		return
	}
	rec, ok, err := r.journal.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行不存在: " + runID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": rec})
}

func (r *apiRouter) handleDecisions(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := journal.DecisionQuery{
		RunID:  strings.TrimSpace(c.Query("run_id")),
		Date:   strings.TrimSpace(c.Query("date")),
		Mode:   strings.ToUpper(strings.TrimSpace(c.Query("mode"))),
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Stage:  strings.TrimSpace(c.Query("stage")),
		Limit:  parseLimit(c, 500),
		Offset: offset,
	}
	records, err := r.journal.ListDecisions(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	traces := journal.BuildRunTraces(records)
	c.JSON(http.StatusOK, gin.H{
		"decisions": records,
		"traces":    traces,
		"count":     len(records),
	})
}

func (r *apiRouter) handleReport(c *gin.Context) {
	if r.report == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报告未启用"})
		return
	}
	runID := strings.TrimSpace(c.Param("run_id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id 不能为空"})
		return
	}
	_, ok, err := r.journal.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行不存在: " + runID})
		return
	}
	path := r.report.HTMLPath(runID)
	if _, err := os.Stat(path); err != nil {
		res, err := r.report.BuildRun(c.Request.Context(), runID)
		if err != nil {
			logger.Errorf("[api] report build failed run=%s err=%v", runID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		path = res.HTMLPath
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.File(path)
}
