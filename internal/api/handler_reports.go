package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/store"
)

const (
	defaultReportDays = 7
	maxReportDays     = 90
)

// ReportDashboard handles GET /api/reports/dashboard.
func (h *Handler) ReportDashboard(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context(), h.engine.Today())
	if err != nil {
		h.storeError(c, "dashboard stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ReportAttendance handles GET /api/reports/attendance?days=N. Days without
// visits are reported with zero counts.
func (h *Handler) ReportAttendance(c *gin.Context) {
	days := defaultReportDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxReportDays {
			errorJSON(c, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	to, _ := time.Parse(model.DateLayout, h.engine.Today())
	from := to.AddDate(0, 0, -(days - 1))

	rows, err := h.store.DailyCounts(c.Request.Context(), from.Format(model.DateLayout), to.Format(model.DateLayout))
	if err != nil {
		h.storeError(c, "daily attendance", err)
		return
	}

	byDate := make(map[string]store.DailyCount, len(rows))
	for _, r := range rows {
		byDate[r.Date] = r
	}
	series := make([]store.DailyCount, 0, days)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(model.DateLayout)
		row, ok := byDate[key]
		if !ok {
			row = store.DailyCount{Date: key}
		}
		series = append(series, row)
	}

	c.JSON(http.StatusOK, gin.H{"from": series[0].Date, "to": series[len(series)-1].Date, "days": series})
}
