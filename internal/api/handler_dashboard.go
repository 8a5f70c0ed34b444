package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/mw"
	"gym-checkin-backend/internal/store"
)

const memberHistoryLimit = 10

// Dashboard handles GET /api/dashboard and shows each role its own view.
func (h *Handler) Dashboard(c *gin.Context) {
	switch role := mw.CallerRole(c); role {
	case model.RoleAdmin:
		h.ReportDashboard(c)
	case model.RoleTrainer:
		h.trainerDashboard(c)
	case model.RoleMember:
		h.memberDashboard(c)
	default:
		errorJSON(c, http.StatusForbidden, "forbidden")
	}
}

func (h *Handler) trainerDashboard(c *gin.Context) {
	today := h.engine.Today()
	records, err := h.store.ListRecords(c.Request.Context(), store.AttendanceFilter{DateFrom: today, DateTo: today})
	if err != nil {
		h.storeError(c, "today's attendance", err)
		return
	}
	inside := 0
	for _, r := range records {
		if r.IsOpen() {
			inside++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"date":             today,
		"today_attendance": len(records),
		"currently_inside": inside,
		"records":          records,
	})
}

func (h *Handler) memberDashboard(c *gin.Context) {
	memberID := mw.Subject(c)
	p, err := h.engine.Status(c.Request.Context(), memberID)
	if err != nil {
		h.writeScanError(c, err)
		return
	}
	history, err := h.store.ListRecords(c.Request.Context(), store.AttendanceFilter{
		MemberID: memberID,
		Limit:    memberHistoryLimit,
	})
	if err != nil {
		h.storeError(c, "member history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"member":     p.Member,
		"checked_in": p.CheckedIn,
		"history":    history,
	})
}
