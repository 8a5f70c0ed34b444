package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gym-checkin-backend/internal/checkin"
	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/mw"
	"gym-checkin-backend/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func validDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(model.DateLayout, s)
	return err == nil
}

// ListAttendance handles GET /api/attendance.
func (h *Handler) ListAttendance(c *gin.Context) {
	filter := store.AttendanceFilter{
		MemberID: c.Query("member_id"),
		DateFrom: c.Query("date_from"),
		DateTo:   c.Query("date_to"),
		OpenOnly: c.Query("open") == "true",
		Limit:    defaultListLimit,
	}
	if !validDate(filter.DateFrom) || !validDate(filter.DateTo) {
		errorJSON(c, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	records, err := h.store.ListRecords(c.Request.Context(), filter)
	if err != nil {
		h.storeError(c, "list attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

type statusResponse struct {
	MemberID   string                  `json:"member_id"`
	FullName   string                  `json:"full_name"`
	Date       string                  `json:"date"`
	CheckedIn  bool                    `json:"checked_in"`
	OpenRecord *model.AttendanceRecord `json:"open_record"`
}

// AttendanceStatus handles GET /api/attendance/status/:member_id.
func (h *Handler) AttendanceStatus(c *gin.Context) {
	memberID := c.Param("member_id")
	role := mw.CallerRole(c)
	if !role.CanOperateDesk() && mw.Subject(c) != memberID {
		errorJSON(c, http.StatusForbidden, "forbidden")
		return
	}

	p, err := h.engine.Status(c.Request.Context(), memberID)
	if err != nil {
		if errors.Is(err, checkin.UnknownCode) {
			errorJSON(c, http.StatusNotFound, "member not found")
			return
		}
		h.writeScanError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		MemberID:   p.Member.ID,
		FullName:   p.Member.FullName,
		Date:       h.engine.Today(),
		CheckedIn:  p.CheckedIn,
		OpenRecord: p.Record,
	})
}
