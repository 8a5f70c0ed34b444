package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gym-checkin-backend/internal/checkin"
	"gym-checkin-backend/internal/codes"
	"gym-checkin-backend/internal/model"
)

type scanRequest struct {
	Code  string `json:"code"`
	Notes string `json:"notes"`
}

type scanMember struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

type scanResponse struct {
	Action    checkin.Action         `json:"action"`
	Message   string                 `json:"message"`
	Duplicate bool                   `json:"duplicate"`
	Member    scanMember             `json:"member"`
	Record    model.AttendanceRecord `json:"record"`
	Duration  string                 `json:"duration,omitempty"`
}

type scanErrorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

var scanErrorStatus = map[string]int{
	checkin.InvalidInput.Code:    http.StatusBadRequest,
	checkin.UnknownCode.Code:     http.StatusNotFound,
	checkin.MemberNotActive.Code: http.StatusForbidden,
	checkin.StorageError.Code:    http.StatusServiceUnavailable,
}

// Scan handles POST /api/attendance/scan.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, scanErrorResponse{
			ErrorKind: checkin.InvalidInput.Code,
			Message:   "request body must be a JSON object with a code",
		})
		return
	}

	// Flooding one code is refused before the engine sees it, in the same
	// shape as the per-client limiter.
	if key := codes.Normalize(req.Code); key != "" && !h.scanLimiter.Allow(key) {
		errorJSON(c, http.StatusTooManyRequests, "too many requests")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.engine.ProcessScan(ctx, checkin.ScanRequest{Code: req.Code, Notes: req.Notes})
	if err != nil {
		h.writeScanError(c, err)
		return
	}
	if !res.Duplicate {
		h.reports.Flush()
	}

	resp := scanResponse{
		Action:    res.Action,
		Message:   res.Message,
		Duplicate: res.Duplicate,
		Member:    scanMember{ID: res.Member.ID, FullName: res.Member.FullName},
		Record:    res.Record,
	}
	if res.Action == checkin.ActionCheckOut {
		resp.Duration = res.Record.Duration().Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeScanError(c *gin.Context, err error) {
	var scanErr *checkin.Error
	if !errors.As(err, &scanErr) {
		h.log.Error("unexpected scan failure", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "internal server error")
		return
	}
	status, ok := scanErrorStatus[scanErr.Def.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, scanErrorResponse{
		ErrorKind: scanErr.Def.Code,
		Message:   scanErr.Message(),
	})
}
