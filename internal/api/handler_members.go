package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/store"
)

const codeAttempts = 3

// ListMembers handles GET /api/members.
func (h *Handler) ListMembers(c *gin.Context) {
	var status model.MemberStatus
	if raw := c.Query("status"); raw != "" {
		s, err := model.ParseMemberStatus(raw)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		status = s
	}

	members, err := h.store.ListMembers(c.Request.Context(), status)
	if err != nil {
		h.storeError(c, "list members", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

// GetMember handles GET /api/members/:id.
func (h *Handler) GetMember(c *gin.Context) {
	member, err := h.store.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, "get member", err)
		return
	}
	c.JSON(http.StatusOK, member)
}

type createMemberRequest struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name" binding:"required"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Status    string `json:"status"`
	IssueCode bool   `json:"issue_code"`
}

// CreateMember handles POST /api/members.
func (h *Handler) CreateMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "full_name is required")
		return
	}
	status := model.MemberStatusActive
	if req.Status != "" {
		s, err := model.ParseMemberStatus(req.Status)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		status = s
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	member := &model.Member{
		ID:       id,
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Status:   status,
		Source:   model.SourceLocal,
	}
	if req.IssueCode {
		code := h.issuer.Issue(id)
		member.Code = &code
	}

	if err := h.store.CreateMember(c.Request.Context(), member); err != nil {
		if errors.Is(err, store.ErrCodeTaken) {
			errorJSON(c, http.StatusConflict, "member id or code already in use")
			return
		}
		h.storeError(c, "create member", err)
		return
	}
	h.reports.Flush()
	c.JSON(http.StatusCreated, member)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateMemberStatus handles PATCH /api/members/:id/status.
func (h *Handler) UpdateMemberStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "status is required")
		return
	}
	status, err := model.ParseMemberStatus(req.Status)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	member, err := h.store.UpdateMemberStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		h.storeError(c, "update member status", err)
		return
	}
	h.reports.Flush()
	c.JSON(http.StatusOK, member)
}

// IssueCode handles POST /api/members/:id/code. A member that already holds a
// code gets it back unchanged.
func (h *Handler) IssueCode(c *gin.Context) {
	member, err := h.store.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, "get member", err)
		return
	}
	if member.Code != nil && *member.Code != "" {
		c.JSON(http.StatusOK, gin.H{"member_id": member.ID, "code": *member.Code})
		return
	}
	h.assignCode(c, member.ID, http.StatusCreated)
}

// RegenerateCode handles POST /api/members/:id/code/regenerate. The previous
// code stops working immediately.
func (h *Handler) RegenerateCode(c *gin.Context) {
	h.assignCode(c, c.Param("id"), http.StatusOK)
}

func (h *Handler) assignCode(c *gin.Context, memberID string, status int) {
	var lastErr error
	for i := 0; i < codeAttempts; i++ {
		member, err := h.store.SetMemberCode(c.Request.Context(), memberID, h.issuer.Issue(memberID))
		if err == nil {
			c.JSON(status, gin.H{"member_id": member.ID, "code": *member.Code})
			return
		}
		if !errors.Is(err, store.ErrCodeTaken) {
			h.storeError(c, "set member code", err)
			return
		}
		lastErr = err
	}
	h.storeError(c, "set member code", lastErr)
}
