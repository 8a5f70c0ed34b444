package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	h := NewHandler(d)

	r := gin.New()
	r.Use(mw.RequestLogger(h.log), mw.Recovery(h.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	perSec, burst := d.RateLimitPerSec, d.RateLimitBurst
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = 5
	}

	api := r.Group("/api")
	api.Use(mw.RateLimiter(rate.Limit(perSec), burst))
	{
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		authed := api.Group("")
		authed.Use(mw.Auth(d.JWTSecret, d.JWTIssuer))

		desk := authed.Group("", mw.RequireRole(model.RoleAdmin, model.RoleTrainer))
		desk.POST("/attendance/scan", h.Scan)
		desk.GET("/attendance", h.ListAttendance)

		// Members may only read their own status; checked in the handler.
		authed.GET("/attendance/status/:member_id", h.AttendanceStatus)
		authed.GET("/dashboard", h.Dashboard)

		admin := authed.Group("", mw.RequireRole(model.RoleAdmin))
		admin.GET("/members", h.ListMembers)
		admin.POST("/members", h.CreateMember)
		admin.GET("/members/:id", h.GetMember)
		admin.PATCH("/members/:id/status", h.UpdateMemberStatus)
		admin.POST("/members/:id/code", h.IssueCode)
		admin.POST("/members/:id/code/regenerate", h.RegenerateCode)

		reports := admin.Group("/reports", h.reports.Middleware())
		reports.GET("/dashboard", h.ReportDashboard)
		reports.GET("/attendance", h.ReportAttendance)

		subs := authed.Group("/subscriptions", mw.RequireRole(model.RoleMember))
		subs.GET("", h.GetSubscriptions)
		subs.PUT("", h.PutSubscription)
		subs.DELETE("", h.DeleteSubscription)
	}

	return r
}
