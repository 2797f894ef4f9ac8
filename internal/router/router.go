// Package router registers the HTTP routes for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/handler"
	"github.com/iliyamo/survey-participation/internal/middleware"
	"github.com/iliyamo/survey-participation/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers authentication routes.  Unauthenticated
// operations live under /v1/auth; protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout accepts a refresh token in the body and does not require a
	// JWT on this route.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
	auth.POST("/logout", a.Logout)
}

// RegisterPublic registers unauthenticated browse endpoints.  Guests can
// list open releases and inspect option availability before signing in.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler) {
	e.GET("/v1/releases", p.ListReleases)
	e.GET("/v1/releases/:release_id", p.GetRelease)
}

// RegisterStudent registers the student participation flow under /v1.
// All routes require a valid JWT and the STUDENT role.
func RegisterStudent(e *echo.Echo, ph *handler.ParticipationHandler, dh *handler.DocumentHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStudent),
	)
	g.GET("/releases/:release_id/eligibility", ph.CheckEligibility)
	g.POST("/releases/:release_id/participation", ph.Start)
	g.GET("/releases/:release_id/participation", ph.GetMine)
	g.POST("/releases/:release_id/hold", ph.Hold)
	g.DELETE("/releases/:release_id/hold", ph.ReleaseHold)
	g.POST("/releases/:release_id/submit", ph.Submit)
	g.GET("/my-participations", ph.ListMine)

	g.POST("/documents", dh.Upload)
	g.GET("/documents", dh.ListMine)
}

// RegisterAdmin registers release management and the approver surface
// under /v1/admin.  All routes require a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, ah *handler.AdminHandler, aph *handler.ApprovalHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)

	// ---- Releases ----
	g.POST("/releases", ah.CreateRelease)
	g.PUT("/releases/:release_id/rules", ah.UpdateRules)
	g.POST("/releases/rules/validate", ah.ValidateRules)
	g.POST("/releases/:release_id/options", ah.CreateOption)
	g.POST("/options/:option_id/buckets", ah.CreateBucket)
	g.POST("/releases/:release_id/steps", ah.CreateStep)
	g.POST("/releases/:release_id/eligibility/batch", ah.BatchEligibility)

	// ---- Approvals ----
	g.GET("/releases/:release_id/pending", aph.ListPending)
	g.POST("/participations/:participation_id/approve", aph.Approve)
	g.POST("/participations/:participation_id/reject", aph.Reject)
	g.GET("/participations/:participation_id/decisions", aph.Decisions)

	// ---- Allocation ----
	g.POST("/participations/:participation_id/allocate", ah.Allocate)
	g.POST("/participations/:participation_id/waitlist", ah.Waitlist)

	// ---- Groups and documents ----
	g.POST("/groups", ah.CreateGroup)
	g.POST("/groups/:group_id/members", ah.AddGroupMember)
	g.POST("/documents/:document_id/verify", ah.VerifyDocument)
}
