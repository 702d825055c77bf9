package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/amenity-booking/internal/handler"
	"github.com/iliyamo/amenity-booking/internal/middleware"
)

// RegisterStaff registers branch staff endpoints under /v1/staff.  Tokens
// must carry the STAFF role and a branch claim.
func RegisterStaff(e *echo.Echo, h *handler.StaffHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/staff",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleStaff),
		middleware.RequireBranch(),
		limit,
	)
	g.POST("/bookings/:id/no-show", h.MarkNoShow)
	g.POST("/bookings/:id/check-in", h.CheckIn)
	g.POST("/bookings/:id/cancel", h.Cancel)

	g.GET("/members/:id/bookings", h.MemberBookings)
	g.GET("/members/:id/penalties", h.MemberPenalties)

	g.POST("/slots/generate", h.GenerateSlots)
	g.PATCH("/slots/:id", h.PatchSlot)

	g.GET("/settings/:benefit", h.GetSettings)
	g.PUT("/settings", h.PutSettings)

	g.POST("/grants", h.IssueGrant)

	g.POST("/sweeps/no-show", h.SweepNoShows)
	g.POST("/sweeps/expire", h.SweepExpired)
}
