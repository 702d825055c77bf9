package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/amenity-booking/internal/handler"
	"github.com/iliyamo/amenity-booking/internal/middleware"
)

// RegisterMember registers member endpoints under /v1.  Every route needs
// a valid token with the MEMBER role.  Slot listings go through the
// response cache; pass a pass-through middleware to disable it.
func RegisterMember(e *echo.Echo, h *handler.MemberHandler, jwtSecret string, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleMember),
		limit,
	)
	g.GET("/slots", h.ListSlots, cache)
	g.POST("/slots/:id/book", h.Book)
	g.GET("/my-bookings", h.MyBookings)
	g.GET("/my-credits", h.MyCredits)
	g.GET("/bookings/:id", h.GetBooking)
	g.POST("/bookings/:id/cancel", h.Cancel)
	g.POST("/bookings/:id/check-in", h.CheckIn)
}
