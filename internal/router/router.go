// Package router registers the HTTP routes of the booking API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/amenity-booking/internal/handler"
	"github.com/iliyamo/amenity-booking/internal/metrics"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}
