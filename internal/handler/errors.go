package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/middleware"
)

// statusByCode maps booking error codes to HTTP statuses.
var statusByCode = map[string]int{
	"slot_not_found":        http.StatusNotFound,
	"booking_not_found":     http.StatusNotFound,
	"settings_not_found":    http.StatusNotFound,
	"grant_not_found":       http.StatusNotFound,
	"slot_full":             http.StatusConflict,
	"already_booked":        http.StatusConflict,
	"invalid_transition":    http.StatusConflict,
	"idempotency_conflict":  http.StatusConflict,
	"conflict":              http.StatusConflict,
	"slot_inactive":         http.StatusUnprocessableEntity,
	"insufficient_credits":  http.StatusUnprocessableEntity,
	"booking_window_closed": http.StatusUnprocessableEntity,
	"daily_limit_exceeded":  http.StatusUnprocessableEntity,
	"buffer_conflict":       http.StatusUnprocessableEntity,
	"invalid_input":         http.StatusBadRequest,
	"forbidden":             http.StatusForbidden,
}

// respondError writes the JSON error body for err.  Unknown errors and
// consistency faults become 500 without leaking details.
func respondError(c echo.Context, err error) error {
	code := booking.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		middleware.Logger(c).Error("request failed", zap.String("code", code), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": code})
	}
	return c.JSON(status, echo.Map{"error": err.Error(), "code": code})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "invalid_input"})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
