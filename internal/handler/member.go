package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/middleware"
	"github.com/iliyamo/amenity-booking/internal/model"
)

const (
	// HeaderIdempotencyKey carries the client key of a book request.
	HeaderIdempotencyKey = "Idempotency-Key"

	defaultListRange = 7 * 24 * time.Hour
	maxListRange     = 31 * 24 * time.Hour
	maxListedSlots   = 500

	retryAttempts = 3
	retryBase     = 20 * time.Millisecond
)

// MemberHandler serves the member-facing booking endpoints.  All methods
// run behind JWTAuth and RequireRole(MEMBER).
type MemberHandler struct {
	Engine *booking.Engine
	Ledger *credits.Ledger
}

// NewMemberHandler panics if a dependency is missing.
func NewMemberHandler(engine *booking.Engine, ledger *credits.Ledger) *MemberHandler {
	if engine == nil || ledger == nil {
		panic("nil dependency passed to NewMemberHandler")
	}
	return &MemberHandler{Engine: engine, Ledger: ledger}
}

// ListSlots handles GET /v1/slots?branch_id=&benefit_type=&from=&to=.
// from defaults to now and to to one week after from.
func (h *MemberHandler) ListSlots(c echo.Context) error {
	branchID, ok := parseID(c.QueryParam("branch_id"))
	if !ok {
		return badRequest(c, "branch_id is required")
	}
	benefit := parseBenefit(c.QueryParam("benefit_type"))

	from := time.Now().UTC()
	if raw := c.QueryParam("from"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			return badRequest(c, "invalid from")
		}
		from = t
	}
	to := from.Add(defaultListRange)
	if raw := c.QueryParam("to"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			return badRequest(c, "invalid to")
		}
		to = t
	}
	if !to.After(from) || to.Sub(from) > maxListRange {
		return badRequest(c, "date range must be positive and at most 31 days")
	}

	out := make([]slotResponse, 0)
	for s, err := range h.Engine.ListAvailableSlots(c.Request().Context(), branchID, benefit, from, to) {
		if err != nil {
			return respondError(c, err)
		}
		out = append(out, toSlot(s))
		if len(out) == maxListedSlots {
			break
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": out})
}

// Book handles POST /v1/slots/:id/book.  The Idempotency-Key header makes
// retries safe; one is generated when the client sends none.
func (h *MemberHandler) Book(c echo.Context) error {
	memberID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	slotID, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid slot id")
	}
	var body struct {
		BranchID     uint64  `json:"branch_id"`
		MembershipID *uint64 `json:"membership_id"`
		Notes        *string `json:"notes"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	if len(key) > 64 {
		return badRequest(c, "idempotency key too long")
	}
	if key == "" {
		key = uuid.NewString()
	}

	ctx := c.Request().Context()
	var b model.Booking
	err := booking.Retry(ctx, retryAttempts, retryBase, func() error {
		var err error
		b, err = h.Engine.Book(ctx, booking.BookInput{
			MemberID:       memberID,
			SlotID:         slotID,
			BranchID:       body.BranchID,
			MembershipID:   body.MembershipID,
			Notes:          body.Notes,
			IdempotencyKey: key,
		})
		return err
	})
	if err != nil {
		return respondError(c, err)
	}
	c.Response().Header().Set(HeaderIdempotencyKey, key)
	return c.JSON(http.StatusCreated, toBooking(b))
}

// MyBookings handles GET /v1/my-bookings?status=booked,checked_in.
func (h *MemberHandler) MyBookings(c echo.Context) error {
	memberID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	list, err := h.Engine.GetMemberBookings(c.Request().Context(), memberID, statuses...)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": toBookings(list)})
}

// GetBooking handles GET /v1/bookings/:id.
func (h *MemberHandler) GetBooking(c echo.Context) error {
	memberID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Engine.GetBooking(c.Request().Context(), id, memberID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toBooking(b))
}

// Cancel handles POST /v1/bookings/:id/cancel with an optional
// {"reason": "..."} body.
func (h *MemberHandler) Cancel(c echo.Context) error {
	memberID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	return cancelBooking(c, h.Engine, memberID, 0)
}

// CheckIn handles POST /v1/bookings/:id/check-in.
func (h *MemberHandler) CheckIn(c echo.Context) error {
	memberID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Engine.CheckIn(c.Request().Context(), booking.CheckInInput{BookingID: id, MemberID: memberID})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toBooking(b))
}

// MyCredits handles GET /v1/my-credits?benefit_type=.  Without a benefit
// type every benefit type is listed.
func (h *MemberHandler) MyCredits(c echo.Context) error {
	memberID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	types := model.BenefitTypes
	if bt := parseBenefit(c.QueryParam("benefit_type")); bt != "" {
		types = []model.BenefitType{bt}
	}

	ctx := c.Request().Context()
	type entry struct {
		BenefitType string          `json:"benefit_type"`
		Balance     uint32          `json:"balance"`
		Grants      []grantResponse `json:"grants"`
	}
	out := make([]entry, 0, len(types))
	for _, bt := range types {
		grants, err := h.Ledger.Grants(ctx, memberID, bt)
		if err != nil {
			return respondError(c, err)
		}
		if len(grants) == 0 && len(types) > 1 {
			continue
		}
		balance, err := h.Ledger.Balance(ctx, memberID, bt)
		if err != nil {
			return respondError(c, err)
		}
		e := entry{BenefitType: string(bt), Balance: balance, Grants: make([]grantResponse, 0, len(grants))}
		for _, g := range grants {
			e.Grants = append(e.Grants, toGrant(g))
		}
		out = append(out, e)
	}
	return c.JSON(http.StatusOK, echo.Map{"credits": out})
}

// cancelBooking is shared by the member and staff cancel endpoints.  A
// non-zero memberID must own the booking; a non-zero branchID must match
// the booking's branch.
func cancelBooking(c echo.Context, engine *booking.Engine, memberID, branchID uint64) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if len(reason) > 255 {
		return badRequest(c, "reason too long")
	}
	ctx := c.Request().Context()
	if err := checkBranch(ctx, engine, id, branchID); err != nil {
		return respondError(c, err)
	}
	b, outcome, err := engine.Cancel(ctx, booking.CancelInput{BookingID: id, MemberID: memberID, Reason: reason})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"booking": toBooking(b),
		"outcome": outcomeResponse{Late: outcome.Late, RefundCredit: outcome.RefundCredit, PenaltyCents: outcome.PenaltyCents},
	})
}

func parseStatuses(raw string) ([]model.BookingStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []model.BookingStatus
	for _, part := range strings.Split(raw, ",") {
		s := model.BookingStatus(strings.ToLower(strings.TrimSpace(part)))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", strings.TrimSpace(part))
		}
		out = append(out, s)
	}
	return out, nil
}
