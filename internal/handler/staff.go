package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/middleware"
	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/slots"
)

// PenaltyLister reads recorded penalties for billing review.
type PenaltyLister interface {
	ListPenalties(ctx context.Context, memberID uint64, from, to time.Time) ([]model.Penalty, error)
}

// StaffHandler serves branch staff endpoints.  Every method runs behind
// JWTAuth, RequireRole(STAFF) and RequireBranch, and only touches data of
// the branch named in the token.
type StaffHandler struct {
	Engine    *booking.Engine
	Slots     *slots.Directory
	Ledger    *credits.Ledger
	Penalties PenaltyLister
	Clock     func() time.Time
}

// NewStaffHandler panics if a dependency is missing.
func NewStaffHandler(engine *booking.Engine, dir *slots.Directory, ledger *credits.Ledger, penalties PenaltyLister) *StaffHandler {
	if engine == nil || dir == nil || ledger == nil || penalties == nil {
		panic("nil dependency passed to NewStaffHandler")
	}
	return &StaffHandler{Engine: engine, Slots: dir, Ledger: ledger, Penalties: penalties, Clock: time.Now}
}

func staffBranch(c echo.Context) uint64 {
	id, _ := middleware.BranchID(c)
	return id
}

// checkBranch hides bookings of other branches behind not found.
func checkBranch(ctx context.Context, engine *booking.Engine, bookingID, branchID uint64) error {
	if branchID == 0 {
		return nil
	}
	b, err := engine.GetBooking(ctx, bookingID, 0)
	if err != nil {
		return err
	}
	if b.BranchID != branchID {
		return model.ErrBookingNotFound
	}
	return nil
}

// MarkNoShow handles POST /v1/staff/bookings/:id/no-show.
func (h *StaffHandler) MarkNoShow(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	ctx := c.Request().Context()
	if err := checkBranch(ctx, h.Engine, id, staffBranch(c)); err != nil {
		return respondError(c, err)
	}
	b, err := h.Engine.MarkNoShow(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toBooking(b))
}

// CheckIn handles POST /v1/staff/bookings/:id/check-in at the front desk.
func (h *StaffHandler) CheckIn(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	ctx := c.Request().Context()
	if err := checkBranch(ctx, h.Engine, id, staffBranch(c)); err != nil {
		return respondError(c, err)
	}
	b, err := h.Engine.CheckIn(ctx, booking.CheckInInput{BookingID: id})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toBooking(b))
}

// Cancel handles POST /v1/staff/bookings/:id/cancel.  The benefit's
// cancellation policy applies exactly as for a member cancellation.
func (h *StaffHandler) Cancel(c echo.Context) error {
	return cancelBooking(c, h.Engine, 0, staffBranch(c))
}

// MemberBookings handles GET /v1/staff/members/:id/bookings?status=.
func (h *StaffHandler) MemberBookings(c echo.Context) error {
	memberID, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid member id")
	}
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	list, err := h.Engine.GetMemberBookings(c.Request().Context(), memberID, statuses...)
	if err != nil {
		return respondError(c, err)
	}
	branch := staffBranch(c)
	mine := list[:0]
	for _, b := range list {
		if b.BranchID == branch {
			mine = append(mine, b)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": toBookings(mine)})
}

// GenerateSlots handles POST /v1/staff/slots/generate with
// {"benefit_type": "...", "date": "YYYY-MM-DD", "days": n}.  Slots that
// already exist are skipped.
func (h *StaffHandler) GenerateSlots(c echo.Context) error {
	var body struct {
		BenefitType string `json:"benefit_type"`
		Date        string `json:"date"`
		Days        int    `json:"days"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	benefit := parseBenefit(body.BenefitType)
	if benefit == "" {
		return badRequest(c, "benefit_type is required")
	}
	day, err := time.Parse(time.DateOnly, body.Date)
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	if body.Days <= 0 {
		body.Days = 1
	}
	if body.Days > 31 {
		return badRequest(c, "days must be at most 31")
	}

	ctx := c.Request().Context()
	settings, err := h.Engine.Settings(ctx, staffBranch(c), benefit)
	if err != nil {
		return respondError(c, err)
	}
	created := 0
	for i := 0; i < body.Days; i++ {
		n, err := h.Slots.Generate(ctx, day.AddDate(0, 0, i).Format(time.DateOnly), settings)
		if err != nil {
			return respondError(c, err)
		}
		created += n
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": created})
}

// PatchSlot handles PATCH /v1/staff/slots/:id with {"is_active": bool}.
func (h *StaffHandler) PatchSlot(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid slot id")
	}
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.IsActive == nil {
		return badRequest(c, "is_active is required")
	}
	s, err := h.Slots.SetActive(c.Request().Context(), id, staffBranch(c), *body.IsActive)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toSlot(s))
}

// GetSettings handles GET /v1/staff/settings/:benefit.
func (h *StaffHandler) GetSettings(c echo.Context) error {
	benefit := parseBenefit(c.Param("benefit"))
	if benefit == "" {
		return badRequest(c, "benefit type is required")
	}
	s, err := h.Engine.Settings(c.Request().Context(), staffBranch(c), benefit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toSettingsBody(s))
}

// PutSettings handles PUT /v1/staff/settings.  The branch comes from the
// token; the body replaces the whole configuration of one benefit type.
func (h *StaffHandler) PutSettings(c echo.Context) error {
	var body settingsBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	policy, err := model.ParseNoShowPolicy(body.NoShowPolicy)
	if err != nil {
		return respondError(c, err)
	}
	s := model.BenefitSettings{
		BranchID:                     staffBranch(c),
		BenefitType:                  parseBenefit(body.BenefitType),
		SlotDurationMinutes:          body.SlotDurationMinutes,
		BookingOpensHoursBefore:      body.BookingOpensHoursBefore,
		CancellationDeadlineMinutes:  body.CancellationDeadlineMinutes,
		NoShowPolicy:                 policy,
		NoShowPenaltyCents:           body.NoShowPenaltyCents,
		MaxBookingsPerDay:            body.MaxBookingsPerDay,
		BufferBetweenSessionsMinutes: body.BufferBetweenSessionsMinutes,
		OpensAt:                      strings.TrimSpace(body.OpensAt),
		ClosesAt:                     strings.TrimSpace(body.ClosesAt),
		Timezone:                     strings.TrimSpace(body.Timezone),
		DefaultCapacity:              body.DefaultCapacity,
	}
	if err := h.Engine.ConfigureBenefit(c.Request().Context(), s); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toSettingsBody(s))
}

// IssueGrant handles POST /v1/staff/grants.  It records credits handed
// out by the membership or package service, or a manual adjustment.
func (h *StaffHandler) IssueGrant(c echo.Context) error {
	var body struct {
		MemberID     uint64     `json:"member_id"`
		BenefitType  string     `json:"benefit_type"`
		Source       string     `json:"source"`
		Credits      uint32     `json:"credits"`
		MembershipID *uint64    `json:"membership_id"`
		PackageID    *uint64    `json:"package_id"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	source := model.GrantSource(strings.ToLower(strings.TrimSpace(body.Source)))
	switch source {
	case "", model.SourcePlan, model.SourcePackage, model.SourceAdjustment:
	default:
		return badRequest(c, "source must be plan, package or adjustment")
	}
	g, err := h.Ledger.Issue(c.Request().Context(), model.CreditGrant{
		MemberID:     body.MemberID,
		BenefitType:  parseBenefit(body.BenefitType),
		Source:       source,
		MembershipID: body.MembershipID,
		PackageID:    body.PackageID,
		CreditsTotal: body.Credits,
		ExpiresAt:    body.ExpiresAt,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toGrant(g))
}

// SweepNoShows handles POST /v1/staff/sweeps/no-show.  It runs the same
// sweep as the scheduler, across all branches.
func (h *StaffHandler) SweepNoShows(c echo.Context) error {
	n, err := h.Engine.SweepNoShows(c.Request().Context())
	if err != nil {
		middleware.Logger(c).Sugar().Warnw("manual no-show sweep incomplete", "marked", n, "error", err)
		return c.JSON(http.StatusOK, echo.Map{"marked": n, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"marked": n})
}

// SweepExpired handles POST /v1/staff/sweeps/expire.
func (h *StaffHandler) SweepExpired(c echo.Context) error {
	n, err := h.Ledger.ExpireSweep(c.Request().Context(), h.Clock().UTC())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": n})
}

// MemberPenalties handles GET /v1/staff/members/:id/penalties?from=&to=.
// Only penalties of the staff member's branch are listed.
func (h *StaffHandler) MemberPenalties(c echo.Context) error {
	memberID, ok := parseID(c.Param("id"))
	if !ok {
		return badRequest(c, "invalid member id")
	}
	to := h.Clock().UTC().Add(time.Second)
	from := to.AddDate(0, -1, 0)
	if raw := c.QueryParam("from"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			return badRequest(c, "invalid from")
		}
		from = t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			return badRequest(c, "invalid to")
		}
		to = t
	}
	list, err := h.Penalties.ListPenalties(c.Request().Context(), memberID, from, to)
	if err != nil {
		return respondError(c, err)
	}
	branch := staffBranch(c)
	out := make([]penaltyResponse, 0, len(list))
	var total int64
	for _, p := range list {
		if p.BranchID != branch {
			continue
		}
		total += p.AmountCents
		out = append(out, penaltyResponse{
			ID: p.ID, BookingID: p.BookingID, MemberID: p.MemberID,
			AmountCents: p.AmountCents, Reason: p.Reason, CreatedAt: p.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"penalties": out, "total_cents": total})
}
