package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/handler"
	"github.com/iliyamo/amenity-booking/internal/memstore"
	"github.com/iliyamo/amenity-booking/internal/middleware"
	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/router"
	"github.com/iliyamo/amenity-booking/internal/slots"
	"github.com/iliyamo/amenity-booking/internal/utils"
)

const secret = "test-secret"

var slotStart = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

type api struct {
	e      *echo.Echo
	clk    *clock.Manual
	store  *memstore.Store
	ledger *credits.Ledger
	engine *booking.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	clk := clock.NewManual(slotStart.Add(-2 * time.Hour))
	st := memstore.New(clk.Now)
	dir := slots.NewDirectory(st, nil)
	ledger := credits.NewLedger(st, st, clk, nil)
	engine := booking.NewEngine(booking.Deps{
		Tx: st, Slots: dir, Ledger: ledger,
		Bookings: st, Settings: st, Penalties: st, Clock: clk,
	})
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }

	e := echo.New()
	router.RegisterRoutes(e, nil)
	router.RegisterMember(e, handler.NewMemberHandler(engine, ledger), secret, pass, pass)
	staff := handler.NewStaffHandler(engine, dir, ledger, st)
	staff.Clock = clk.Now
	router.RegisterStaff(e, staff, secret, pass)

	require.NoError(t, engine.ConfigureBenefit(context.Background(), model.BenefitSettings{
		BranchID:                    1,
		BenefitType:                 model.BenefitPool,
		SlotDurationMinutes:         60,
		BookingOpensHoursBefore:     48,
		CancellationDeadlineMinutes: 60,
		NoShowPolicy:                model.NoShowMonetaryPenalty,
		NoShowPenaltyCents:          500,
		OpensAt:                     "06:00",
		ClosesAt:                    "22:00",
		DefaultCapacity:             4,
	}))
	return &api{e: e, clk: clk, store: st, ledger: ledger, engine: engine}
}

func (a *api) slot(branch uint64) model.Slot {
	return a.store.AddSlot(model.Slot{
		BranchID:    branch,
		BenefitType: model.BenefitPool,
		Date:        slotStart.Format(time.DateOnly),
		StartsAt:    slotStart,
		EndsAt:      slotStart.Add(time.Hour),
		Capacity:    2,
		IsActive:    true,
	})
}

func (a *api) grant(t *testing.T, member uint64, n uint32) {
	t.Helper()
	_, err := a.ledger.Issue(context.Background(), model.CreditGrant{MemberID: member, BenefitType: model.BenefitPool, CreditsTotal: n})
	require.NoError(t, err)
}

func token(t *testing.T, user uint64, role string, branch uint64) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, user, role, branch, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (a *api) do(t *testing.T, method, path, tok, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAndRoles(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/v1/my-bookings", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/my-bookings", token(t, 9, middleware.RoleStaff, 1), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/staff/sweeps/expire", token(t, 7, middleware.RoleMember, 0), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/staff/sweeps/expire", token(t, 9, middleware.RoleStaff, 0), "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "staff token without branch")
}

func TestMemberBookCancelFlow(t *testing.T) {
	a := newAPI(t)
	slot := a.slot(1)
	a.grant(t, 7, 2)
	tok := token(t, 7, middleware.RoleMember, 0)

	rec := a.do(t, http.MethodGet, "/v1/slots?branch_id=1&benefit_type=pool&from=2026-03-03&to=2026-03-04", tok, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed := decode(t, rec)["slots"].([]any)
	require.Len(t, listed, 1)
	assert.EqualValues(t, slot.ID, listed[0].(map[string]any)["id"])

	path := fmt.Sprintf("/v1/slots/%d/book", slot.ID)
	rec = a.do(t, http.MethodPost, path, tok, "", handler.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, "booked", first["status"])
	assert.Equal(t, "k-1", rec.Header().Get(handler.HeaderIdempotencyKey))

	rec = a.do(t, http.MethodPost, path, tok, "", handler.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, first["id"], decode(t, rec)["id"], "replayed request returns the same booking")

	rec = a.do(t, http.MethodPost, path, tok, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_booked", decode(t, rec)["code"])

	rec = a.do(t, http.MethodGet, "/v1/my-bookings?status=booked", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["bookings"], 1)

	rec = a.do(t, http.MethodGet, "/v1/my-credits?benefit_type=pool", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	credit := decode(t, rec)["credits"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 1, credit["balance"])

	id := uint64(first["id"].(float64))
	other := token(t, 8, middleware.RoleMember, 0)
	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/bookings/%d", id), other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "bookings of other members are hidden")

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/bookings/%d/cancel", id), tok, `{"reason":"sick"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, false, outcome["late"])
	assert.Equal(t, true, outcome["refund_credit"])
	assert.Equal(t, "cancelled", body["booking"].(map[string]any)["status"])
	assert.Equal(t, "sick", body["booking"].(map[string]any)["cancellation_reason"])

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/bookings/%d/cancel", id), tok, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode(t, rec)["code"])
}

func TestBookRejections(t *testing.T) {
	a := newAPI(t)
	slot := a.slot(1)
	tok := token(t, 7, middleware.RoleMember, 0)

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/v1/slots/%d/book", slot.ID), tok, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_credits", decode(t, rec)["code"])

	rec = a.do(t, http.MethodPost, "/v1/slots/999/book", tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/slots/abc/book", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/slots?benefit_type=pool", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/my-bookings?status=lost", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaffEndpoints(t *testing.T) {
	a := newAPI(t)
	staff := token(t, 100, middleware.RoleStaff, 1)
	otherBranch := token(t, 101, middleware.RoleStaff, 2)

	t.Run("settings", func(t *testing.T) {
		rec := a.do(t, http.MethodPut, "/v1/staff/settings", staff, `{
			"benefit_type": "sauna", "slot_duration_minutes": 30, "booking_opens_hours_before": 24,
			"cancellation_deadline_minutes": 120, "no_show_policy": "both", "no_show_penalty_cents": 700,
			"opens_at": "08:00", "closes_at": "12:00", "default_capacity": 6}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = a.do(t, http.MethodGet, "/v1/staff/settings/sauna", staff, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "both", decode(t, rec)["no_show_policy"])

		rec = a.do(t, http.MethodGet, "/v1/staff/settings/sauna", otherBranch, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = a.do(t, http.MethodPut, "/v1/staff/settings", staff, `{"benefit_type":"sauna","no_show_policy":"jail"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("generate and patch slots", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/staff/slots/generate", staff, `{"benefit_type":"pool","date":"2026-03-05","days":2}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decode(t, rec)["created"].(float64)
		assert.Greater(t, created, float64(0))

		rec = a.do(t, http.MethodPost, "/v1/staff/slots/generate", staff, `{"benefit_type":"pool","date":"2026-03-05","days":2}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.EqualValues(t, 0, decode(t, rec)["created"], "existing slots are skipped")

		slot := a.slot(1)
		rec = a.do(t, http.MethodPatch, fmt.Sprintf("/v1/staff/slots/%d", slot.ID), staff, `{"is_active":false}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, false, decode(t, rec)["is_active"])

		rec = a.do(t, http.MethodPatch, fmt.Sprintf("/v1/staff/slots/%d", slot.ID), otherBranch, `{"is_active":true}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = a.do(t, http.MethodPatch, fmt.Sprintf("/v1/staff/slots/%d", slot.ID), staff, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("grants", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/staff/grants", staff, `{"member_id":42,"benefit_type":"swimming","credits":3,"source":"package"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		g := decode(t, rec)
		assert.Equal(t, "pool", g["benefit_type"])
		assert.EqualValues(t, 3, g["credits_remaining"])

		rec = a.do(t, http.MethodPost, "/v1/staff/grants", staff, `{"member_id":42,"benefit_type":"pool","credits":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = a.do(t, http.MethodPost, "/v1/staff/grants", staff, `{"member_id":42,"benefit_type":"pool","credits":1,"source":"gift"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sweeps", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/staff/sweeps/no-show", staff, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 0, decode(t, rec)["marked"])

		rec = a.do(t, http.MethodPost, "/v1/staff/sweeps/expire", staff, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 0, decode(t, rec)["expired"])
	})
}

func TestStaffNoShowAndPenalties(t *testing.T) {
	a := newAPI(t)
	slot := a.slot(1)
	a.grant(t, 7, 1)
	b, err := a.engine.Book(context.Background(), booking.BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)

	staff := token(t, 100, middleware.RoleStaff, 1)
	otherBranch := token(t, 101, middleware.RoleStaff, 2)
	path := fmt.Sprintf("/v1/staff/bookings/%d/no-show", b.ID)

	rec := a.do(t, http.MethodPost, path, staff, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "slot has not started yet")

	a.clk.Set(slotStart.Add(30 * time.Minute))
	rec = a.do(t, http.MethodPost, path, otherBranch, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, path, staff, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, "no_show", got["status"])
	assert.NotEmpty(t, got["no_show_marked_at"])

	rec = a.do(t, http.MethodGet, "/v1/staff/members/7/penalties", staff, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 500, body["total_cents"])
	assert.Len(t, body["penalties"], 1)

	rec = a.do(t, http.MethodGet, "/v1/staff/members/7/penalties", otherBranch, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["total_cents"])

	rec = a.do(t, http.MethodGet, "/v1/staff/members/7/bookings?status=no_show", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["bookings"], 1)
}

func TestStaffCheckIn(t *testing.T) {
	a := newAPI(t)
	slot := a.slot(1)
	a.grant(t, 7, 1)
	b, err := a.engine.Book(context.Background(), booking.BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)

	a.clk.Set(slotStart.Add(-5 * time.Minute))
	rec := a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/bookings/%d/check-in", b.ID), token(t, 100, middleware.RoleStaff, 1), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "checked_in", decode(t, rec)["status"])

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/bookings/%d/check-in", b.ID), token(t, 7, middleware.RoleMember, 0), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
