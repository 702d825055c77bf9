package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/amenity-booking/internal/model"
)

type slotResponse struct {
	ID            uint64    `json:"id"`
	BranchID      uint64    `json:"branch_id"`
	BenefitType   string    `json:"benefit_type"`
	BenefitTypeID *uint64   `json:"benefit_type_id,omitempty"`
	Date          string    `json:"date"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	Capacity      uint32    `json:"capacity"`
	BookedCount   uint32    `json:"booked_count"`
	Remaining     uint32    `json:"remaining"`
	IsActive      bool      `json:"is_active"`
}

func toSlot(s model.Slot) slotResponse {
	return slotResponse{
		ID:            s.ID,
		BranchID:      s.BranchID,
		BenefitType:   string(s.BenefitType),
		BenefitTypeID: s.BenefitTypeID,
		Date:          s.Date,
		StartsAt:      s.StartsAt,
		EndsAt:        s.EndsAt,
		Capacity:      s.Capacity,
		BookedCount:   s.BookedCount,
		Remaining:     s.Remaining(),
		IsActive:      s.IsActive,
	}
}

type debitResponse struct {
	GrantID uint64 `json:"grant_id"`
	Amount  uint32 `json:"amount"`
}

type bookingResponse struct {
	ID                 uint64          `json:"id"`
	SlotID             uint64          `json:"slot_id"`
	BranchID           uint64          `json:"branch_id"`
	MemberID           uint64          `json:"member_id"`
	MembershipID       *uint64         `json:"membership_id,omitempty"`
	BenefitType        string          `json:"benefit_type"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CheckedInAt        *time.Time      `json:"checked_in_at,omitempty"`
	NoShowMarkedAt     *time.Time      `json:"no_show_marked_at,omitempty"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	Notes              *string         `json:"notes,omitempty"`
	Debits             []debitResponse `json:"debits"`
}

func stampPtr(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}

func toBooking(b model.Booking) bookingResponse {
	out := bookingResponse{
		ID:                 b.ID,
		SlotID:             b.SlotID,
		BranchID:           b.BranchID,
		MemberID:           b.MemberID,
		MembershipID:       b.MembershipID,
		BenefitType:        string(b.BenefitType),
		Status:             string(b.Status()),
		CreatedAt:          b.CreatedAt,
		CancelledAt:        stampPtr(b.State.CancelledAt()),
		CheckedInAt:        stampPtr(b.State.CheckedInAt()),
		NoShowMarkedAt:     stampPtr(b.State.NoShowMarkedAt()),
		CancellationReason: b.CancellationReason,
		Notes:              b.Notes,
		Debits:             make([]debitResponse, 0, len(b.Debits)),
	}
	for _, d := range b.Debits {
		out.Debits = append(out.Debits, debitResponse{GrantID: d.GrantID, Amount: d.Amount})
	}
	return out
}

func toBookings(bs []model.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBooking(b))
	}
	return out
}

type outcomeResponse struct {
	Late         bool  `json:"late"`
	RefundCredit bool  `json:"refund_credit"`
	PenaltyCents int64 `json:"penalty_cents"`
}

type grantResponse struct {
	ID               uint64     `json:"id"`
	MemberID         uint64     `json:"member_id"`
	BenefitType      string     `json:"benefit_type"`
	Source           string     `json:"source"`
	CreditsTotal     uint32     `json:"credits_total"`
	CreditsRemaining uint32     `json:"credits_remaining"`
	PurchasedAt      time.Time  `json:"purchased_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ExhaustedAt      *time.Time `json:"exhausted_at,omitempty"`
}

func toGrant(g model.CreditGrant) grantResponse {
	return grantResponse{
		ID:               g.ID,
		MemberID:         g.MemberID,
		BenefitType:      string(g.BenefitType),
		Source:           string(g.Source),
		CreditsTotal:     g.CreditsTotal,
		CreditsRemaining: g.CreditsRemaining,
		PurchasedAt:      g.PurchasedAt,
		ExpiresAt:        g.ExpiresAt,
		ExhaustedAt:      g.ExhaustedAt,
	}
}

// settingsBody is both the request and response shape of benefit settings.
type settingsBody struct {
	BenefitType                  string `json:"benefit_type"`
	SlotDurationMinutes          int    `json:"slot_duration_minutes"`
	BookingOpensHoursBefore      int    `json:"booking_opens_hours_before"`
	CancellationDeadlineMinutes  int    `json:"cancellation_deadline_minutes"`
	NoShowPolicy                 string `json:"no_show_policy"`
	NoShowPenaltyCents           int64  `json:"no_show_penalty_cents"`
	MaxBookingsPerDay            int    `json:"max_bookings_per_day"`
	BufferBetweenSessionsMinutes int    `json:"buffer_between_sessions_minutes"`
	OpensAt                      string `json:"opens_at"`
	ClosesAt                     string `json:"closes_at"`
	Timezone                     string `json:"timezone"`
	DefaultCapacity              uint32 `json:"default_capacity"`
}

func toSettingsBody(s model.BenefitSettings) settingsBody {
	return settingsBody{
		BenefitType:                  string(s.BenefitType),
		SlotDurationMinutes:          s.SlotDurationMinutes,
		BookingOpensHoursBefore:      s.BookingOpensHoursBefore,
		CancellationDeadlineMinutes:  s.CancellationDeadlineMinutes,
		NoShowPolicy:                 string(s.NoShowPolicy),
		NoShowPenaltyCents:           s.NoShowPenaltyCents,
		MaxBookingsPerDay:            s.MaxBookingsPerDay,
		BufferBetweenSessionsMinutes: s.BufferBetweenSessionsMinutes,
		OpensAt:                      s.OpensAt,
		ClosesAt:                     s.ClosesAt,
		Timezone:                     s.Timezone,
		DefaultCapacity:              s.DefaultCapacity,
	}
}

type penaltyResponse struct {
	ID          uint64    `json:"id"`
	BookingID   uint64    `json:"booking_id"`
	MemberID    uint64    `json:"member_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// parseID reads a positive numeric path parameter.
func parseID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	return id, err == nil && id > 0
}

// parseBenefit accepts any known spelling of a benefit type.  Empty input
// yields the empty type.
func parseBenefit(raw string) model.BenefitType {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return model.NormalizeBenefitType(raw)
}

// parseInstant accepts RFC 3339 timestamps and plain YYYY-MM-DD dates,
// the latter as UTC midnight.
func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}
