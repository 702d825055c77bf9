// Package booking orchestrates the booking lifecycle.  Every operation
// runs inside one storage transaction and either commits all of its
// effects (seat count, credit ledger, booking record, penalty) or none.
package booking

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/metrics"
	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/policy"
	"github.com/iliyamo/amenity-booking/internal/slots"
)

const (
	DefaultCheckInGrace = 15 * time.Minute
	DefaultNoShowGrace  = 15 * time.Minute
	defaultSweepBatch   = 200

	// bookings within this distance of a slot start are loaded for the
	// daily limit and buffer checks
	neighbourhood = 24 * time.Hour
)

// Deps are the collaborators of an Engine.  Events may be nil.
type Deps struct {
	Tx        Transactor
	Slots     *slots.Directory
	Ledger    *credits.Ledger
	Bookings  BookingStore
	Settings  SettingsStore
	Penalties PenaltyStore
	Events    EventPublisher
	Clock     clock.Clock
}

type Engine struct {
	tx        Transactor
	slots     *slots.Directory
	ledger    *credits.Ledger
	bookings  BookingStore
	settings  SettingsStore
	penalties PenaltyStore
	events    EventPublisher
	clock     clock.Clock
	log       *zap.Logger

	checkInGrace time.Duration
	noShowGrace  time.Duration
	sweepBatch   int
}

type Option func(*Engine)

// WithCheckInGrace sets how long before a slot starts check-in opens.
func WithCheckInGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.checkInGrace = d
		}
	}
}

// WithNoShowGrace sets how long after a slot starts a booking that was
// never checked in becomes a no-show.
func WithNoShowGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.noShowGrace = d
		}
	}
}

func WithSweepBatch(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepBatch = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(d Deps, opts ...Option) *Engine {
	e := &Engine{
		tx:           d.Tx,
		slots:        d.Slots,
		ledger:       d.Ledger,
		bookings:     d.Bookings,
		settings:     d.Settings,
		penalties:    d.Penalties,
		events:       d.Events,
		clock:        d.Clock,
		log:          zap.NewNop(),
		checkInGrace: DefaultCheckInGrace,
		noShowGrace:  DefaultNoShowGrace,
		sweepBatch:   defaultSweepBatch,
	}
	if e.clock == nil {
		e.clock = clock.NewSystem()
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// BookInput carries a member's booking request.  BranchID, when set,
// must match the slot's branch.  A non-empty IdempotencyKey makes a
// repeated request return the booking created by the first one.
type BookInput struct {
	MemberID       uint64
	SlotID         uint64
	BranchID       uint64
	MembershipID   *uint64
	Notes          *string
	IdempotencyKey string
}

// Book reserves a seat on a slot for a member and debits one credit of
// the slot's benefit type.
func (e *Engine) Book(ctx context.Context, in BookInput) (model.Booking, error) {
	start := time.Now()
	var (
		out      model.Booking
		slot     model.Slot
		replayed bool
	)
	if in.MemberID == 0 || in.SlotID == 0 {
		e.observe("book", start, model.ErrInvalidInput)
		return out, model.ErrInvalidInput
	}
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		if in.IdempotencyKey != "" {
			prev, err := e.bookings.FindByIdempotencyKey(ctx, in.MemberID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if prev != nil {
				if prev.SlotID != in.SlotID {
					return model.ErrIdempotencyConflict
				}
				out, replayed = *prev, true
				return nil
			}
		}

		now := e.clock.Now()
		var err error
		if slot, err = e.slots.Get(ctx, in.SlotID, in.BranchID); err != nil {
			return err
		}
		if !slot.IsActive {
			return model.ErrSlotInactive
		}
		settings, err := e.settings.GetSettings(ctx, slot.BranchID, slot.BenefitType)
		if err != nil {
			return err
		}
		// taken before the daily limit and buffer reads so two bookings of
		// one member for this benefit type cannot both pass them
		balance, err := e.ledger.LockBalance(ctx, in.MemberID, slot.BenefitType)
		if err != nil {
			return err
		}
		dup, err := e.bookings.HasActiveBooking(ctx, in.MemberID, slot.ID)
		if err != nil {
			return err
		}
		if dup {
			return model.ErrAlreadyBooked
		}
		existing, err := e.bookings.ActiveMemberBookings(ctx, in.MemberID,
			slot.StartsAt.Add(-neighbourhood), slot.StartsAt.Add(neighbourhood))
		if err != nil {
			return err
		}
		if err := policy.CanBook(policy.BookingRequest{
			Now:      now,
			Slot:     slot,
			Settings: settings,
			Existing: existing,
		}); err != nil {
			return err
		}
		if slot.Remaining() == 0 {
			return model.ErrSlotFull
		}
		if balance < 1 {
			return model.ErrInsufficientCredits
		}

		// mutations start here; any failure below rolls back the
		// transaction, seat included
		if err := e.slots.ReserveSeat(ctx, slot.ID); err != nil {
			return err
		}
		trace, err := e.ledger.Consume(ctx, in.MemberID, slot.BenefitType, 1)
		if err != nil {
			return err
		}
		b := model.Booking{
			SlotID:         slot.ID,
			BranchID:       slot.BranchID,
			MemberID:       in.MemberID,
			MembershipID:   in.MembershipID,
			BenefitType:    slot.BenefitType,
			State:          model.Booked(now),
			CreatedAt:      now,
			Notes:          in.Notes,
			IdempotencyKey: in.IdempotencyKey,
			Debits:         trace,
		}
		if err := e.bookings.CreateBooking(ctx, &b); err != nil {
			return err
		}
		out = b
		return nil
	})
	e.observe("book", start, err)
	if err != nil {
		return model.Booking{}, err
	}
	if !replayed {
		e.log.Info("booking created",
			zap.Uint64("booking_id", out.ID),
			zap.Uint64("member_id", out.MemberID),
			zap.Uint64("slot_id", out.SlotID),
			zap.String("benefit_type", string(out.BenefitType)))
		e.publish(ctx, Event{Type: EventBooked, Booking: out, Slot: slot, OccurredAt: out.CreatedAt})
	}
	return out, nil
}

// CancelInput identifies the booking to cancel.  MemberID, when set,
// must own the booking; staff cancellations leave it zero.
type CancelInput struct {
	BookingID uint64
	MemberID  uint64
	Reason    string
}

// Cancel cancels a booked reservation before its slot ends.  The seat is
// always released; the credit refund and any penalty follow the benefit's
// cancellation policy evaluated at the current time.
func (e *Engine) Cancel(ctx context.Context, in CancelInput) (model.Booking, model.CancellationOutcome, error) {
	start := time.Now()
	var (
		out     model.Booking
		slot    model.Slot
		outcome model.CancellationOutcome
		penalty *model.Penalty
	)
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := e.owned(ctx, in.BookingID, in.MemberID)
		if err != nil {
			return err
		}
		if b.Status() != model.StatusBooked {
			return model.ErrInvalidTransition
		}
		if slot, err = e.slots.Get(ctx, b.SlotID, 0); err != nil {
			return err
		}
		now := e.clock.Now()
		if !policy.CancelAllowed(now, slot) {
			return model.ErrInvalidTransition
		}
		settings, err := e.settings.GetSettings(ctx, slot.BranchID, slot.BenefitType)
		if err != nil {
			return err
		}
		outcome = policy.Evaluate(slot.StartsAt, now, settings)

		var reason *string
		if in.Reason != "" {
			reason = &in.Reason
		}
		if err := e.transition(ctx, b, model.Cancelled(now), reason); err != nil {
			return err
		}
		if penalty, err = e.settle(ctx, b, outcome, model.PenaltyLateCancellation, now); err != nil {
			return err
		}
		out, err = e.bookings.GetBooking(ctx, b.ID)
		return err
	})
	e.observe("cancel", start, err)
	if err != nil {
		return model.Booking{}, model.CancellationOutcome{}, err
	}
	e.log.Info("booking cancelled",
		zap.Uint64("booking_id", out.ID),
		zap.Bool("late", outcome.Late),
		zap.Bool("refunded", outcome.RefundCredit),
		zap.Int64("penalty_cents", outcome.PenaltyCents))
	e.publish(ctx, Event{Type: EventCancelled, Booking: out, Slot: slot, Outcome: &outcome, OccurredAt: out.State.At()})
	e.publishPenalty(ctx, out, slot, penalty)
	return out, outcome, nil
}

// CheckInInput identifies the booking to check in.  MemberID, when set,
// must own the booking.
type CheckInInput struct {
	BookingID uint64
	MemberID  uint64
}

// CheckIn marks a booked reservation as attended.  It is accepted from
// the check-in grace before the slot starts until the slot ends.  The
// seat stays held and no credit moves.
func (e *Engine) CheckIn(ctx context.Context, in CheckInInput) (model.Booking, error) {
	start := time.Now()
	var (
		out  model.Booking
		slot model.Slot
	)
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := e.owned(ctx, in.BookingID, in.MemberID)
		if err != nil {
			return err
		}
		if b.Status() != model.StatusBooked {
			return model.ErrInvalidTransition
		}
		if slot, err = e.slots.Get(ctx, b.SlotID, 0); err != nil {
			return err
		}
		now := e.clock.Now()
		if !policy.CheckInAllowed(now, slot, e.checkInGrace) {
			return model.ErrInvalidTransition
		}
		if err := e.transition(ctx, b, model.CheckedIn(now), nil); err != nil {
			return err
		}
		out, err = e.bookings.GetBooking(ctx, b.ID)
		return err
	})
	e.observe("check_in", start, err)
	if err != nil {
		return model.Booking{}, err
	}
	e.log.Info("booking checked in", zap.Uint64("booking_id", out.ID))
	e.publish(ctx, Event{Type: EventCheckedIn, Booking: out, Slot: slot, OccurredAt: out.State.At()})
	return out, nil
}

// MarkNoShow moves a booked reservation whose slot started more than the
// no-show grace ago to no_show.  The seat is released and the benefit's
// no-show policy decides the credit and penalty.
func (e *Engine) MarkNoShow(ctx context.Context, bookingID uint64) (model.Booking, error) {
	start := time.Now()
	var (
		out     model.Booking
		slot    model.Slot
		outcome model.CancellationOutcome
		penalty *model.Penalty
	)
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := e.bookings.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status() != model.StatusBooked {
			return model.ErrInvalidTransition
		}
		if slot, err = e.slots.Get(ctx, b.SlotID, 0); err != nil {
			return err
		}
		now := e.clock.Now()
		if !policy.NoShowDue(now, slot, e.noShowGrace) {
			return model.ErrInvalidTransition
		}
		settings, err := e.settings.GetSettings(ctx, slot.BranchID, slot.BenefitType)
		if err != nil {
			return err
		}
		outcome = policy.NoShowOutcome(settings)
		if err := e.transition(ctx, b, model.NoShow(now), nil); err != nil {
			return err
		}
		if penalty, err = e.settle(ctx, b, outcome, model.PenaltyNoShow, now); err != nil {
			return err
		}
		out, err = e.bookings.GetBooking(ctx, b.ID)
		return err
	})
	e.observe("no_show", start, err)
	if err != nil {
		return model.Booking{}, err
	}
	e.log.Info("booking marked no-show",
		zap.Uint64("booking_id", out.ID),
		zap.Bool("refunded", outcome.RefundCredit),
		zap.Int64("penalty_cents", outcome.PenaltyCents))
	e.publish(ctx, Event{Type: EventNoShow, Booking: out, Slot: slot, Outcome: &outcome, OccurredAt: out.State.At()})
	e.publishPenalty(ctx, out, slot, penalty)
	return out, nil
}

// SweepNoShows marks every due booking as a no-show and returns how many
// it moved.  Bookings that were checked in or cancelled concurrently are
// skipped; other failures are logged and returned joined after the batch.
func (e *Engine) SweepNoShows(ctx context.Context) (int, error) {
	cutoff := e.clock.Now().Add(-e.noShowGrace)
	ids, err := e.bookings.DueNoShows(ctx, cutoff, e.sweepBatch)
	if err != nil {
		return 0, err
	}
	var (
		marked int
		errs   []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, err := e.MarkNoShow(ctx, id)
		switch {
		case err == nil:
			marked++
		case errors.Is(err, model.ErrInvalidTransition):
		default:
			e.log.Warn("no-show sweep: booking skipped", zap.Uint64("booking_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return marked, errors.Join(errs...)
}

// ListAvailableSlots lists active, future slots with free seats in
// [from, to).  An empty benefit lists every benefit type.
func (e *Engine) ListAvailableSlots(ctx context.Context, branchID uint64, benefit model.BenefitType, from, to time.Time) iter.Seq2[model.Slot, error] {
	return e.slots.ListAvailable(ctx, slots.Query{
		BranchID:    branchID,
		BenefitType: benefit,
		From:        from,
		To:          to,
		OnlyActive:  true,
	}, e.clock.Now())
}

// GetMemberBookings returns the member's bookings, newest first, limited
// to the given statuses when any are passed.
func (e *Engine) GetMemberBookings(ctx context.Context, memberID uint64, statuses ...model.BookingStatus) ([]model.Booking, error) {
	for _, s := range statuses {
		if !s.Valid() {
			return nil, model.ErrInvalidInput
		}
	}
	return e.bookings.ListMemberBookings(ctx, memberID, statuses)
}

// GetBooking loads one booking.  A non-zero memberID must own it.
func (e *Engine) GetBooking(ctx context.Context, bookingID, memberID uint64) (model.Booking, error) {
	return e.owned(ctx, bookingID, memberID)
}

// ConfigureBenefit validates and stores the settings of a benefit type
// at a branch.  Bookings already made keep the rules of their time.
func (e *Engine) ConfigureBenefit(ctx context.Context, s model.BenefitSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return e.settings.UpsertSettings(ctx, s)
}

// Settings returns the current settings of a benefit type at a branch.
func (e *Engine) Settings(ctx context.Context, branchID uint64, benefit model.BenefitType) (model.BenefitSettings, error) {
	return e.settings.GetSettings(ctx, branchID, benefit)
}

func (e *Engine) owned(ctx context.Context, bookingID, memberID uint64) (model.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if memberID != 0 && b.MemberID != memberID {
		return model.Booking{}, model.ErrBookingNotFound
	}
	return b, nil
}

// transition moves b out of booked.  Losing the compare-and-set to a
// concurrent transition is reported as ErrInvalidTransition.
func (e *Engine) transition(ctx context.Context, b model.Booking, to model.BookingState, reason *string) error {
	ok, err := e.bookings.TransitionBooking(ctx, b.ID, model.StatusBooked, to, reason)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrInvalidTransition
	}
	return nil
}

// settle releases the seat of a booking leaving booked for a terminal,
// seat-less state, then applies the outcome to credits and penalties.
func (e *Engine) settle(ctx context.Context, b model.Booking, o model.CancellationOutcome, reason string, now time.Time) (*model.Penalty, error) {
	if err := e.slots.ReleaseSeat(ctx, b.SlotID); err != nil {
		return nil, err
	}
	if o.RefundCredit && len(b.Debits) > 0 {
		if err := e.ledger.Refund(ctx, b.MemberID, b.BenefitType, b.Debits.Total(), b.Debits); err != nil {
			return nil, err
		}
	}
	if o.PenaltyCents <= 0 {
		return nil, nil
	}
	p := &model.Penalty{
		BookingID:   b.ID,
		MemberID:    b.MemberID,
		BranchID:    b.BranchID,
		AmountCents: o.PenaltyCents,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := e.penalties.RecordPenalty(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	metrics.RecordOperation(op, ErrorCode(err), time.Since(start))
	if errors.Is(err, model.ErrInternalConsistency) {
		e.log.Error("booking operation aborted", zap.String("op", op), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Uint64("booking_id", ev.Booking.ID), zap.Error(err))
	}
}

func (e *Engine) publishPenalty(ctx context.Context, b model.Booking, slot model.Slot, p *model.Penalty) {
	if p == nil {
		return
	}
	metrics.RecordPenalty(p.AmountCents)
	e.publish(ctx, Event{Type: EventPenaltyRecorded, Booking: b, Slot: slot, Penalty: p, OccurredAt: p.CreatedAt})
}
