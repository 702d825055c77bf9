package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/memstore"
	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/slots"
)

var slotStart = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	clk    *clock.Manual
	store  *memstore.Store
	ledger *credits.Ledger
	engine *Engine
	events *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(slotStart.Add(-2 * time.Hour))
	st := memstore.New(clk.Now)
	ledger := credits.NewLedger(st, st, clk, nil)
	pub := &recordingPublisher{}
	eng := NewEngine(Deps{
		Tx:        st,
		Slots:     slots.NewDirectory(st, nil),
		Ledger:    ledger,
		Bookings:  st,
		Settings:  st,
		Penalties: st,
		Events:    pub,
		Clock:     clk,
	})
	return &fixture{clk: clk, store: st, ledger: ledger, engine: eng, events: pub}
}

func (f *fixture) settings(t *testing.T, mutate func(*model.BenefitSettings)) {
	t.Helper()
	s := model.BenefitSettings{
		BranchID:                    1,
		BenefitType:                 model.BenefitPool,
		SlotDurationMinutes:         60,
		BookingOpensHoursBefore:     48,
		CancellationDeadlineMinutes: 60,
		NoShowPolicy:                model.NoShowForfeitCredit,
		OpensAt:                     "06:00",
		ClosesAt:                    "22:00",
		DefaultCapacity:             10,
	}
	if mutate != nil {
		mutate(&s)
	}
	require.NoError(t, f.engine.ConfigureBenefit(context.Background(), s))
}

func (f *fixture) slot(start time.Time, capacity uint32) model.Slot {
	return f.store.AddSlot(model.Slot{
		BranchID:    1,
		BenefitType: model.BenefitPool,
		Date:        start.Format(time.DateOnly),
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Capacity:    capacity,
		IsActive:    true,
	})
}

func (f *fixture) grant(t *testing.T, memberID uint64, credits uint32) model.CreditGrant {
	t.Helper()
	g, err := f.ledger.Issue(context.Background(), model.CreditGrant{
		MemberID:     memberID,
		BenefitType:  model.BenefitPool,
		CreditsTotal: credits,
	})
	require.NoError(t, err)
	return g
}

func (f *fixture) remaining(t *testing.T, grantID uint64) uint32 {
	t.Helper()
	g, ok := f.store.Grant(grantID)
	require.True(t, ok)
	return g.CreditsRemaining
}

func (f *fixture) booked(t *testing.T, slotID uint64) uint32 {
	t.Helper()
	s, err := f.store.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	return s.BookedCount
}

func TestBookThenCancelBeforeDeadlineRefunds(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	slot := f.slot(slotStart, 1)
	g := f.grant(t, 7, 1)
	ctx := context.Background()

	b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBooked, b.Status())
	assert.Equal(t, uint32(0), f.remaining(t, g.ID))
	assert.Equal(t, uint32(1), f.booked(t, slot.ID))

	f.clk.Set(slotStart.Add(-90 * time.Minute))
	out, outcome, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID, MemberID: 7, Reason: "sick"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status())
	assert.True(t, outcome.Free())
	assert.Equal(t, uint32(1), f.remaining(t, g.ID))
	assert.Equal(t, uint32(0), f.booked(t, slot.ID))
	require.NotNil(t, out.CancellationReason)
	assert.Equal(t, "sick", *out.CancellationReason)
	assert.Equal(t, []string{EventBooked, EventCancelled}, f.events.types())
}

func TestLateCancelForfeitsCredit(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	slot := f.slot(slotStart, 1)
	g := f.grant(t, 7, 1)
	ctx := context.Background()

	b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)

	f.clk.Set(slotStart.Add(-10 * time.Minute))
	out, outcome, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status())
	assert.True(t, outcome.Late)
	assert.False(t, outcome.RefundCredit)
	assert.Equal(t, uint32(0), f.remaining(t, g.ID))
	assert.Equal(t, uint32(0), f.booked(t, slot.ID))
	assert.Empty(t, f.store.Penalties(7))
}

func TestLateCancelWithMonetaryPenalty(t *testing.T) {
	f := newFixture(t)
	f.settings(t, func(s *model.BenefitSettings) {
		s.NoShowPolicy = model.NoShowMonetaryPenalty
		s.NoShowPenaltyCents = 1500
	})
	slot := f.slot(slotStart, 1)
	g := f.grant(t, 7, 1)
	ctx := context.Background()

	b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)

	f.clk.Set(slotStart.Add(-5 * time.Minute))
	_, outcome, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID})
	require.NoError(t, err)
	assert.True(t, outcome.RefundCredit)
	assert.Equal(t, int64(1500), outcome.PenaltyCents)
	assert.Equal(t, uint32(1), f.remaining(t, g.ID))

	ps := f.store.Penalties(7)
	require.Len(t, ps, 1)
	assert.Equal(t, model.PenaltyLateCancellation, ps[0].Reason)
	assert.Equal(t, b.ID, ps[0].BookingID)
	assert.Contains(t, f.events.types(), EventPenaltyRecorded)
}

func TestConcurrentBookingsOnLastSeat(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	slot := f.slot(slotStart, 1)
	grants := map[uint64]model.CreditGrant{}
	for _, m := range []uint64{1, 2, 3, 4, 5, 6, 7, 8} {
		grants[m] = f.grant(t, m, 2)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []uint64
		errs []error
	)
	for m := range grants {
		wg.Add(1)
		go func(member uint64) {
			defer wg.Done()
			_, err := f.engine.Book(context.Background(), BookInput{MemberID: member, SlotID: slot.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins = append(wins, member)
				return
			}
			errs = append(errs, err)
		}(m)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	for _, err := range errs {
		assert.ErrorIs(t, err, model.ErrSlotFull)
	}
	assert.Equal(t, uint32(1), f.booked(t, slot.ID))
	for m, g := range grants {
		want := uint32(2)
		if m == wins[0] {
			want = 1
		}
		assert.Equal(t, want, f.remaining(t, g.ID), "member %d", m)
	}
}

func TestBookRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient credits leaves the seat free", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 1)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		assert.ErrorIs(t, err, model.ErrInsufficientCredits)
		assert.Equal(t, uint32(0), f.booked(t, slot.ID))
	})

	t.Run("already booked", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 5)
		g := f.grant(t, 7, 3)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)
		_, err = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		assert.ErrorIs(t, err, model.ErrAlreadyBooked)
		assert.Equal(t, uint32(2), f.remaining(t, g.ID))
		assert.Equal(t, uint32(1), f.booked(t, slot.ID))
	})

	t.Run("window not open yet", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) { s.BookingOpensHoursBefore = 1 })
		slot := f.slot(slotStart, 5)
		f.grant(t, 7, 1)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		assert.ErrorIs(t, err, model.ErrBookingWindowClosed)
	})

	t.Run("slot already started", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 5)
		f.grant(t, 7, 1)
		f.clk.Set(slotStart.Add(time.Minute))
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		assert.ErrorIs(t, err, model.ErrBookingWindowClosed)
	})

	t.Run("inactive slot", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 5)
		f.grant(t, 7, 1)
		require.NoError(t, f.store.SetActive(ctx, slot.ID, false))
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		assert.ErrorIs(t, err, model.ErrSlotInactive)
	})

	t.Run("other branch", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 5)
		f.grant(t, 7, 1)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID, BranchID: 2})
		assert.ErrorIs(t, err, model.ErrSlotNotFound)
	})

	t.Run("daily limit", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) { s.MaxBookingsPerDay = 1 })
		first := f.slot(slotStart, 5)
		second := f.slot(slotStart.Add(3*time.Hour), 5)
		f.grant(t, 7, 2)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: first.ID})
		require.NoError(t, err)
		_, err = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: second.ID})
		assert.ErrorIs(t, err, model.ErrDailyLimitExceeded)
	})

	t.Run("buffer between sessions", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) { s.BufferBetweenSessionsMinutes = 30 })
		first := f.slot(slotStart, 5)
		adjacent := f.slot(slotStart.Add(time.Hour), 5)
		later := f.slot(slotStart.Add(90*time.Minute), 5)
		f.grant(t, 7, 3)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: first.ID})
		require.NoError(t, err)
		_, err = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: adjacent.ID})
		assert.ErrorIs(t, err, model.ErrBufferConflict)
		_, err = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: later.ID})
		assert.NoError(t, err)
	})

	t.Run("missing settings", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(slotStart, 5)
		f.grant(t, 7, 1)
		_, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		assert.ErrorIs(t, err, model.ErrSettingsNotFound)
	})
}

func TestBookIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	slot := f.slot(slotStart, 5)
	other := f.slot(slotStart.Add(4*time.Hour), 5)
	g := f.grant(t, 7, 3)
	ctx := context.Background()

	first, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID, IdempotencyKey: "k-1"})
	require.NoError(t, err)
	again, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID, IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, uint32(2), f.remaining(t, g.ID))
	assert.Equal(t, uint32(1), f.booked(t, slot.ID))

	_, err = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: other.ID, IdempotencyKey: "k-1"})
	assert.ErrorIs(t, err, model.ErrIdempotencyConflict)
	assert.Equal(t, []string{EventBooked}, f.events.types())
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()

	t.Run("inside the window keeps the seat", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 2)
		g := f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)

		f.clk.Set(slotStart.Add(-10 * time.Minute))
		out, err := f.engine.CheckIn(ctx, CheckInInput{BookingID: b.ID, MemberID: 7})
		require.NoError(t, err)
		assert.Equal(t, model.StatusCheckedIn, out.Status())
		at, ok := out.State.CheckedInAt()
		require.True(t, ok)
		assert.Equal(t, f.clk.Now(), at)
		assert.Equal(t, uint32(1), f.booked(t, slot.ID))
		assert.Equal(t, uint32(0), f.remaining(t, g.ID))

		_, _, err = f.engine.Cancel(ctx, CancelInput{BookingID: b.ID})
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("too early", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 2)
		f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)
		_, err = f.engine.CheckIn(ctx, CheckInInput{BookingID: b.ID})
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("someone else's booking", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, nil)
		slot := f.slot(slotStart, 2)
		f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)
		f.clk.Set(slotStart)
		_, err = f.engine.CheckIn(ctx, CheckInInput{BookingID: b.ID, MemberID: 8})
		assert.ErrorIs(t, err, model.ErrBookingNotFound)
	})
}

func TestNoShow(t *testing.T) {
	ctx := context.Background()

	t.Run("both policy forfeits and charges", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) {
			s.NoShowPolicy = model.NoShowBoth
			s.NoShowPenaltyCents = 900
		})
		slot := f.slot(slotStart, 2)
		g := f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)

		f.clk.Set(slotStart.Add(5 * time.Minute))
		_, err = f.engine.MarkNoShow(ctx, b.ID)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)

		f.clk.Set(slotStart.Add(20 * time.Minute))
		out, err := f.engine.MarkNoShow(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusNoShow, out.Status())
		assert.Equal(t, uint32(0), f.booked(t, slot.ID))
		assert.Equal(t, uint32(0), f.remaining(t, g.ID))
		ps := f.store.Penalties(7)
		require.Len(t, ps, 1)
		assert.Equal(t, model.PenaltyNoShow, ps[0].Reason)
		assert.Equal(t, int64(900), ps[0].AmountCents)

		_, err = f.engine.MarkNoShow(ctx, b.ID)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
		assert.Len(t, f.store.Penalties(7), 1)
	})

	t.Run("none policy refunds", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) { s.NoShowPolicy = model.NoShowNone })
		slot := f.slot(slotStart, 2)
		g := f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)
		f.clk.Set(slotStart.Add(time.Hour))
		_, err = f.engine.MarkNoShow(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), f.remaining(t, g.ID))
		assert.Empty(t, f.store.Penalties(7))
	})
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	ctx := context.Background()
	slot := f.slot(slotStart, 5)
	var ids []uint64
	for _, m := range []uint64{1, 2, 3} {
		f.grant(t, m, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: m, SlotID: slot.ID})
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	f.clk.Set(slotStart.Add(5 * time.Minute))
	_, err := f.engine.CheckIn(ctx, CheckInInput{BookingID: ids[0]})
	require.NoError(t, err)

	f.clk.Set(slotStart.Add(30 * time.Minute))
	n, err := f.engine.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint32(1), f.booked(t, slot.ID))

	n, err = f.engine.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	checked, err := f.engine.GetBooking(ctx, ids[0], 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCheckedIn, checked.Status())
}

func TestRefundAfterGrantExpiredIssuesAdjustment(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	ctx := context.Background()
	slot := f.slot(slotStart, 2)
	exp := slotStart.Add(-100 * time.Minute)
	g, err := f.ledger.Issue(ctx, model.CreditGrant{
		MemberID:     7,
		BenefitType:  model.BenefitPool,
		CreditsTotal: 1,
		ExpiresAt:    &exp,
	})
	require.NoError(t, err)

	b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)

	f.clk.Set(slotStart.Add(-90 * time.Minute))
	_, outcome, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID, MemberID: 7})
	require.NoError(t, err)
	assert.True(t, outcome.RefundCredit)
	assert.Equal(t, uint32(0), f.remaining(t, g.ID))

	bal, err := f.ledger.Balance(ctx, 7, model.BenefitPool)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), bal)
}

func TestGetMemberBookings(t *testing.T) {
	f := newFixture(t)
	f.settings(t, nil)
	ctx := context.Background()
	a := f.slot(slotStart, 5)
	b := f.slot(slotStart.Add(3*time.Hour), 5)
	f.grant(t, 7, 2)
	first, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: a.ID})
	require.NoError(t, err)
	_, err = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: b.ID})
	require.NoError(t, err)
	_, _, err = f.engine.Cancel(ctx, CancelInput{BookingID: first.ID})
	require.NoError(t, err)

	all, err := f.engine.GetMemberBookings(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := f.engine.GetMemberBookings(ctx, 7, model.StatusCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].ID)

	_, err = f.engine.GetMemberBookings(ctx, 7, model.BookingStatus("paused"))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, 4, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return model.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(ctx, 4, time.Millisecond, func() error {
		calls++
		return model.ErrSlotFull
	})
	assert.ErrorIs(t, err, model.ErrSlotFull)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(ctx, 2, time.Millisecond, func() error {
		calls++
		return model.ErrConflict
	})
	assert.True(t, errors.Is(err, model.ErrConflict))
	assert.Equal(t, 2, calls)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "ok", ErrorCode(nil))
	assert.Equal(t, "slot_full", ErrorCode(model.ErrSlotFull))
	assert.Equal(t, "internal_consistency_fault", ErrorCode(&model.ConsistencyFault{Op: "release_seat"}))
	assert.Equal(t, "internal", ErrorCode(errors.New("boom")))
}
