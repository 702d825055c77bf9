package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/memstore"
	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/policy"
	"github.com/iliyamo/amenity-booking/internal/slots"
)

func TestPolicySpellingsAreNormalized(t *testing.T) {
	ctx := context.Background()

	t.Run("hyphenated forfeit keeps the credit", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) { s.NoShowPolicy = "forfeit-credit" })
		stored, err := f.engine.Settings(ctx, 1, model.BenefitPool)
		require.NoError(t, err)
		assert.Equal(t, model.NoShowForfeitCredit, stored.NoShowPolicy)

		slot := f.slot(slotStart, 1)
		g := f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)

		f.clk.Set(slotStart.Add(-10 * time.Minute))
		_, outcome, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID, MemberID: 7})
		require.NoError(t, err)
		assert.True(t, outcome.Late)
		assert.False(t, outcome.RefundCredit)
		assert.Equal(t, uint32(0), f.remaining(t, g.ID))
		assert.Equal(t, uint32(0), f.booked(t, slot.ID))
	})

	t.Run("upper-case monetary penalty is charged", func(t *testing.T) {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) {
			s.NoShowPolicy = "MONETARY-PENALTY"
			s.NoShowPenaltyCents = 500
		})
		slot := f.slot(slotStart, 1)
		g := f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)

		f.clk.Set(slotStart.Add(-10 * time.Minute))
		_, outcome, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID, MemberID: 7})
		require.NoError(t, err)
		assert.True(t, outcome.RefundCredit)
		assert.Equal(t, int64(500), outcome.PenaltyCents)
		assert.Equal(t, uint32(1), f.remaining(t, g.ID))
		require.Len(t, f.store.Penalties(7), 1)
	})

	t.Run("unknown policy is rejected", func(t *testing.T) {
		f := newFixture(t)
		err := f.engine.ConfigureBenefit(ctx, model.BenefitSettings{
			BranchID: 1, BenefitType: model.BenefitPool, SlotDurationMinutes: 60,
			NoShowPolicy: "forfeit", OpensAt: "06:00", ClosesAt: "22:00", DefaultCapacity: 4,
		})
		assert.ErrorIs(t, err, model.ErrInvalidInput)
		_, err = f.engine.Settings(ctx, 1, model.BenefitPool)
		assert.ErrorIs(t, err, model.ErrSettingsNotFound)
	})
}

func TestLifecycleTransitionsRace(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		f.settings(t, func(s *model.BenefitSettings) {
			s.NoShowPolicy = model.NoShowBoth
			s.NoShowPenaltyCents = 500
		})
		slot := f.slot(slotStart, 1)
		g := f.grant(t, 7, 1)
		b, err := f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
		require.NoError(t, err)

		// past the no-show grace, before the slot ends: all three are allowed
		f.clk.Set(slotStart.Add(20 * time.Minute))

		var (
			wg    sync.WaitGroup
			ready = make(chan struct{})
			errs  = make([]error, 3)
		)
		ops := []func() error{
			func() error {
				_, _, err := f.engine.Cancel(ctx, CancelInput{BookingID: b.ID, MemberID: 7})
				return err
			},
			func() error {
				_, err := f.engine.CheckIn(ctx, CheckInInput{BookingID: b.ID, MemberID: 7})
				return err
			},
			func() error {
				_, err := f.engine.MarkNoShow(ctx, b.ID)
				return err
			},
		}
		for n, op := range ops {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				errs[n] = op()
			}()
		}
		close(ready)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		}
		require.Equal(t, 1, wins, "errors: %v", errs)

		got, err := f.engine.GetBooking(ctx, b.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), f.remaining(t, g.ID), "credit is never refunded twice")
		switch got.Status() {
		case model.StatusCheckedIn:
			assert.Nil(t, errs[1])
			assert.Equal(t, uint32(1), f.booked(t, slot.ID))
			assert.Empty(t, f.store.Penalties(7))
		case model.StatusCancelled, model.StatusNoShow:
			assert.Equal(t, uint32(0), f.booked(t, slot.ID), "seat released exactly once")
			assert.Len(t, f.store.Penalties(7), 1)
		default:
			t.Fatalf("unexpected status %s", got.Status())
		}
	}
}

func TestConcurrentBooksOfOneCreditOnTwoSlots(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		f.settings(t, nil)
		morning := f.slot(slotStart, 5)
		evening := f.slot(slotStart.Add(3*time.Hour), 5)
		g := f.grant(t, 7, 1)

		var (
			wg    sync.WaitGroup
			ready = make(chan struct{})
			errs  = make([]error, 2)
		)
		for n, id := range []uint64{morning.ID, evening.ID} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				_, errs[n] = f.engine.Book(ctx, BookInput{MemberID: 7, SlotID: id})
			}()
		}
		close(ready)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, model.ErrInsufficientCredits)
		}
		require.Equal(t, 1, wins, "errors: %v", errs)
		assert.Equal(t, uint32(wins), f.booked(t, morning.ID)+f.booked(t, evening.ID))
		assert.Equal(t, uint32(0), f.remaining(t, g.ID))
	}
}

// drainedGrants hands out the member's grants once; later reads find them
// spent, as if another request consumed them in between.
type drainedGrants struct {
	*memstore.Store
	mu    sync.Mutex
	reads int
}

func (d *drainedGrants) LockUsableGrants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	d.mu.Lock()
	d.reads++
	n := d.reads
	d.mu.Unlock()
	if n > 1 {
		return nil, nil
	}
	return d.Store.LockUsableGrants(ctx, memberID, benefit)
}

func TestFailedConsumeReleasesReservedSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.settings(t, nil)
	slot := f.slot(slotStart, 1)
	g := f.grant(t, 7, 1)

	grants := &drainedGrants{Store: f.store}
	pub := &recordingPublisher{}
	eng := NewEngine(Deps{
		Tx:        f.store,
		Slots:     slots.NewDirectory(f.store, nil),
		Ledger:    credits.NewLedger(grants, f.store, f.clk, nil),
		Bookings:  f.store,
		Settings:  f.store,
		Penalties: f.store,
		Events:    pub,
		Clock:     f.clk,
	})

	_, err := eng.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
	require.ErrorIs(t, err, model.ErrInsufficientCredits)
	assert.Equal(t, 2, grants.reads, "the seat was reserved before credits were consumed")
	assert.Equal(t, uint32(0), f.booked(t, slot.ID))
	assert.Equal(t, uint32(1), f.remaining(t, g.ID))
	bookings, err := eng.GetMemberBookings(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Empty(t, pub.types())
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

type loggedGrants struct {
	*memstore.Store
	log *callLog
}

func (g loggedGrants) LockUsableGrants(ctx context.Context, memberID uint64, benefit model.BenefitType) ([]model.CreditGrant, error) {
	g.log.add("lock_grants")
	return g.Store.LockUsableGrants(ctx, memberID, benefit)
}

type loggedBookings struct {
	*memstore.Store
	log *callLog
}

func (b loggedBookings) ActiveMemberBookings(ctx context.Context, memberID uint64, from, to time.Time) ([]policy.ActiveBooking, error) {
	b.log.add("active_bookings")
	return b.Store.ActiveMemberBookings(ctx, memberID, from, to)
}

func TestBookLocksGrantsBeforeDailyLimitRead(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(slotStart.Add(-2 * time.Hour))
	st := memstore.New(clk.Now)
	calls := &callLog{}
	ledger := credits.NewLedger(loggedGrants{Store: st, log: calls}, st, clk, nil)
	eng := NewEngine(Deps{
		Tx:        st,
		Slots:     slots.NewDirectory(st, nil),
		Ledger:    ledger,
		Bookings:  loggedBookings{Store: st, log: calls},
		Settings:  st,
		Penalties: st,
		Clock:     clk,
	})
	require.NoError(t, eng.ConfigureBenefit(ctx, model.BenefitSettings{
		BranchID: 1, BenefitType: model.BenefitPool, SlotDurationMinutes: 60, BookingOpensHoursBefore: 48,
		NoShowPolicy: model.NoShowNone, MaxBookingsPerDay: 1, OpensAt: "06:00", ClosesAt: "22:00", DefaultCapacity: 4,
	}))
	slot := st.AddSlot(model.Slot{
		BranchID: 1, BenefitType: model.BenefitPool, Date: slotStart.Format(time.DateOnly),
		StartsAt: slotStart, EndsAt: slotStart.Add(time.Hour), Capacity: 4, IsActive: true,
	})
	_, err := ledger.Issue(ctx, model.CreditGrant{MemberID: 7, BenefitType: model.BenefitPool, CreditsTotal: 2})
	require.NoError(t, err)

	_, err = eng.Book(ctx, BookInput{MemberID: 7, SlotID: slot.ID})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(calls.calls), 2)
	assert.Equal(t, []string{"lock_grants", "active_bookings"}, calls.calls[:2])
}
