package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/model"
	"github.com/iliyamo/amenity-booking/internal/queue"
)

type fakeChannel struct {
	fail   error
	sent   []amqp.Publishing
	keys   []string
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.fail != nil {
		return f.fail
	}
	f.keys = append(f.keys, key)
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error { f.closed = true; return nil }

func sampleEvent() booking.Event {
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	return booking.Event{
		Type: booking.EventCancelled,
		Booking: model.Booking{
			ID: 12, SlotID: 3, BranchID: 1, MemberID: 7,
			BenefitType: model.BenefitPool,
			State:       model.Cancelled(at),
			Debits:      model.DebitTrace{{GrantID: 5, Amount: 1}},
		},
		Slot:       model.Slot{ID: 3, StartsAt: at.Add(2 * time.Hour), EndsAt: at.Add(3 * time.Hour)},
		Outcome:    &model.CancellationOutcome{Late: true, PenaltyCents: 500},
		OccurredAt: at,
	}
}

func TestToMessage(t *testing.T) {
	m := ToMessage(sampleEvent(), "evt-1")
	assert.Equal(t, "evt-1", m.EventID)
	assert.Equal(t, "booking.cancelled", m.Type)
	assert.Equal(t, "cancelled", m.Status)
	assert.Equal(t, uint32(1), m.Credits)
	assert.Equal(t, "2026-03-03T11:00:00Z", m.SlotStartsAt)
	require.NotNil(t, m.Late)
	assert.True(t, *m.Late)
	require.NotNil(t, m.RefundCredit)
	assert.False(t, *m.RefundCredit)
	assert.Equal(t, int64(500), m.PenaltyCents)
}

func TestPublishUsesEventTypeAsRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher("amqp://unused", "booking.events", nil)
	p.dial = func() (*amqp.Connection, channel, error) { return nil, ch, nil }

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "booking.cancelled", ch.keys[0])
	assert.Equal(t, amqp.Persistent, ch.sent[0].DeliveryMode)
	assert.NotEmpty(t, ch.sent[0].MessageId)

	var got queue.BookingEvent
	require.NoError(t, json.Unmarshal(ch.sent[0].Body, &got))
	assert.Equal(t, ch.sent[0].MessageId, got.EventID)
	assert.Equal(t, uint64(12), got.BookingID)
}

func TestPublishReconnectsOnClosedChannel(t *testing.T) {
	broken := &fakeChannel{fail: amqp.ErrClosed}
	healthy := &fakeChannel{}
	dials := 0
	p := NewPublisher("amqp://unused", "booking.events", nil)
	p.dial = func() (*amqp.Connection, channel, error) {
		dials++
		if dials == 1 {
			return nil, broken, nil
		}
		return nil, healthy, nil
	}

	require.NoError(t, p.PublishJSON(context.Background(), "booking.created", map[string]int{"a": 1}))
	assert.Equal(t, 2, dials)
	assert.True(t, broken.closed)
	assert.Len(t, healthy.sent, 1)
}

func TestPublishDialFailure(t *testing.T) {
	p := NewPublisher("amqp://unused", "booking.events", nil)
	p.dial = func() (*amqp.Connection, channel, error) { return nil, nil, errors.New("refused") }
	assert.EqualError(t, p.Publish(context.Background(), sampleEvent()), "refused")
}
