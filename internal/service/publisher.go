// Package service holds adapters between the booking engine and external
// infrastructure.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/queue"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends booking events to a topic exchange over one long-lived
// connection.  The connection is opened lazily and re-opened after the
// broker drops it.
type Publisher struct {
	url      string
	exchange string
	log      *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
	dial func() (*amqp.Connection, channel, error)
}

// NewPublisher returns a publisher for exchange.  No connection is made
// until the first event is published.
func NewPublisher(url, exchange string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{url: url, exchange: exchange, log: log}
	p.dial = p.dialBroker
	return p
}

func (p *Publisher) dialBroker() (*amqp.Connection, channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

// Publish implements booking.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, ev booking.Event) error {
	return p.PublishJSON(ctx, ev.Type, ToMessage(ev, uuid.NewString()))
}

// PublishJSON marshals v and publishes it under key.  A publish that fails
// on a closed channel is retried once on a fresh connection.
func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if m, ok := v.(queue.BookingEvent); ok {
		msg.MessageId = m.EventID
		msg.Type = m.Type
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		if p.ch == nil {
			conn, ch, err := p.dial()
			if err != nil {
				return err
			}
			p.conn, p.ch = conn, ch
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("publish %s: %w", key, err)
		}
		p.log.Warn("rabbitmq channel closed, reconnecting", zap.String("key", key))
		p.reset()
	}
	return fmt.Errorf("publish %s: %w", key, err)
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// ToMessage flattens an engine event into its wire payload.
func ToMessage(ev booking.Event, eventID string) queue.BookingEvent {
	b := ev.Booking
	m := queue.BookingEvent{
		EventID:     eventID,
		Type:        ev.Type,
		OccurredAt:  ev.OccurredAt.UTC().Format(time.RFC3339),
		BookingID:   b.ID,
		MemberID:    b.MemberID,
		BranchID:    b.BranchID,
		SlotID:      b.SlotID,
		BenefitType: string(b.BenefitType),
		Status:      string(b.Status()),
		Credits:     b.Debits.Total(),
	}
	if !ev.Slot.StartsAt.IsZero() {
		m.SlotStartsAt = ev.Slot.StartsAt.UTC().Format(time.RFC3339)
		m.SlotEndsAt = ev.Slot.EndsAt.UTC().Format(time.RFC3339)
	}
	if o := ev.Outcome; o != nil {
		late, refund := o.Late, o.RefundCredit
		m.Late, m.RefundCredit = &late, &refund
		m.PenaltyCents = o.PenaltyCents
	}
	if pen := ev.Penalty; pen != nil {
		m.PenaltyCents = pen.AmountCents
		m.PenaltyReason = pen.Reason
	}
	return m
}
