package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AuditBindings are the routing keys the audit queue listens to.
var AuditBindings = []string{"booking.#", "penalty.#"}

// AuditConsumer appends every booking event to a log file, one line per
// event.  It reconnects to the broker with exponential backoff until its
// context is cancelled.
type AuditConsumer struct {
	URL      string
	Exchange string
	Queue    string
	Path     string
	Log      *zap.Logger

	mu sync.Mutex
}

// Run blocks until ctx is cancelled.
func (a *AuditConsumer) Run(ctx context.Context) error {
	if a.Log == nil {
		a.Log = zap.NewNop()
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(a.URL)
		if err == nil {
			backoff = time.Second
			err = a.consume(ctx, conn)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		a.Log.Warn("audit consumer disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (a *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.Log.Warn("audit consumer: set qos failed", zap.Error(err))
	}
	if err := ch.ExchangeDeclare(a.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare(a.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range AuditBindings {
		if err := ch.QueueBind(q.Name, key, a.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	a.Log.Info("audit consumer started", zap.String("queue", q.Name), zap.String("exchange", a.Exchange))

	for d := range msgs {
		if err := a.Handle(d.Body); err != nil {
			a.Log.Error("audit consumer: message rejected", zap.String("message_id", d.MessageId), zap.Error(err))
			// not requeued, a bad payload would loop forever
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle decodes one message body and appends its audit line.
func (a *AuditConsumer) Handle(body []byte) error {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.BookingID == 0 {
		return errors.New("event without type or booking id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(a.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatLine(ev) + "\n"); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// FormatLine renders an event as a single human-readable line.
func FormatLine(ev BookingEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | booking_id=%d | member_id=%d | branch_id=%d | slot_id=%d | benefit=%s | status=%s",
		ev.OccurredAt, ev.Type, ev.BookingID, ev.MemberID, ev.BranchID, ev.SlotID, ev.BenefitType, ev.Status)
	if ev.SlotStartsAt != "" {
		fmt.Fprintf(&b, " | slot=%s..%s", ev.SlotStartsAt, ev.SlotEndsAt)
	}
	if ev.Credits > 0 {
		fmt.Fprintf(&b, " | credits=%d", ev.Credits)
	}
	if ev.Late != nil {
		fmt.Fprintf(&b, " | late=%t", *ev.Late)
	}
	if ev.RefundCredit != nil {
		fmt.Fprintf(&b, " | refunded=%t", *ev.RefundCredit)
	}
	if ev.PenaltyCents > 0 {
		fmt.Fprintf(&b, " | penalty=%d cents", ev.PenaltyCents)
		if ev.PenaltyReason != "" {
			fmt.Fprintf(&b, " (%s)", ev.PenaltyReason)
		}
	}
	return b.String()
}
