package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/printshop-api/internal/order"
	"github.com/noah-isme/printshop-api/internal/payment"
)

// Enqueuer is the subset of *asynq.Client used by the bus.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier reacts to emitted events in-process.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Event is the envelope carried by every task.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Bus enqueues domain events as asynq tasks and fans them out to local notifiers.
type Bus struct {
	Queue     Enqueuer
	QueueName string
	MaxRetry  int
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit enqueues the event. The task id is derived from topic and aggregate so a repeated
// emit for the same aggregate is absorbed by the queue.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Queue == nil {
		return Event{}, errors.New("events: queue not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now().UTC()
	if b.Now != nil {
		now = b.Now()
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  now,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode envelope: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(TaskID(topic, aggregateID))}
	if b.QueueName != "" {
		opts = append(opts, asynq.Queue(b.QueueName))
	}
	if b.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(b.MaxRetry))
	}
	if _, err := b.Queue.EnqueueContext(ctx, asynq.NewTask(topic, body), opts...); err != nil {
		if !errors.Is(err, asynq.ErrTaskIDConflict) && !errors.Is(err, asynq.ErrDuplicateTask) {
			return Event{}, fmt.Errorf("events: enqueue: %w", err)
		}
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

// OrderCreated implements order.Publisher.
func (b *Bus) OrderCreated(ctx context.Context, evt order.CreatedEvent) error {
	_, err := b.Emit(ctx, TopicOrderCreated, evt.OrderID, evt)
	return err
}

// PaymentFailed implements payment.FailurePublisher.
func (b *Bus) PaymentFailed(ctx context.Context, evt payment.FailureEvent) error {
	_, err := b.Emit(ctx, TopicPaymentFailed, evt.Reference, evt)
	return err
}

// TaskID is the queue-level dedupe key of an event.
func TaskID(topic, aggregateID string) string {
	return topic + ":" + aggregateID
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return validJSON(v)
	case json.RawMessage:
		return validJSON(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		return validJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
