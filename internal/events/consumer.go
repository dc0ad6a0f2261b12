package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printshop-api/internal/order"
)

// Consumer decodes event tasks and hands them to notifiers. It implements asynq.Handler.
type Consumer struct {
	Notifiers []Notifier
	Logger    zerolog.Logger
}

// Register subscribes the consumer to every default topic.
func (c *Consumer) Register(mux *asynq.ServeMux) {
	for _, topic := range DefaultTopics() {
		mux.Handle(topic, c)
	}
}

// ProcessTask implements asynq.Handler. Malformed envelopes are skipped without retry.
func (c *Consumer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		c.Logger.Error().Err(err).Str("topic", task.Type()).Msg("drop malformed event")
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	if ev.Topic == "" {
		ev.Topic = task.Type()
	}
	var joined error
	for _, n := range c.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	if joined != nil {
		c.Logger.Warn().Err(joined).Str("topic", ev.Topic).Str("aggregate_id", ev.AggregateID).Msg("event handling failed")
	}
	return joined
}

// LogNotifier writes a structured log line per event.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, ev Event) error {
	entry := l.Logger.Info().Str("topic", ev.Topic).Str("event_id", ev.ID).Str("aggregate_id", ev.AggregateID)
	if ev.Topic == TopicOrderCreated {
		var created order.CreatedEvent
		if err := json.Unmarshal(ev.Payload, &created); err == nil {
			entry = entry.Str("cart_id", created.CartID).Str("provider", string(created.Provider)).Int64("total_cents", created.TotalCents)
		}
	}
	entry.Msg("event received")
	return nil
}

// TaskLogger adapts zerolog to asynq.Logger.
type TaskLogger struct {
	Logger zerolog.Logger
}

func (l TaskLogger) Debug(args ...any) { l.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Info(args ...any)  { l.Logger.Info().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Warn(args ...any)  { l.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (l TaskLogger) Error(args ...any) { l.Logger.Error().Msg(fmt.Sprint(args...)) }

// Fatal logs at fatal level, which exits the process.
func (l TaskLogger) Fatal(args ...any) { l.Logger.Fatal().Msg(fmt.Sprint(args...)) }
