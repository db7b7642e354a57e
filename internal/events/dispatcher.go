package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/store"
)

// Dispatcher drains the outbox and publishes pending events to JetStream.
// Publish failures reschedule the row with backoff; nothing is lost if the
// broker is down.
type Dispatcher struct {
	Store     *store.Store
	Publisher *Publisher
	Log       zerolog.Logger
}

// Run dispatches outbox rows until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	log := d.Log.With().Str("component", "dispatcher").Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := d.Store.DequeueOutbox(ctx, 100)
		if err != nil {
			log.Error().Err(err).Msg("failed to dequeue outbox")
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		if len(messages) == 0 {
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}

		for _, msg := range messages {
			if err := d.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				log.Warn().Err(err).Int64("outbox_id", msg.ID).Msg("publish failed, scheduling retry")
				_ = d.Store.MarkOutboxRetry(ctx, msg.ID, 10*time.Second)
				continue
			}

			if err := d.Store.MarkPublished(ctx, msg.ID); err != nil {
				log.Error().Err(err).Int64("outbox_id", msg.ID).Msg("failed to mark published")
			}
		}
	}
}

// sleepCtx waits for d or until ctx is cancelled, reporting whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
