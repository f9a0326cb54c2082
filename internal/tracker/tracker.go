package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"prizevault/internal/chain"
	"prizevault/internal/logger"
)

const resubscribeDelay = 5 * time.Second

// Tracker is the daemon loop: it subscribes to the gateway's event stream
// and pushes every event through the processor. Events are handled
// sequentially in arrival order; a failed application is logged and left
// for a later resync, the journal makes the retry safe.
type Tracker struct {
	gateway   chain.Gateway
	processor *Processor
}

func NewTracker(gateway chain.Gateway, processor *Processor) *Tracker {
	return &Tracker{
		gateway:   gateway,
		processor: processor,
	}
}

func (t *Tracker) Run(ctx context.Context) error {
	for {
		events, err := t.gateway.WatchEvents(ctx)
		if err != nil {
			logger.Warn("event stream subscription failed, retrying", zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(resubscribeDelay):
				continue
			}
		}

		logger.Info("event stream subscribed")
		for event := range events {
			if err := t.processor.ProcessEvent(event); err != nil {
				logger.Error("event application failed, leaving for resync",
					zap.String("eventID", event.EventID),
					zap.String("eventType", event.Type),
					zap.Error(err),
				)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("tracker stopped")
			return ctx.Err()
		default:
			logger.Warn("event stream closed, resubscribing")
		}
	}
}

// Resync replays a height range through the processor. Exposed to the admin
// surface.
func (t *Tracker) Resync(ctx context.Context, fromHeight int64, toHeight *int64) error {
	return t.processor.ReplayEvents(ctx, fromHeight, toHeight)
}
