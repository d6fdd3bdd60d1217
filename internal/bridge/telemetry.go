package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/device"
)

// eventsMeasurement holds bridge state transitions.
const eventsMeasurement = "bridge_events"

// recordTelemetry writes every changed property to the telemetry sink
// until ctx ends. Optimistic values are not history and are skipped.
func (b *Bridge) recordTelemetry(ctx context.Context, sub *device.Subscription) error {
	defer sub.Close()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, device.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		if ev.Source == device.SourceOptimistic {
			continue
		}
		for _, name := range ev.Changed {
			p, ok := ev.Record.Properties[name]
			if !ok || p.Source == device.SourceOptimistic {
				continue
			}
			b.deps.Telemetry.WriteProperty(ev.Record.Serial, ev.Record.Model, name, p.Value.Interface(), p.UpdatedAt)
		}
	}
}

// recordEvent writes one bridge state transition.
func (b *Bridge) recordEvent(event, state string) {
	if b.deps.Telemetry == nil {
		return
	}
	b.deps.Telemetry.WritePointWithTime(eventsMeasurement,
		map[string]string{"bridge": b.cfg.Bridge.ID, "event": event},
		map[string]any{"state": state},
		time.Now(),
	)
}
