package status

import (
	"context"

	"chatview/internal/bus"
)

// Watch drives the machine from bus events: reconnect signals start a
// resync, a completed gap fill settles back to ready. Invalid transitions
// (duplicate signals) are ignored.
func Watch(ctx context.Context, m *Machine, b *bus.Bus) {
	ch, unsub := b.Subscribe("", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindConnReconnect:
					_ = m.Transition(Resyncing)
				case bus.KindGapFilled:
					_ = m.Transition(Ready)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
