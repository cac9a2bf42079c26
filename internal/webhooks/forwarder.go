package webhooks

import (
	"context"
	"log"

	"github.com/shiftgate/kiosk/internal/events"
)

// Forwarder drains the outcome bus into the webhook dispatcher, so external
// consumers see exactly the stream presenters see. It subscribes to all
// event types; the registry decides who actually receives what.
type Forwarder struct {
	bus     *events.EventBus
	emitter Emitter
	logger  *log.Logger
}

func NewForwarder(bus *events.EventBus, emitter Emitter) *Forwarder {
	return &Forwarder{
		bus:     bus,
		emitter: emitter,
		logger:  log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
	}
}

// Run forwards until ctx ends. Meant to be a goroutine next to the engine.
func (f *Forwarder) Run(ctx context.Context) {
	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)
	f.logger.Printf("🔄 webhook forwarder running")

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.emitter.Emit(EventType(ev.Type), ev.Subject, ev.Data)
		case <-ctx.Done():
			f.logger.Printf("🔄 webhook forwarder stopped")
			return
		}
	}
}
