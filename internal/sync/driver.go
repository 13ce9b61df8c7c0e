// Package sync binds the push-channel lifecycle to the conversation store.
// The driver holds the single per-session subscription and forwards events
// verbatim; it performs no business logic of its own.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/ricardofn/chirp/internal/bus"
	"github.com/ricardofn/chirp/internal/status"
	"github.com/ricardofn/chirp/internal/store"
	"github.com/ricardofn/chirp/internal/transport"
	"go.uber.org/zap"
)

// Stream is the push subscription the driver acquires and releases.
// Implemented by transport.Stream; faked in tests.
type Stream interface {
	Subscribe(ctx context.Context) (<-chan transport.Event, func(), error)
}

// Driver owns the push subscription for one session.
type Driver struct {
	store   *store.Store
	stream  Stream
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDriver creates a driver wiring the stream to the store.
func NewDriver(st *store.Store, stream Stream, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		store:   st,
		stream:  stream,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// Start acquires the push subscription and begins forwarding events.
// One subscription per session; Start fails if the stream is already held.
func (d *Driver) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub, err := d.stream.Subscribe(ctx)
	if err != nil {
		d.cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := d.machine.Transition(status.Subscribed); err != nil {
		unsub()
		d.cancel()
		return err
	}

	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		defer unsub()
		defer d.disconnect()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if d.handle(evt) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop releases the subscription and transitions to Disconnected. Called on
// logout; idempotent.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
}

// handle forwards one event. Returns true when the session is over and the
// forwarding loop must stop.
func (d *Driver) handle(evt transport.Event) (stop bool) {
	switch e := evt.(type) {
	case transport.MessageEvent:
		d.store.Receive(e.Message)
	case transport.TypingEvent:
		d.store.SetTyping(e.ConversationID, e.UserID, e.Typing)
	case transport.PresenceEvent:
		d.store.SetOnline(e.UserID, e.Online)
	case transport.SessionExpiredEvent:
		// Store data is retained but considered stale until re-sync.
		d.logger.Warn("session expired", zap.String("reason", e.Reason))
		if d.bus != nil {
			d.bus.Publish(bus.Event{
				Kind:      "session.expired",
				Timestamp: time.Now(),
				Payload:   e.Reason,
			})
		}
		return true
	}
	return false
}

func (d *Driver) disconnect() {
	if d.machine.Current() == status.Subscribed {
		_ = d.machine.Transition(status.Disconnected)
	}
}
