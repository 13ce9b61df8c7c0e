// Package typing throttles outgoing "is typing" signals. At most one start
// signal per window of continuous input, and a stop signal after one window
// of inactivity. Purely timer-driven; it must never block the send path.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is the throttle/inactivity window.
const DefaultWindow = 2 * time.Second

// Sender broadcasts the transient typing signal. Implemented by
// transport.Client; faked in tests.
type Sender interface {
	SendTyping(ctx context.Context, conversationID string, typing bool) error
}

type convState struct {
	lastStart time.Time
	stopTimer *time.Timer
}

// Notifier debounces typing signals per conversation.
type Notifier struct {
	sender Sender
	window time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	convs  map[string]*convState
	closed bool
}

// NewNotifier creates a notifier with the given throttle window
// (DefaultWindow if zero).
func NewNotifier(sender Sender, window time.Duration, logger *zap.Logger) *Notifier {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sender: sender,
		window: window,
		logger: logger,
		now:    time.Now,
		convs:  make(map[string]*convState),
	}
}

// Notify records one keystroke of input. It sends a start signal at most
// once per window and (re)arms the stop signal for one window of inactivity.
// The transport call runs in the background; Notify never blocks.
func (n *Notifier) Notify(ctx context.Context, conversationID string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	st, ok := n.convs[conversationID]
	if !ok {
		st = &convState{}
		n.convs[conversationID] = st
	}

	now := n.now()
	sendStart := st.lastStart.IsZero() || now.Sub(st.lastStart) >= n.window
	if sendStart {
		st.lastStart = now
	}

	if st.stopTimer != nil {
		st.stopTimer.Stop()
	}
	st.stopTimer = time.AfterFunc(n.window, func() {
		n.sendStop(ctx, conversationID)
	})
	n.mu.Unlock()

	if sendStart {
		go n.send(ctx, conversationID, true)
	}
}

func (n *Notifier) sendStop(ctx context.Context, conversationID string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if st, ok := n.convs[conversationID]; ok {
		st.lastStart = time.Time{}
		st.stopTimer = nil
	}
	n.mu.Unlock()
	n.send(ctx, conversationID, false)
}

func (n *Notifier) send(ctx context.Context, conversationID string, typing bool) {
	if err := n.sender.SendTyping(ctx, conversationID, typing); err != nil {
		n.logger.Warn("typing signal failed",
			zap.String("conversation_id", conversationID),
			zap.Bool("typing", typing),
			zap.Error(err))
	}
}

// Close stops all pending timers. No signals are sent after Close.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for _, st := range n.convs {
		if st.stopTimer != nil {
			st.stopTimer.Stop()
		}
	}
	n.convs = make(map[string]*convState)
}
