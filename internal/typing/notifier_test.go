package typing

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordedSignal struct {
	conversationID string
	typing         bool
}

type fakeSender struct {
	mu      sync.Mutex
	signals []recordedSignal
}

func (f *fakeSender) SendTyping(_ context.Context, conversationID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, recordedSignal{conversationID, typing})
	return nil
}

func (f *fakeSender) snapshot() []recordedSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedSignal, len(f.signals))
	copy(out, f.signals)
	return out
}

func (f *fakeSender) count(typing bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.signals {
		if s.typing == typing {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNotifyThrottlesStartSignal(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, 100*time.Millisecond, nil)
	defer n.Close()

	// A burst of keystrokes inside one window.
	for i := 0; i < 10; i++ {
		n.Notify(context.Background(), "c1")
	}

	eventually(t, func() bool { return fs.count(true) == 1 }, "start signal never sent")
	time.Sleep(30 * time.Millisecond)
	if got := fs.count(true); got != 1 {
		t.Errorf("start signals = %d, want 1 per window", got)
	}
}

func TestNotifySendsStopAfterIdle(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, 50*time.Millisecond, nil)
	defer n.Close()

	n.Notify(context.Background(), "c1")

	eventually(t, func() bool { return fs.count(false) == 1 }, "stop signal never sent after idle window")
	got := fs.snapshot()
	if got[len(got)-1].typing {
		t.Error("last signal must be a stop")
	}
}

func TestNotifyKeystrokesDelayStop(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, 80*time.Millisecond, nil)
	defer n.Close()

	// Keep typing at half the window; the stop timer must keep re-arming.
	for i := 0; i < 4; i++ {
		n.Notify(context.Background(), "c1")
		time.Sleep(40 * time.Millisecond)
	}
	if got := fs.count(false); got != 0 {
		t.Errorf("stop signals during continuous typing = %d, want 0", got)
	}

	eventually(t, func() bool { return fs.count(false) == 1 }, "stop signal never sent once typing ceased")
}

func TestNotifyNewWindowSendsStartAgain(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, 40*time.Millisecond, nil)
	defer n.Close()

	n.Notify(context.Background(), "c1")
	eventually(t, func() bool { return fs.count(false) == 1 }, "first stop never sent")

	n.Notify(context.Background(), "c1")
	eventually(t, func() bool { return fs.count(true) == 2 }, "second window must send a fresh start")
}

func TestNotifierTracksConversationsIndependently(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, 100*time.Millisecond, nil)
	defer n.Close()

	n.Notify(context.Background(), "c1")
	n.Notify(context.Background(), "c2")

	eventually(t, func() bool { return fs.count(true) == 2 }, "each conversation gets its own start signal")
}

func TestCloseSuppressesPendingStop(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, 150*time.Millisecond, nil)

	n.Notify(context.Background(), "c1")
	eventually(t, func() bool { return fs.count(true) == 1 }, "start signal never sent")
	n.Close()

	time.Sleep(300 * time.Millisecond)
	if got := fs.count(false); got != 0 {
		t.Errorf("stop signals after close = %d, want 0", got)
	}

	// Notify after close is a no-op.
	n.Notify(context.Background(), "c1")
	time.Sleep(20 * time.Millisecond)
	if got := fs.count(true); got != 1 {
		t.Errorf("start signals after close = %d, want 1", got)
	}
}
