package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ricardofn/chirp/internal/bus"
)

// fakeTransport records calls and returns configurable results.
type fakeTransport struct {
	mu sync.Mutex

	history      map[string][]Message // newest-first, as on the wire
	historyErr   error
	historyDelay time.Duration

	ackID     string
	sendErr   error
	sendDelay time.Duration
	sendCalls []SendRequest

	markReadCalls []string

	conv    Conversation
	convErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{history: make(map[string][]Message), ackID: "srv-1"}
}

func (f *fakeTransport) FetchHistory(_ context.Context, conversationID string, _ int) ([]Message, error) {
	if f.historyDelay > 0 {
		time.Sleep(f.historyDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[conversationID], nil
}

func (f *fakeTransport) Send(_ context.Context, req SendRequest) (Message, error) {
	// Record before any simulated latency so callers can observe the call
	// while it is still in flight.
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, req)
	ackID := f.ackID
	sendErr := f.sendErr
	f.mu.Unlock()

	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}
	if sendErr != nil {
		return Message{}, sendErr
	}
	return Message{
		ID:             ackID,
		CorrelationID:  req.CorrelationID,
		ConversationID: req.ConversationID,
		Body:           req.Body,
		Type:           req.Type,
		Status:         StatusSent,
		Timestamp:      time.Now().UnixMilli(),
	}, nil
}

func (f *fakeTransport) MarkAsRead(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls = append(f.markReadCalls, conversationID)
	return nil
}

func (f *fakeTransport) GetOrCreateConversation(_ context.Context, _ string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return Conversation{}, f.convErr
	}
	return f.conv, nil
}

func (f *fakeTransport) sendCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sendCalls)
}

func (f *fakeTransport) readCalls(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.markReadCalls {
		if id == conversationID {
			n++
		}
	}
	return n
}

func testStore(t *testing.T) (*Store, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	s := New("me", ft, bus.New(), nil, 50)
	return s, ft
}

// eventually polls cond until it holds or the deadline passes.
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

// TestOpenFetchesHistory covers Scenario A: opening a conversation with an
// empty log fetches the page (newest-first on the wire) and stores it
// oldest-first with unread zero.
func TestOpenFetchesHistory(t *testing.T) {
	s, ft := testStore(t)
	ft.history["c1"] = []Message{
		{ID: "m3", SenderID: "them", Body: "three", Timestamp: 3000},
		{ID: "m2", SenderID: "them", Body: "two", Timestamp: 2000},
		{ID: "m1", SenderID: "them", Body: "one", Timestamp: 1000},
	}

	s.Open(context.Background(), "c1")

	eventually(t, func() bool { return len(s.Messages("c1")) == 3 }, "history never arrived")
	msgs := s.Messages("c1")
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("position %d = %q, want %q", i, msgs[i].ID, want)
		}
	}
	if got := s.Unread("c1"); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
	if s.Active() != "c1" {
		t.Errorf("active = %q, want c1", s.Active())
	}
}

// TestSendOptimisticThenAck covers Scenario B: the optimistic entry updates
// in place when the ack arrives; log length is unchanged.
func TestSendOptimisticThenAck(t *testing.T) {
	s, ft := testStore(t)
	ft.ackID = "m42"
	s.Open(context.Background(), "c1")

	sent := s.Send(context.Background(), "c1", "hi", TypeText, nil)
	if sent.CorrelationID == "" {
		t.Fatal("send must assign a correlation id")
	}

	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].Status != StatusSending {
		t.Fatalf("optimistic insert missing: %+v", msgs)
	}

	eventually(t, func() bool {
		m := s.Messages("c1")
		return len(m) == 1 && m[0].Status == StatusSent
	}, "ack never reconciled")

	got := s.Messages("c1")[0]
	if got.ID != "m42" {
		t.Errorf("server id = %q, want m42", got.ID)
	}
	if got.CorrelationID != sent.CorrelationID {
		t.Errorf("correlation id = %q, want %q", got.CorrelationID, sent.CorrelationID)
	}
}

// TestUnreadAndMarkRead covers Scenario C: a push for a non-active
// conversation bumps unread; opening zeroes it and issues mark-as-read
// exactly once.
func TestUnreadAndMarkRead(t *testing.T) {
	s, ft := testStore(t)

	s.Receive(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Body: "yo", Timestamp: 1000})
	if got := s.Unread("c1"); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}

	s.Open(context.Background(), "c1")
	if got := s.Unread("c1"); got != 0 {
		t.Errorf("unread after open = %d, want 0", got)
	}

	eventually(t, func() bool { return ft.readCalls("c1") >= 1 }, "mark-as-read never called")
	time.Sleep(50 * time.Millisecond)
	if got := ft.readCalls("c1"); got != 1 {
		t.Errorf("mark-as-read called %d times, want exactly 1", got)
	}
}

// TestRedeliveryAbsorbed covers Scenario D: a duplicate push changes nothing.
func TestRedeliveryAbsorbed(t *testing.T) {
	s, _ := testStore(t)
	msg := Message{ID: "m42", ConversationID: "c1", SenderID: "them", Body: "hi", Timestamp: 1000}

	s.Receive(msg)
	s.Receive(msg)

	if got := len(s.Messages("c1")); got != 1 {
		t.Errorf("log length = %d, want 1 after redelivery", got)
	}
	if got := s.Unread("c1"); got != 1 {
		t.Errorf("unread = %d, want 1 (redelivery must not double count)", got)
	}
}

// TestSendDirectMigratesHandle covers Scenario E: the provisional message is
// visible under a temporary handle, then migrates to the resolved
// conversation with no loss and no duplicate.
func TestSendDirectMigratesHandle(t *testing.T) {
	s, ft := testStore(t)
	ft.conv = Conversation{ID: "c9", Partner: Participant{ID: "them", Name: "Them"}, CreatedAt: 500}
	ft.ackID = "m7"

	sent := s.SendDirect(context.Background(), "them", "first!", TypeText, nil)
	if !IsTempHandle(sent.ConversationID) {
		t.Fatalf("provisional conversation id = %q, want temp handle", sent.ConversationID)
	}
	if got := len(s.Messages(sent.ConversationID)); got != 1 {
		t.Fatalf("provisional message not visible under temp handle")
	}

	eventually(t, func() bool {
		m := s.Messages("c9")
		return len(m) == 1 && m[0].Status == StatusSent
	}, "message never migrated to resolved conversation")

	got := s.Messages("c9")[0]
	if got.CorrelationID != sent.CorrelationID {
		t.Errorf("correlation id = %q, want %q", got.CorrelationID, sent.CorrelationID)
	}
	if got.ID != "m7" {
		t.Errorf("server id = %q, want m7", got.ID)
	}
	for _, c := range s.Conversations() {
		if IsTempHandle(c.ID) {
			t.Errorf("temp handle %q still listed after migration", c.ID)
		}
	}
}

func TestSendDirectFailureKeepsMessage(t *testing.T) {
	s, ft := testStore(t)
	ft.convErr = errors.New("network down")

	sent := s.SendDirect(context.Background(), "them", "first!", TypeText, nil)

	eventually(t, func() bool {
		m := s.Messages(sent.ConversationID)
		return len(m) == 1 && m[0].Status == StatusFailed
	}, "failed provisional message lost")
}

func TestSendFailureVisible(t *testing.T) {
	s, ft := testStore(t)
	ft.sendErr = errors.New("boom")
	b := s.bus
	ch, unsub := b.Subscribe("message.send_failed", 10)
	defer unsub()

	s.Open(context.Background(), "c1")
	s.Send(context.Background(), "c1", "hi", TypeText, nil)

	eventually(t, func() bool {
		m := s.Messages("c1")
		return len(m) == 1 && m[0].Status == StatusFailed
	}, "send failure not reflected")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.send_failed event")
	}
}

// TestPushRacesAck: the push copy of an outgoing message lands before the
// ack; both must merge into the single optimistic entry.
func TestPushRacesAck(t *testing.T) {
	s, ft := testStore(t)
	ft.ackID = "m42"
	ft.sendDelay = 50 * time.Millisecond
	s.Open(context.Background(), "c1")

	sent := s.Send(context.Background(), "c1", "hi", TypeText, nil)
	// Push echo arrives while the send call is still in flight.
	s.Receive(Message{
		ID: "m42", CorrelationID: sent.CorrelationID, ConversationID: "c1",
		SenderID: "me", Body: "hi", Timestamp: 2000,
	})

	eventually(t, func() bool {
		m := s.Messages("c1")
		return len(m) == 1 && m[0].ID == "m42" && m[0].Status != StatusSending
	}, "push and ack did not converge on one entry")
	eventually(t, func() bool { return ft.sendCallCount() == 1 }, "send never dispatched")

	// The ack lands after the push; the log must still hold one entry.
	time.Sleep(2 * ft.sendDelay)
	if got := len(s.Messages("c1")); got != 1 {
		t.Errorf("log length after ack = %d, want 1", got)
	}
}

// TestPushWithoutEchoThenAck: the push copy of an outgoing message arrives
// with the server id but no correlation echo, so it lands as a second entry;
// the ack carrying both ids must collapse the pair back into one.
func TestPushWithoutEchoThenAck(t *testing.T) {
	s, ft := testStore(t)
	ft.ackID = "m42"
	ft.sendDelay = 50 * time.Millisecond
	s.Open(context.Background(), "c1")

	sent := s.Send(context.Background(), "c1", "hi", TypeText, nil)
	s.Receive(Message{
		ID: "m42", ConversationID: "c1", SenderID: "me", Body: "hi", Timestamp: 2000,
	})

	eventually(t, func() bool {
		m := s.Messages("c1")
		return len(m) == 1 && m[0].ID == "m42" && m[0].CorrelationID == sent.CorrelationID
	}, "push and ack never collapsed into one entry")
	if got := s.Messages("c1")[0].Status; got != StatusDelivered {
		t.Errorf("status = %q, want delivered", got)
	}
}

// TestLateHistoryFetchDoesNotInflateUnread: a page that lands after the user
// has moved to another conversation is backfill, not new activity.
func TestLateHistoryFetchDoesNotInflateUnread(t *testing.T) {
	s, ft := testStore(t)
	ft.historyDelay = 50 * time.Millisecond
	ft.mu.Lock()
	ft.history["c1"] = []Message{
		{ID: "m3", SenderID: "them", Body: "three", Timestamp: 3000},
		{ID: "m2", SenderID: "them", Body: "two", Timestamp: 2000},
		{ID: "m1", SenderID: "them", Body: "one", Timestamp: 1000},
	}
	ft.mu.Unlock()

	s.Open(context.Background(), "c1")
	s.Open(context.Background(), "c2")

	eventually(t, func() bool { return len(s.Messages("c1")) == 3 }, "late page never reconciled")
	if got := s.Unread("c1"); got != 0 {
		t.Errorf("unread = %d, want 0 for backfilled history", got)
	}
	if s.Active() != "c2" {
		t.Errorf("active = %q, want c2", s.Active())
	}
}

func TestUnreadCountsDistinctMessages(t *testing.T) {
	s, _ := testStore(t)
	for i := 0; i < 5; i++ {
		s.Receive(Message{
			ID: fmt.Sprintf("m%d", i), ConversationID: "c1",
			SenderID: "them", Body: "x", Timestamp: int64(1000 + i),
		})
	}
	if got := s.Unread("c1"); got != 5 {
		t.Errorf("unread = %d, want 5", got)
	}

	s.MarkRead(context.Background(), "c1")
	if got := s.Unread("c1"); got != 0 {
		t.Errorf("unread after MarkRead = %d, want 0", got)
	}
	// Redundant calls are safe.
	s.MarkRead(context.Background(), "c1")
	if got := s.Unread("c1"); got != 0 {
		t.Errorf("unread after redundant MarkRead = %d, want 0", got)
	}
}

func TestReceiveWhileActiveKeepsUnreadZero(t *testing.T) {
	s, _ := testStore(t)
	s.Open(context.Background(), "c1")

	s.Receive(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Body: "hi", Timestamp: 1000})

	if got := s.Unread("c1"); got != 0 {
		t.Errorf("unread = %d, want 0 for active conversation", got)
	}
	c, _ := s.Conversation("c1")
	if c.LastMessagePreview != "hi" {
		t.Errorf("preview = %q, want hi (summary updates even when active)", c.LastMessagePreview)
	}
}

func TestConversationOrdering(t *testing.T) {
	s, _ := testStore(t)
	s.Receive(Message{ID: "m1", ConversationID: "old", SenderID: "a", Body: "x", Timestamp: 1000})
	s.Receive(Message{ID: "m2", ConversationID: "new", SenderID: "b", Body: "y", Timestamp: 2000})
	// A known contact with no history sorts below real activity.
	s.UpsertConversation(Conversation{ID: "empty", Partner: Participant{ID: "c"}, CreatedAt: 9999})

	got := s.Conversations()
	want := []string{"new", "old", "empty"}
	if len(got) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d = %q, want %q", i, got[i].ID, id)
		}
	}

	// New activity in "old" moves it to the front.
	s.Receive(Message{ID: "m3", ConversationID: "old", SenderID: "a", Body: "z", Timestamp: 3000})
	if got := s.Conversations()[0].ID; got != "old" {
		t.Errorf("front = %q, want old", got)
	}
}

func TestReceiveUnknownConversationMaterializes(t *testing.T) {
	s, _ := testStore(t)
	s.Receive(Message{ID: "m1", ConversationID: "cX", SenderID: "stranger", SenderName: "Stranger", Body: "hello", Timestamp: 1000})

	c, ok := s.Conversation("cX")
	if !ok {
		t.Fatal("conversation not materialized from push")
	}
	if c.Partner.ID != "stranger" {
		t.Errorf("partner = %q, want stranger", c.Partner.ID)
	}
	if got := len(s.Messages("cX")); got != 1 {
		t.Errorf("log length = %d, want 1", got)
	}
}

func TestLateFetchDoesNotResurrectActive(t *testing.T) {
	s, ft := testStore(t)
	ft.historyDelay = 50 * time.Millisecond
	ft.mu.Lock()
	ft.history["c1"] = []Message{{ID: "m1", SenderID: "them", Body: "old", Timestamp: 1000}}
	ft.mu.Unlock()

	s.Open(context.Background(), "c1")
	s.Close()

	eventually(t, func() bool { return len(s.Messages("c1")) == 1 }, "late fetch never reconciled")
	if s.Active() != "" {
		t.Errorf("active = %q, want empty after close", s.Active())
	}
}

func TestHistoryDoesNotClobberOptimisticSend(t *testing.T) {
	s, ft := testStore(t)
	ft.historyDelay = 30 * time.Millisecond
	ft.mu.Lock()
	ft.history["c1"] = []Message{{ID: "m1", SenderID: "them", Body: "old", Timestamp: 1000}}
	ft.mu.Unlock()
	ft.sendDelay = 200 * time.Millisecond

	s.Open(context.Background(), "c1")
	sent := s.Send(context.Background(), "c1", "hi", TypeText, nil)

	eventually(t, func() bool { return len(s.Messages("c1")) == 2 }, "history page never merged")
	var found bool
	for _, m := range s.Messages("c1") {
		if m.CorrelationID == sent.CorrelationID {
			found = true
		}
	}
	if !found {
		t.Error("optimistic send clobbered by history fetch")
	}
}

func TestTypingFlag(t *testing.T) {
	s, _ := testStore(t)
	s.Receive(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Body: "hi", Timestamp: 1000})

	s.SetTyping("c1", "them", true)
	if !s.Typing("c1") {
		t.Fatal("typing flag not set")
	}

	// Own typing signals are ignored.
	s.SetTyping("c1", "me", false)
	if !s.Typing("c1") {
		t.Error("own typing signal must not touch the flag")
	}

	// A partner message supersedes the indicator.
	s.Receive(Message{ID: "m2", ConversationID: "c1", SenderID: "them", Body: "done", Timestamp: 2000})
	if s.Typing("c1") {
		t.Error("typing flag must clear when the partner's message arrives")
	}
}

func TestSetOnline(t *testing.T) {
	s, _ := testStore(t)
	s.Receive(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Body: "hi", Timestamp: 1000})

	s.SetOnline("them", true)
	c, _ := s.Conversation("c1")
	if !c.Partner.Online {
		t.Error("partner not marked online")
	}
	s.SetOnline("them", false)
	c, _ = s.Conversation("c1")
	if c.Partner.Online {
		t.Error("partner not marked offline")
	}
}

func TestClear(t *testing.T) {
	s, _ := testStore(t)
	s.Receive(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Body: "hi", Timestamp: 1000})
	s.Open(context.Background(), "c1")

	s.Clear()

	if got := len(s.Conversations()); got != 0 {
		t.Errorf("conversations after clear = %d, want 0", got)
	}
	if s.Active() != "" {
		t.Errorf("active = %q, want empty", s.Active())
	}
}
