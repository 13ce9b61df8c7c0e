package store

import (
	"context"
	"sync"
	"time"

	"github.com/ricardofn/chirp/internal/bus"
	"go.uber.org/zap"
)

// Transport is the request/response surface the store consumes. Implemented
// by internal/transport; faked in tests. The store never retries or frames
// requests itself.
type Transport interface {
	// FetchHistory returns the most recent pageSize messages, newest first.
	FetchHistory(ctx context.Context, conversationID string, pageSize int) ([]Message, error)
	// Send delivers an outgoing message and returns the acknowledged message
	// (server id assigned, correlation id echoed).
	Send(ctx context.Context, req SendRequest) (Message, error)
	// MarkAsRead is best-effort; failures are logged, never surfaced.
	MarkAsRead(ctx context.Context, conversationID string) error
	// GetOrCreateConversation resolves the conversation with a user,
	// creating it server-side if none exists.
	GetOrCreateConversation(ctx context.Context, targetUserID string) (Conversation, error)
}

// SendRequest is the outgoing-send payload handed to the transport.
type SendRequest struct {
	ConversationID string
	Body           string
	Type           MessageType
	CorrelationID  string
	Meta           Metadata
}

// entry pairs a conversation summary with its ordered message log.
type entry struct {
	conv    Conversation
	log     []Message
	fetched bool
}

// Store is the single owner of all conversation and message state for one
// session. All mutations go through its methods; transport calls never run
// under the lock, so the store stays readable while fetches and sends are
// in flight.
type Store struct {
	userID   string
	client   Transport
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int
	now      func() time.Time

	mu     sync.Mutex
	active string
	convs  map[string]*entry
}

// New creates an empty store for the given user. Constructed at session
// start and cleared at logout; never shared across sessions.
func New(userID string, client Transport, b *bus.Bus, logger *zap.Logger, pageSize int) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		userID:   userID,
		client:   client,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
		now:      time.Now,
		convs:    make(map[string]*entry),
	}
}

// UserID returns the session owner's identifier.
func (s *Store) UserID() string { return s.userID }

// Clear wipes all state. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.active = ""
	s.convs = make(map[string]*entry)
	s.mu.Unlock()
}

// ensureLocked materializes a minimal conversation record for id.
// Callers must hold s.mu.
func (s *Store) ensureLocked(id string) *entry {
	e, ok := s.convs[id]
	if !ok {
		e = &entry{conv: Conversation{
			ID:        id,
			State:     ConversationActive,
			CreatedAt: s.now().UnixMilli(),
		}}
		s.convs[id] = e
	}
	return e
}

// applyLocked reconciles msg into its conversation's log and refreshes the
// summary projection. Returns true when a new entry was appended (as opposed
// to an in-place update). A newly appended entry in a non-active conversation
// bumps the unread counter. Callers must hold s.mu.
func (s *Store) applyLocked(e *entry, msg Message) (appended bool) {
	appended = s.reconcileLocked(e, msg)
	if appended && e.conv.ID != s.active {
		e.conv.UnreadCount++
	}
	return appended
}

// backfillLocked reconciles a history-page message. Backfill is not new
// activity: it never touches the unread counter. Callers must hold s.mu.
func (s *Store) backfillLocked(e *entry, msg Message) {
	s.reconcileLocked(e, msg)
}

func (s *Store) reconcileLocked(e *entry, msg Message) (appended bool) {
	before := len(e.log)
	e.log = Reconcile(e.log, msg)
	appended = len(e.log) > before

	idx := matchIndex(e.log, msg)
	if idx < 0 {
		idx = len(e.log) - 1
	}
	merged := e.log[idx]

	// Summary tracks the newest message touched; reconciling history pages
	// must not move the preview backwards.
	if merged.Timestamp >= e.conv.LastMessageAt {
		e.conv.LastMessagePreview = preview(merged.Body)
		e.conv.LastMessageAt = merged.Timestamp
		e.conv.LastSenderID = merged.SenderID
	}

	// A message from the partner supersedes any pending typing indicator.
	if msg.SenderID != "" && msg.SenderID != s.userID {
		e.conv.Typing = false
	}
	return appended
}

// publishMessage announces a log change for UI consumers.
func (s *Store) publishMessage(kind, conversationID string, msg Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: s.now(),
		Payload: map[string]string{
			"conversation_id": conversationID,
			"message_id":      msg.ID,
			"correlation_id":  msg.CorrelationID,
		},
	})
}

// publishConversation announces a summary change for UI consumers.
func (s *Store) publishConversation(kind, conversationID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: s.now(),
		Payload:   map[string]string{"conversation_id": conversationID},
	})
}

const previewLen = 100

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}
