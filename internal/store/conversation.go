package store

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Open sets the active conversation, zeroes its unread counter, and kicks
// off the asynchronous side effects: one best-effort mark-as-read call, and
// a history fetch when the log is empty and has never been fetched. Open
// never blocks on the transport.
//
// Closing or switching conversations does not cancel an in-flight fetch; a
// late page still reconciles via the idempotent merge and never touches the
// active pointer.
func (s *Store) Open(ctx context.Context, conversationID string) {
	s.mu.Lock()
	s.active = conversationID
	e := s.ensureLocked(conversationID)
	e.conv.UnreadCount = 0
	needFetch := len(e.log) == 0 && !e.fetched
	s.mu.Unlock()

	s.publishConversation("conversation.updated", conversationID)

	go s.markReadRemote(ctx, conversationID)
	if needFetch {
		go s.fetchHistory(ctx, conversationID)
	}
}

// Close clears the active pointer. The log is retained.
func (s *Store) Close() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// Active returns the currently open conversation id, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MarkRead zeroes the unread counter. Idempotent and safe to call
// redundantly; the transport call is only issued when the counter was
// nonzero, and its failure never rolls back the local zeroing.
func (s *Store) MarkRead(ctx context.Context, conversationID string) {
	s.mu.Lock()
	e, ok := s.convs[conversationID]
	hadUnread := ok && e.conv.UnreadCount > 0
	if ok {
		e.conv.UnreadCount = 0
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.publishConversation("conversation.updated", conversationID)
	if hadUnread {
		go s.markReadRemote(ctx, conversationID)
	}
}

func (s *Store) markReadRemote(ctx context.Context, conversationID string) {
	if err := s.client.MarkAsRead(ctx, conversationID); err != nil {
		// Read state is best-effort, not authoritative.
		s.logger.Warn("mark-as-read failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// fetchHistory pulls the most recent page and bulk-reconciles it, oldest
// first, so optimistic sends already in the log are never clobbered.
func (s *Store) fetchHistory(ctx context.Context, conversationID string) {
	page, err := s.client.FetchHistory(ctx, conversationID, s.pageSize)
	if err != nil {
		s.logger.Warn("history fetch failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	s.mu.Lock()
	e := s.ensureLocked(conversationID)
	e.fetched = true
	// Wire order is newest-first; reconcile oldest-first. Backfill never
	// counts as unread.
	for i := len(page) - 1; i >= 0; i-- {
		msg := page[i]
		msg.ConversationID = conversationID
		if msg.Status == "" {
			msg.Status = StatusDelivered
		}
		s.backfillLocked(e, msg)
	}
	s.mu.Unlock()

	s.logger.Info("history fetched",
		zap.String("conversation_id", conversationID), zap.Int("messages", len(page)))
	s.publishConversation("conversation.updated", conversationID)
}

// UpsertConversation merges a server-supplied conversation record (from a
// directory listing or get-or-create) into the store.
func (s *Store) UpsertConversation(conv Conversation) {
	s.mu.Lock()
	e := s.ensureLocked(conv.ID)
	mergeConversationLocked(e, conv)
	s.mu.Unlock()
	s.publishConversation("conversation.updated", conv.ID)
}

// mergeConversationLocked folds server-owned fields into the local record
// without disturbing local projections (unread, preview, typing).
func mergeConversationLocked(e *entry, conv Conversation) {
	if conv.Partner.ID != "" {
		online := e.conv.Partner.Online
		e.conv.Partner = conv.Partner
		e.conv.Partner.Online = conv.Partner.Online || online
	}
	if conv.State != "" {
		e.conv.State = conv.State
	}
	if conv.CreatedAt > 0 {
		e.conv.CreatedAt = conv.CreatedAt
	}
}

// SetTyping records the partner's transient typing flag. Signals about the
// session owner's own typing are ignored.
func (s *Store) SetTyping(conversationID, userID string, typing bool) {
	if userID == s.userID {
		return
	}
	s.mu.Lock()
	e := s.ensureLocked(conversationID)
	changed := e.conv.Typing != typing
	e.conv.Typing = typing
	s.mu.Unlock()
	if changed {
		s.publishConversation("conversation.typing", conversationID)
	}
}

// SetOnline updates the online flag on every conversation with this partner.
func (s *Store) SetOnline(userID string, online bool) {
	var touched []string
	s.mu.Lock()
	for id, e := range s.convs {
		if e.conv.Partner.ID == userID && e.conv.Partner.Online != online {
			e.conv.Partner.Online = online
			touched = append(touched, id)
		}
	}
	s.mu.Unlock()
	for _, id := range touched {
		s.publishConversation("conversation.updated", id)
	}
}

// Typing reports whether the partner in the given conversation is typing.
func (s *Store) Typing(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.convs[conversationID]; ok {
		return e.conv.Typing
	}
	return false
}

// Unread returns the unread counter for a conversation.
func (s *Store) Unread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.convs[conversationID]; ok {
		return e.conv.UnreadCount
	}
	return 0
}

// Conversation returns a copy of the summary record, if known.
func (s *Store) Conversation(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.convs[conversationID]; ok {
		return e.conv, true
	}
	return Conversation{}, false
}

// Conversations returns all summaries ordered most-recently-active first.
// Threads with no messages yet sort by their reference timestamp, below any
// thread with real activity.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.convs))
	for _, e := range s.convs {
		out = append(out, e.conv)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aActive := a.LastMessageAt > 0
		bActive := b.LastMessageAt > 0
		if aActive != bActive {
			return aActive
		}
		if aActive {
			return a.LastMessageAt > b.LastMessageAt
		}
		return a.CreatedAt > b.CreatedAt
	})
	return out
}
