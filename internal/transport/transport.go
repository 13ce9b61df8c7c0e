// Package transport implements the request/response and push-delivery
// adapters the sync core consumes: a JSON/HTTP client for history, sends,
// read receipts, and conversation resolution, and a websocket stream that
// yields server-initiated events.
package transport

import "github.com/ricardofn/chirp/internal/store"

// Event is a server-initiated event delivered over the push channel.
type Event interface {
	event()
}

// MessageEvent carries a delivered message.
type MessageEvent struct {
	Message store.Message
}

// TypingEvent signals a user started or stopped typing in a conversation.
type TypingEvent struct {
	ConversationID string
	UserID         string
	Typing         bool
}

// PresenceEvent signals a user's online status changed.
type PresenceEvent struct {
	UserID string
	Online bool
}

// SessionExpiredEvent signals the server invalidated this session. The
// stream stops reconnecting after emitting it.
type SessionExpiredEvent struct {
	Reason string
}

func (MessageEvent) event()        {}
func (TypingEvent) event()         {}
func (PresenceEvent) event()       {}
func (SessionExpiredEvent) event() {}

// Identity describes the authenticated user as reported by the server.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
