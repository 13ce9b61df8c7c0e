package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used across the client:
//
//	message.upserted        — a message was inserted or updated in a log
//	message.send_failed     — an outgoing send failed
//	conversation.updated    — a conversation summary changed
//	conversation.typing     — a partner's typing flag changed
//	session.status_changed  — the sync driver changed state
//	session.expired         — the server invalidated the session
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
