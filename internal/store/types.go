package store

import "encoding/json"

// Status is the delivery lifecycle status of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusFailed    Status = "failed"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
)

// statusRank orders statuses so reconciliation never regresses a message.
// A failed send may still be upgraded by a late ack or push.
var statusRank = map[Status]int{
	StatusSending:   0,
	StatusFailed:    1,
	StatusSent:      2,
	StatusDelivered: 3,
}

// MessageType distinguishes message content kinds.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// ConversationState is the server-side lifecycle state of a conversation.
type ConversationState string

const (
	ConversationActive   ConversationState = "active"
	ConversationArchived ConversationState = "archived"
	ConversationBlocked  ConversationState = "blocked"
)

// Participant is the other party in a conversation.
type Participant struct {
	ID        string
	Name      string
	AvatarURL string
	Online    bool
}

// Conversation is the summary record for one thread. Its preview fields are
// a cached projection of the tail of the message log.
type Conversation struct {
	ID                 string
	Partner            Participant
	LastMessagePreview string
	LastMessageAt      int64 // unix ms; 0 when the thread has no messages yet
	LastSenderID       string
	UnreadCount        int
	Typing             bool
	State              ConversationState
	CreatedAt          int64 // unix ms reference timestamp for empty threads
}

// Message is a single entry in a conversation log.
//
// ID is server-assigned and empty while a send is in flight. CorrelationID is
// client-generated at send time and round-tripped by the ack; within one log
// at most one entry carries a given ID and at most one a given CorrelationID.
type Message struct {
	ID             string
	CorrelationID  string
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	Type           MessageType
	Meta           Metadata
	Status         Status
	Timestamp      int64 // unix ms
}

// Metadata is the tagged variant over known message metadata shapes.
// Unknown payloads are preserved as OpaqueMeta rather than dropped.
type Metadata interface {
	MetadataKind() string
}

// ReplyMeta references the message being replied to.
type ReplyMeta struct {
	MessageID string
	Preview   string
}

func (ReplyMeta) MetadataKind() string { return "reply" }

// ImageMeta describes an image attachment.
type ImageMeta struct {
	URL    string
	Width  int
	Height int
}

func (ImageMeta) MetadataKind() string { return "image" }

// OpaqueMeta carries a metadata payload this client version does not understand.
type OpaqueMeta struct {
	Kind string
	Raw  json.RawMessage
}

func (m OpaqueMeta) MetadataKind() string { return m.Kind }
