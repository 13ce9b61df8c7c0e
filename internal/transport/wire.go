package transport

import (
	"encoding/json"

	"github.com/ricardofn/chirp/internal/store"
)

// wireMessage is the JSON shape of a message on both the REST and push paths.
type wireMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	SenderName     string          `json:"sender_name,omitempty"`
	Content        string          `json:"content"`
	Type           string          `json:"type"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAtMs    int64           `json:"created_at_unix_ms"`
}

func (w *wireMessage) toStore() store.Message {
	return store.Message{
		ID:             w.ID,
		CorrelationID:  w.CorrelationID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		SenderName:     w.SenderName,
		Body:           w.Content,
		Type:           store.MessageType(w.Type),
		Meta:           decodeMetadata(w.Metadata),
		Status:         store.Status(w.Status),
		Timestamp:      w.CreatedAtMs,
	}
}

// wireConversation is the JSON shape of a conversation record.
type wireConversation struct {
	ID        string          `json:"id"`
	Partner   wireParticipant `json:"partner"`
	State     string          `json:"state,omitempty"`
	CreatedAt int64           `json:"created_at_unix_ms"`
}

type wireParticipant struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Online    bool   `json:"online,omitempty"`
}

func (w *wireConversation) toStore() store.Conversation {
	return store.Conversation{
		ID: w.ID,
		Partner: store.Participant{
			ID:        w.Partner.ID,
			Name:      w.Partner.Name,
			AvatarURL: w.Partner.AvatarURL,
			Online:    w.Partner.Online,
		},
		State:     store.ConversationState(w.State),
		CreatedAt: w.CreatedAt,
	}
}

type wireReplyMeta struct {
	Kind      string `json:"kind"`
	MessageID string `json:"message_id"`
	Preview   string `json:"preview,omitempty"`
}

type wireImageMeta struct {
	Kind   string `json:"kind"`
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// decodeMetadata maps a raw metadata payload onto the known variants,
// preserving unrecognized kinds as opaque rather than dropping them.
func decodeMetadata(raw json.RawMessage) store.Metadata {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return store.OpaqueMeta{Kind: "unknown", Raw: raw}
	}
	switch head.Kind {
	case "reply":
		var m wireReplyMeta
		if err := json.Unmarshal(raw, &m); err == nil {
			return store.ReplyMeta{MessageID: m.MessageID, Preview: m.Preview}
		}
	case "image":
		var m wireImageMeta
		if err := json.Unmarshal(raw, &m); err == nil {
			return store.ImageMeta{URL: m.URL, Width: m.Width, Height: m.Height}
		}
	}
	return store.OpaqueMeta{Kind: head.Kind, Raw: raw}
}

// encodeMetadata produces the wire form of a metadata variant.
func encodeMetadata(meta store.Metadata) (json.RawMessage, error) {
	switch m := meta.(type) {
	case nil:
		return nil, nil
	case store.ReplyMeta:
		return json.Marshal(wireReplyMeta{Kind: "reply", MessageID: m.MessageID, Preview: m.Preview})
	case store.ImageMeta:
		return json.Marshal(wireImageMeta{Kind: "image", URL: m.URL, Width: m.Width, Height: m.Height})
	case store.OpaqueMeta:
		return m.Raw, nil
	default:
		return json.Marshal(meta)
	}
}
