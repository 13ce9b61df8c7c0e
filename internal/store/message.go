package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// tempHandlePrefix marks local conversation handles that exist only until
// get-or-create resolves the real server id.
const tempHandlePrefix = "pending:"

// IsTempHandle reports whether id is a local pre-resolution handle.
func IsTempHandle(id string) bool {
	return strings.HasPrefix(id, tempHandlePrefix)
}

// Messages returns a copy of the conversation's log in insertion order.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(e.log))
	copy(out, e.log)
	return out
}

// Send performs an optimistic insert of an outgoing message and dispatches
// the transport call in the background. The returned message carries the
// fresh correlation id and status sending; the ack or failure later merges
// into the same log entry. A failed send stays visible with status failed.
func (s *Store) Send(ctx context.Context, conversationID, body string, typ MessageType, meta Metadata) Message {
	if typ == "" {
		typ = TypeText
	}
	msg := Message{
		CorrelationID:  uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       s.userID,
		Body:           body,
		Type:           typ,
		Meta:           meta,
		Status:         StatusSending,
		Timestamp:      s.now().UnixMilli(),
	}

	s.mu.Lock()
	e := s.ensureLocked(conversationID)
	s.applyLocked(e, msg)
	s.mu.Unlock()

	s.publishMessage("message.upserted", conversationID, msg)
	s.publishConversation("conversation.updated", conversationID)

	go s.dispatch(ctx, conversationID, msg)
	return msg
}

// SendDirect sends the first-ever message to a contact with no known
// conversation. The provisional message lives under a temporary local handle
// until get-or-create resolves the real id, then migrates without loss.
func (s *Store) SendDirect(ctx context.Context, targetUserID, body string, typ MessageType, meta Metadata) Message {
	if typ == "" {
		typ = TypeText
	}
	tempID := tempHandlePrefix + uuid.New().String()
	msg := Message{
		CorrelationID:  uuid.New().String(),
		ConversationID: tempID,
		SenderID:       s.userID,
		Body:           body,
		Type:           typ,
		Meta:           meta,
		Status:         StatusSending,
		Timestamp:      s.now().UnixMilli(),
	}

	s.mu.Lock()
	e := s.ensureLocked(tempID)
	e.conv.Partner.ID = targetUserID
	s.applyLocked(e, msg)
	s.mu.Unlock()

	s.publishMessage("message.upserted", tempID, msg)
	s.publishConversation("conversation.updated", tempID)

	go func() {
		conv, err := s.client.GetOrCreateConversation(ctx, targetUserID)
		if err != nil {
			s.logger.Error("get-or-create conversation failed",
				zap.String("target_user_id", targetUserID), zap.Error(err))
			s.fail(tempID, msg.CorrelationID)
			return
		}
		s.adopt(tempID, conv)
		s.dispatch(ctx, conv.ID, msg)
	}()
	return msg
}

// adopt migrates a temporary handle's state onto the resolved conversation,
// reconciling each provisional message so nothing is lost or duplicated even
// if pushes for the real conversation arrived first.
func (s *Store) adopt(tempID string, conv Conversation) {
	s.mu.Lock()
	tmp, ok := s.convs[tempID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.convs, tempID)

	real := s.ensureLocked(conv.ID)
	mergeConversationLocked(real, conv)
	if s.active == tempID {
		s.active = conv.ID
	}
	for _, m := range tmp.log {
		m.ConversationID = conv.ID
		s.applyLocked(real, m)
	}
	if s.active == conv.ID {
		real.conv.UnreadCount = 0
	}
	s.mu.Unlock()

	s.logger.Info("conversation resolved",
		zap.String("temp_id", tempID), zap.String("conversation_id", conv.ID))
	s.publishConversation("conversation.updated", conv.ID)
}

// dispatch performs the transport send and reconciles the outcome by
// correlation id.
func (s *Store) dispatch(ctx context.Context, conversationID string, msg Message) {
	ack, err := s.client.Send(ctx, SendRequest{
		ConversationID: conversationID,
		Body:           msg.Body,
		Type:           msg.Type,
		CorrelationID:  msg.CorrelationID,
		Meta:           msg.Meta,
	})
	if err != nil {
		s.logger.Error("send failed",
			zap.String("conversation_id", conversationID),
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(err))
		s.fail(conversationID, msg.CorrelationID)
		return
	}

	ack.ConversationID = conversationID
	ack.CorrelationID = msg.CorrelationID
	if ack.Status == "" {
		ack.Status = StatusSent
	}

	s.mu.Lock()
	e := s.ensureLocked(conversationID)
	s.applyLocked(e, ack)
	s.mu.Unlock()

	s.publishMessage("message.upserted", conversationID, ack)
	s.publishConversation("conversation.updated", conversationID)
}

// fail marks the provisional message failed. It remains in the log with a
// visible error state; it is never silently dropped.
func (s *Store) fail(conversationID, correlationID string) {
	patch := Message{
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		Status:         StatusFailed,
	}
	s.mu.Lock()
	e, ok := s.convs[conversationID]
	if ok {
		s.applyLocked(e, patch)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.publishMessage("message.send_failed", conversationID, patch)
	s.publishConversation("conversation.updated", conversationID)
}

// Receive reconciles a push-delivered message. Unknown conversation ids are
// lazily materialized rather than dropped. A delivery for a non-active
// conversation bumps its unread counter; redeliveries are absorbed by the
// idempotent merge.
func (s *Store) Receive(msg Message) {
	if msg.ConversationID == "" {
		s.logger.Warn("dropping push message with no conversation id",
			zap.String("message_id", msg.ID))
		return
	}
	if msg.Status == "" {
		msg.Status = StatusDelivered
	}

	s.mu.Lock()
	e := s.ensureLocked(msg.ConversationID)
	if e.conv.Partner.ID == "" && msg.SenderID != "" && msg.SenderID != s.userID {
		e.conv.Partner.ID = msg.SenderID
		e.conv.Partner.Name = msg.SenderName
	}
	s.applyLocked(e, msg)
	s.mu.Unlock()

	s.publishMessage("message.upserted", msg.ConversationID, msg)
	s.publishConversation("conversation.updated", msg.ConversationID)
}
