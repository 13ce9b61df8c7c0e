package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrAlreadySubscribed is returned when Subscribe is called while a
// subscription is active. The push channel is one logical subscription per
// session.
var ErrAlreadySubscribed = errors.New("stream: already subscribed")

// StreamConfig configures the push-delivery stream.
type StreamConfig struct {
	URL                  string
	Token                string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	Logger               *zap.Logger
}

func (c *StreamConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Stream is the websocket push channel. Subscribe acquires it; the returned
// stop function releases it. Reconnection with exponential backoff is
// internal; a session-expired event disables reconnection.
type Stream struct {
	cfg StreamConfig

	mu     sync.Mutex
	active bool
}

// NewStream creates a push stream for the given endpoint.
func NewStream(cfg StreamConfig) *Stream {
	cfg.defaults()
	return &Stream{cfg: cfg}
}

// Subscribe opens the push channel and returns the event sequence. The
// channel is closed when stop is called, ctx is cancelled, the session
// expires, or reconnection attempts are exhausted.
func (s *Stream) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, nil, ErrAlreadySubscribed
	}
	s.active = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		s.release()
		return nil, nil, err
	}

	ch := make(chan Event, 256)
	go s.run(ctx, conn, ch)

	return ch, cancel, nil
}

func (s *Stream) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, _, err := websocket.Dial(ctx, s.cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return conn, nil
}

// run reads envelopes until the connection drops, then reconnects with
// backoff. It owns ch and closes it on exit.
func (s *Stream) run(ctx context.Context, conn *websocket.Conn, ch chan Event) {
	defer close(ch)
	defer s.release()

	attempt := 0
	for {
		expired := s.readLoop(ctx, conn, ch)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if expired || ctx.Err() != nil {
			return
		}

		// Connection dropped; back off and redial.
		for {
			if attempt >= s.cfg.MaxReconnectAttempts {
				s.cfg.Logger.Error("stream reconnect attempts exhausted",
					zap.Int("attempts", attempt))
				return
			}
			delay := s.backoff(attempt)
			attempt++
			s.cfg.Logger.Warn("stream disconnected, reconnecting",
				zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			next, err := s.dial(ctx)
			if err != nil {
				s.cfg.Logger.Warn("stream reconnect failed", zap.Error(err))
				continue
			}
			conn = next
			attempt = 0
			break
		}
	}
}

// readLoop delivers events until a read error. Returns true when the server
// expired the session, which disables reconnection.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, ch chan Event) (expired bool) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return false
		}
		evt, err := parseEnvelope(data)
		if err != nil {
			s.cfg.Logger.Warn("unparseable stream envelope", zap.Error(err))
			continue
		}
		if evt == nil {
			continue
		}
		select {
		case ch <- evt:
		case <-ctx.Done():
			return false
		}
		if _, ok := evt.(SessionExpiredEvent); ok {
			return true
		}
	}
}

func (s *Stream) backoff(attempt int) time.Duration {
	delay := s.cfg.ReconnectBaseDelay << uint(attempt)
	if delay > s.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = s.cfg.ReconnectMaxDelay
	}
	// Jitter up to 25% to avoid thundering-herd reconnects.
	return delay + time.Duration(rand.Int63n(int64(delay)/4+1))
}

// envelope is the wire format for all push events.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireTyping struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

type wirePresence struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type wireExpired struct {
	Reason string `json:"reason"`
}

// parseEnvelope normalizes one push envelope into a typed event. Unknown
// envelope types yield (nil, nil) and are skipped.
func parseEnvelope(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case "message.new":
		var m wireMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		return MessageEvent{Message: m.toStore()}, nil
	case "typing":
		var t wireTyping
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, fmt.Errorf("decode typing payload: %w", err)
		}
		return TypingEvent{ConversationID: t.ConversationID, UserID: t.UserID, Typing: t.Typing}, nil
	case "presence":
		var p wirePresence
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode presence payload: %w", err)
		}
		return PresenceEvent{UserID: p.UserID, Online: p.Online}, nil
	case "session.expired":
		var e wireExpired
		_ = json.Unmarshal(env.Payload, &e)
		return SessionExpiredEvent{Reason: e.Reason}, nil
	default:
		return nil, nil
	}
}
