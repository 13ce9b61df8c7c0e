package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ricardofn/chirp/internal/store"
	"go.uber.org/zap"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client is the JSON/HTTP request/response adapter. It implements
// store.Transport and owns no state beyond request lifetimes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a transport client for the given server.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Me returns the authenticated user's identity.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var resp struct {
		User Identity `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, &resp); err != nil {
		return Identity{}, err
	}
	return resp.User, nil
}

// FetchHistory returns the most recent pageSize messages, newest first, as
// served. The store reverses before reconciling.
func (c *Client) FetchHistory(ctx context.Context, conversationID string, pageSize int) ([]store.Message, error) {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages?limit=" + strconv.Itoa(pageSize)
	var resp struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]store.Message, 0, len(resp.Messages))
	for i := range resp.Messages {
		out = append(out, resp.Messages[i].toStore())
	}
	return out, nil
}

// Send delivers an outgoing message. The server assigns the id and echoes
// the correlation id in the acknowledged message.
func (c *Client) Send(ctx context.Context, req store.SendRequest) (store.Message, error) {
	meta, err := encodeMetadata(req.Meta)
	if err != nil {
		return store.Message{}, fmt.Errorf("encode metadata: %w", err)
	}
	body := struct {
		Content       string          `json:"content"`
		Type          string          `json:"type"`
		CorrelationID string          `json:"correlation_id"`
		Metadata      json.RawMessage `json:"metadata,omitempty"`
	}{
		Content:       req.Body,
		Type:          string(req.Type),
		CorrelationID: req.CorrelationID,
		Metadata:      meta,
	}
	path := "/v1/conversations/" + url.PathEscape(req.ConversationID) + "/messages"
	var resp struct {
		Message wireMessage `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return store.Message{}, err
	}
	return resp.Message.toStore(), nil
}

// MarkAsRead reports the conversation as read. Best-effort.
func (c *Client) MarkAsRead(ctx context.Context, conversationID string) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GetOrCreateConversation resolves the conversation with targetUserID,
// creating it server-side if none exists.
func (c *Client) GetOrCreateConversation(ctx context.Context, targetUserID string) (store.Conversation, error) {
	body := struct {
		TargetUserID string `json:"target_user_id"`
	}{TargetUserID: targetUserID}
	var resp struct {
		Conversation wireConversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/conversations", body, &resp); err != nil {
		return store.Conversation{}, err
	}
	return resp.Conversation.toStore(), nil
}

// SendTyping broadcasts a transient typing signal. Best-effort.
func (c *Client) SendTyping(ctx context.Context, conversationID string, typing bool) error {
	body := struct {
		Typing bool `json:"typing"`
	}{Typing: typing}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/typing"
	return c.do(ctx, http.MethodPost, path, body, nil)
}
