package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TokenSource supplies the bearer credential for the persistence API and
// the transport. Rotation and expiry are the provider's problem; the
// credential is fetched fresh for every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

// Token returns the fixed credential.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to the persistence API: one-shot history reads, message
// sends, and presence queries. It carries no session state.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
}

// NewClient creates a persistence API client.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL:    baseURL,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// doRequest performs an HTTP request and maps failures onto the error
// taxonomy.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindInvalid, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, newError(KindUnauthorized, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, newError(KindTransient, op, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, newError(KindTransient, op, err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(buf.Bytes(), &errResp)
		if errResp.Error == "" {
			errResp.Error = resp.Status
		}
		return nil, errorf(kindForStatus(resp.StatusCode), op, "%d: %s", resp.StatusCode, errResp.Error)
	}

	return buf.Bytes(), nil
}

// kindForStatus maps an HTTP status onto the error taxonomy.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return KindTransient
	default:
		return KindInvalid
	}
}

// History retrieves the persisted messages of a room in timeline order.
// after is a Unix-ms watermark: zero fetches the full history, anything
// else only messages strictly newer (the gap-fill path after a reconnect).
func (c *Client) History(ctx context.Context, roomID string, after int64) ([]Message, error) {
	path := fmt.Sprintf("/api/chats/%s/messages", roomID)
	if after > 0 {
		path += fmt.Sprintf("?after=%d", after)
	}

	body, err := c.doRequest(ctx, "history", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, newError(KindInvalid, "history", err)
	}
	return msgs, nil
}

// Send persists a message and returns it with its authoritative ID and
// timestamp.
func (c *Client) Send(ctx context.Context, roomID, content string) (*Message, error) {
	reqBody, _ := json.Marshal(map[string]string{"content": content})

	body, err := c.doRequest(ctx, "send", http.MethodPost, fmt.Sprintf("/api/chats/%s/send", roomID), reqBody)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, newError(KindInvalid, "send", err)
	}
	return &msg, nil
}

// Presence returns the IDs of the room's currently online participants.
// The transport does not replay presence, so sessions re-query this on
// every Live entry.
func (c *Client) Presence(ctx context.Context, roomID string) ([]string, error) {
	body, err := c.doRequest(ctx, "presence", http.MethodGet, fmt.Sprintf("/api/chats/%s/presence", roomID), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Online []string `json:"online"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(KindInvalid, "presence", err)
	}
	return resp.Online, nil
}

// CreateOrGetRoom returns the room shared with recipientID, creating it
// on first contact.
func (c *Client) CreateOrGetRoom(ctx context.Context, recipientID string) (*Room, error) {
	reqBody, _ := json.Marshal(map[string]string{"recipient_id": recipientID})

	body, err := c.doRequest(ctx, "create_room", http.MethodPost, "/api/chats/create-or-get", reqBody)
	if err != nil {
		return nil, err
	}

	var room Room
	if err := json.Unmarshal(body, &room); err != nil {
		return nil, newError(KindInvalid, "create_room", err)
	}
	if room.ID == "" {
		return nil, errorf(KindInvalid, "create_room", "response missing room id")
	}
	return &room, nil
}
