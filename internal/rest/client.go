// ABOUTME: Thin REST client for the KOOK HTTP API v3.
// ABOUTME: Fetches the gateway endpoint, the bot identity, and sends messages.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the platform API root used when config leaves it unset.
const DefaultBaseURL = "https://www.kookapp.cn"

// Client calls the platform REST API on behalf of one account.
type Client struct {
	baseURL  string
	token    string
	compress bool
	http     *http.Client
}

// NewClient creates a Client authenticated with the given bot token.
func NewClient(baseURL, token string, compress bool) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		token:    token,
		compress: compress,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// envelope is the standard API response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Gateway fetches a fresh WebSocket gateway URL. Gateway URLs are not
// assumed stable, so this is called before every connection attempt.
func (c *Client) Gateway(ctx context.Context) (string, error) {
	compress := "0"
	if c.compress {
		compress = "1"
	}

	var data struct {
		URL string `json:"url"`
	}
	if err := c.get(ctx, "/api/v3/gateway/index?compress="+compress, &data); err != nil {
		return "", fmt.Errorf("fetching gateway endpoint: %w", err)
	}
	if data.URL == "" {
		return "", fmt.Errorf("gateway endpoint response missing url")
	}
	return data.URL, nil
}

// Me returns the bot's own user ID.
func (c *Client) Me(ctx context.Context) (string, error) {
	var data struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, "/api/v3/user/me", &data); err != nil {
		return "", fmt.Errorf("fetching self identity: %w", err)
	}
	if data.ID == "" {
		return "", fmt.Errorf("self identity response missing id")
	}
	return data.ID, nil
}

// messageRequest is the body for both channel and direct message creation.
type messageRequest struct {
	Type     int    `json:"type"`
	TargetID string `json:"target_id"`
	Content  string `json:"content"`
	Quote    string `json:"quote,omitempty"`
	Nonce    string `json:"nonce"`
}

// SendChannelMessage posts a kmarkdown message to a group channel.
// quote optionally references the message being replied to.
func (c *Client) SendChannelMessage(ctx context.Context, targetID, content, quote string) (string, error) {
	return c.sendMessage(ctx, "/api/v3/message/create", targetID, content, quote)
}

// SendDirectMessage posts a kmarkdown message to a user's direct channel.
func (c *Client) SendDirectMessage(ctx context.Context, targetID, content, quote string) (string, error) {
	return c.sendMessage(ctx, "/api/v3/direct-message/create", targetID, content, quote)
}

func (c *Client) sendMessage(ctx context.Context, path, targetID, content, quote string) (string, error) {
	req := messageRequest{
		Type:     9, // kmarkdown
		TargetID: targetID,
		Content:  content,
		Quote:    quote,
		Nonce:    uuid.NewString(),
	}

	var data struct {
		MsgID string `json:"msg_id"`
	}
	if err := c.post(ctx, path, req, &data); err != nil {
		return "", fmt.Errorf("sending message to %s: %w", targetID, err)
	}
	return data.MsgID, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response envelope: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("api error %d: %s", env.Code, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
