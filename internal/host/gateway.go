// ABOUTME: HTTP implementation of the host Runtime against a gateway API.
// ABOUTME: Sends enveloped messages and streams SSE reply events back.

package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventType represents SSE event types from the host gateway.
type EventType string

const (
	EventThinking EventType = "thinking"
	EventText     EventType = "text"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// SSEEvent represents a parsed Server-Sent Event.
type SSEEvent struct {
	Type EventType
	Data string
}

// TextEventData is the JSON structure for text/done events.
type TextEventData struct {
	Text         string `json:"text,omitempty"`
	FullResponse string `json:"full_response,omitempty"`
}

// ErrorEventData is the JSON structure for error events.
type ErrorEventData struct {
	Error string `json:"error"`
}

// sendRequest is the request body for POST /api/send.
type sendRequest struct {
	ThreadID  string `json:"thread_id,omitempty"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Frontend  string `json:"frontend"`
	ChannelID string `json:"channel_id"`
	Notify    bool   `json:"notify,omitempty"`
}

// GatewayRuntime implements Runtime over the host gateway's HTTP API.
type GatewayRuntime struct {
	baseURL string
	client  *http.Client
}

// NewGatewayRuntime creates a Runtime talking to the host gateway at baseURL.
func NewGatewayRuntime(baseURL string) *GatewayRuntime {
	return &GatewayRuntime{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// ResolveRoute derives the host-side session key for a peer. Routes are
// deterministic so repeated messages from one channel share a thread.
func (g *GatewayRuntime) ResolveRoute(_ context.Context, peer Peer) (string, error) {
	if peer.AccountID == "" || peer.ChannelID == "" {
		return "", fmt.Errorf("peer missing account or channel")
	}
	return fmt.Sprintf("kook:%s:%s", peer.AccountID, peer.ChannelID), nil
}

// EnqueueNotification posts a fire-and-forget notice to the host gateway.
func (g *GatewayRuntime) EnqueueNotification(ctx context.Context, text string, peer Peer) error {
	req := sendRequest{
		Sender:    peer.SenderID,
		Content:   text,
		Frontend:  "kook",
		ChannelID: peer.ChannelID,
		Notify:    true,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/notify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return g.handleErrorResponse(resp)
	}
	return nil
}

// FormatEnvelope prepends buffered channel context ahead of the addressed
// message so the agent sees the conversation it was pulled into.
func (g *GatewayRuntime) FormatEnvelope(peer Peer, content string, history []string) string {
	if len(history) == 0 {
		return content
	}

	var b strings.Builder
	b.WriteString("[Recent channel messages]\n")
	for _, line := range history {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("[Current message]\n")
	b.WriteString(content)
	return b.String()
}

// DispatchReply sends the enveloped message to the host gateway, streams
// the SSE response, and delivers the final text via the ReplyFunc.
func (g *GatewayRuntime) DispatchReply(ctx context.Context, rc ReplyContext, deliver ReplyFunc) (DispatchResult, error) {
	req := sendRequest{
		ThreadID:  rc.SessionKey,
		Sender:    rc.Peer.SenderID,
		Content:   rc.Body,
		Frontend:  "kook",
		ChannelID: rc.Peer.ChannelID,
	}

	result := DispatchResult{Counts: make(map[string]int)}

	var responseText strings.Builder
	fullResponse, err := g.send(ctx, req, func(evt SSEEvent) {
		result.Counts[string(evt.Type)]++
		if evt.Type == EventText {
			var data TextEventData
			if json.Unmarshal([]byte(evt.Data), &data) == nil {
				responseText.WriteString(data.Text)
			}
		}
	})
	if err != nil {
		return result, err
	}

	// Use full response if available, otherwise accumulated text
	response := fullResponse
	if response == "" {
		response = responseText.String()
	}
	if response == "" {
		return result, nil
	}

	if err := deliver(ctx, response); err != nil {
		return result, fmt.Errorf("delivering reply: %w", err)
	}
	result.QueuedFinal = true
	return result, nil
}

// send posts a message to the host gateway and streams SSE responses via callback.
func (g *GatewayRuntime) send(ctx context.Context, req sendRequest, onEvent func(SSEEvent)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", g.handleErrorResponse(resp)
	}

	return g.parseSSEStream(ctx, resp.Body, onEvent)
}

// handleErrorResponse extracts error message from non-200 responses.
func (g *GatewayRuntime) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	// Try to parse as JSON error
	if resp.Header.Get("Content-Type") == "application/json" {
		var errResp ErrorEventData
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("host gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}

	return fmt.Errorf("host gateway returned status %d: %s", resp.StatusCode, string(body))
}

// parseSSEStream reads SSE events from the response body.
func (g *GatewayRuntime) parseSSEStream(ctx context.Context, body io.Reader, onEvent func(SSEEvent)) (string, error) {
	scanner := bufio.NewScanner(body)

	var eventType EventType
	var dataLines []string
	var fullResponse string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return fullResponse, ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				event := SSEEvent{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}

				// Extract full response from done event
				if eventType == EventDone {
					var data TextEventData
					if json.Unmarshal([]byte(event.Data), &data) == nil {
						fullResponse = data.FullResponse
					}
				}

				// Check for error event
				if eventType == EventError {
					var data ErrorEventData
					if json.Unmarshal([]byte(event.Data), &data) == nil {
						return "", fmt.Errorf("agent error: %s", data.Error)
					}
				}

				if onEvent != nil {
					onEvent(event)
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		// Parse event type
		if strings.HasPrefix(line, "event:") {
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			continue
		}

		// Parse data
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return fullResponse, fmt.Errorf("reading SSE stream: %w", err)
	}

	return fullResponse, nil
}
