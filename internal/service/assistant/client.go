package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
	"github.com/unipath/unipath/realtime/internal/stream"
)

var ErrNotConfigured = errors.New("assistant service is not configured")

// Config carries the assistant collaborator's endpoint settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Streaming bool
	Timeout   time.Duration
}

// Client talks to the assistant service: a role/content message history goes
// up with a bearer credential, and either a single JSON body or a chunked
// SSE stream comes back.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a client; a zero BaseURL means the collaborator is not
// configured and callers should use the local fallback.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether an upstream endpoint is configured.
func (c *Client) Enabled() bool { return c.cfg.BaseURL != "" }

// StreamingEnabled reports whether chunked responses are requested.
func (c *Client) StreamingEnabled() bool { return c.cfg.Streaming }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Stream opens a chunked assistant response and returns a reader of message
// deltas. Transport failures and in-stream error frames surface as reader
// errors; the caller resolves them through the fallback path.
func (c *Client) Stream(ctx context.Context, history []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	resp, err := c.post(ctx, history, true)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()

		reader := stream.NewResponseReader(resp.Body)
		for {
			ev, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			switch ev.Kind {
			case event.ResponseDelta:
				if sw.Send(schema.AssistantMessage(ev.Delta, nil), nil) {
					return // receiver closed
				}
			case event.ResponseDone:
				return
			case event.ResponseError:
				sw.Send(nil, fmt.Errorf("assistant error: %s", ev.Reason))
				return
			case event.ConnectionLost:
				sw.Send(nil, fmt.Errorf("assistant stream interrupted: %s", ev.Reason))
				return
			}
		}
	}()
	return sr, nil
}

// Complete requests a single JSON reply.
func (c *Client) Complete(ctx context.Context, history []*schema.Message) (*schema.Message, error) {
	resp, err := c.post(ctx, history, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode assistant response: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("assistant error: %s", body.Error)
	}
	return schema.AssistantMessage(body.Content, nil), nil
}

func (c *Client) post(ctx context.Context, history []*schema.Message, streaming bool) (*http.Response, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	payload := completionRequest{Model: c.cfg.Model, Stream: streaming}
	for _, m := range history {
		payload.Messages = append(payload.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assistant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("assistant returned status %d: %s", resp.StatusCode, snippet)
	}
	return resp, nil
}

// HistoryMessages converts stored conversation messages into the role/content
// history the assistant expects, capped to the most recent limit entries.
func HistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.SenderID {
		case string(chat.RoleAssistant):
			history = append(history, schema.AssistantMessage(msg.Body, nil))
		default:
			history = append(history, schema.UserMessage(msg.Body))
		}
	}
	return history
}
