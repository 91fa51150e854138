package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crew-io/crewd/pkg/protocol"
)

const (
	defaultModel        = "gpt-4.1-mini"
	defaultPollInterval = 500 * time.Millisecond
)

// Client implements Planner over an OpenAI-compatible assistants API, such as
// a LiteLLM proxy.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	model          string
	customProvider string
	pollInterval   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithModel sets the model identifier requested for new personas.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithCustomProvider sets the custom_llm_provider hint forwarded to the proxy.
func WithCustomProvider(p string) Option {
	return func(c *Client) { c.customProvider = p }
}

// WithPollInterval sets the delay between run status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// NewClient creates a planning client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		baseURL:      "https://api.openai.com/v1",
		apiKey:       apiKey,
		model:        defaultModel,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAgent provisions an assistant and a fresh thread for it.
func (c *Client) CreateAgent(ctx context.Context, name, instructions string) (protocol.AgentSession, error) {
	body := map[string]any{
		"model":        c.model,
		"name":         name,
		"instructions": instructions,
		"tools":        []any{},
	}
	if c.customProvider != "" {
		body["custom_llm_provider"] = c.customProvider
	}

	var assistant struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/assistants", body, &assistant); err != nil {
		return protocol.AgentSession{}, fmt.Errorf("planner: create assistant %s: %w", name, err)
	}

	var thread struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/threads", map[string]any{}, &thread); err != nil {
		return protocol.AgentSession{}, fmt.Errorf("planner: create thread for %s: %w", name, err)
	}

	role := instructions
	if i := len(role); i > 64 {
		role = role[:64]
	}
	return protocol.AgentSession{
		AssistantID: assistant.ID,
		ThreadID:    thread.ID,
		Name:        name,
		Role:        role,
	}, nil
}

// SendMessage posts content to the session's thread, starts a run, blocks
// until the run reaches a terminal state, and returns the thread's messages
// oldest first.
func (c *Client) SendMessage(ctx context.Context, session protocol.AgentSession, content string, metadata map[string]string) (Transcript, error) {
	msgBody := map[string]any{
		"role":    "user",
		"content": content,
	}
	if len(metadata) > 0 {
		msgBody["metadata"] = metadata
	}
	if err := c.post(ctx, "/threads/"+session.ThreadID+"/messages", msgBody, nil); err != nil {
		return nil, fmt.Errorf("planner: post message: %w", err)
	}

	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	runBody := map[string]any{"assistant_id": session.AssistantID}
	if err := c.post(ctx, "/threads/"+session.ThreadID+"/runs", runBody, &run); err != nil {
		return nil, fmt.Errorf("planner: start run: %w", err)
	}

	for !terminalRunStatus(run.Status) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("planner: awaiting run %s: %w", run.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		if err := c.get(ctx, "/threads/"+session.ThreadID+"/runs/"+run.ID, &run); err != nil {
			return nil, fmt.Errorf("planner: poll run %s: %w", run.ID, err)
		}
	}

	var listed struct {
		Data []ThreadMessage `json:"data"`
	}
	if err := c.get(ctx, "/threads/"+session.ThreadID+"/messages", &listed); err != nil {
		return nil, fmt.Errorf("planner: list messages: %w", err)
	}

	// The API lists newest first; transcripts are chronological.
	t := make(Transcript, len(listed.Data))
	for i, m := range listed.Data {
		t[len(listed.Data)-1-i] = m
	}
	return t, nil
}

func terminalRunStatus(s string) bool {
	switch s {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
