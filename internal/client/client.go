// Package client talks to the chat backend: the streaming send endpoint
// and the session/message REST surface. Token acquisition is external;
// the client only attaches whatever the injected token source yields.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Orchestration pattern names accepted by the backend.
const (
	OrchestrationSingle     = "single"
	OrchestrationSequential = "sequential"
	OrchestrationConcurrent = "concurrent"
	OrchestrationMagentic   = "magentic"
	OrchestrationGroupChat  = "group_chat"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("client: not found")

// APIError is a non-success response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: backend returned %d: %s", e.Status, e.Body)
}

// Is maps 404 responses onto ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client is the HTTP collaborator for the chat backend.
type Client struct {
	baseURL string
	tokens  oauth2.TokenSource

	// httpClient serves the REST surface with a request timeout.
	// streamClient has no overall timeout: a streaming turn legitimately
	// outlives any fixed deadline and is bounded by its context instead.
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a Client for the backend at baseURL. tokens supplies the
// bearer token for every request; pass nil to send unauthenticated
// requests (local stub development).
func New(baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// SendRequest is the body for the streaming chat endpoint. An empty
// SessionID asks the backend to create a new session for this turn.
type SendRequest struct {
	Message           string   `json:"message"`
	SessionID         string   `json:"session_id,omitempty"`
	OrchestrationType string   `json:"orchestration_type,omitempty"`
	AgentIDs          []string `json:"agent_ids,omitempty"`
}

// Send submits one chat turn and returns the raw response stream. The
// caller owns the stream and must close it; cancelling ctx aborts it.
func (c *Client) Send(ctx context.Context, req SendRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client.Send: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client.Send: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	if err := c.authorize(httpReq); err != nil {
		return nil, fmt.Errorf("client.Send: %w", err)
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client.Send: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("client.Send: %w", readAPIError(resp))
	}

	return resp.Body, nil
}

// authorize attaches the bearer token from the token source, if any.
func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("token source: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// doJSON performs an authorized request and decodes a JSON response into
// out (which may be nil for empty responses).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
}
