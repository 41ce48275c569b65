package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/weftlabs/weft/internal/transcript"
)

// Session is a server-side chat session as returned by the backend.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId,omitempty"`
	Title             string     `json:"title"`
	OrchestrationType string     `json:"orchestrationType"`
	SelectedAgents    []string   `json:"selectedAgents"`
	CreatedAt         *time.Time `json:"createdAt,omitempty"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
	MessageCount      int        `json:"messageCount"`
}

// SessionPage is one page of the session list.
type SessionPage struct {
	Sessions          []Session `json:"sessions"`
	ContinuationToken string    `json:"continuation_token,omitempty"`
	HasMore           bool      `json:"has_more"`
}

// MessagePage is one page of a session's messages.
type MessagePage struct {
	Messages          []transcript.Message `json:"messages"`
	ContinuationToken string               `json:"continuation_token,omitempty"`
	HasMore           bool                 `json:"has_more"`
}

// AgentInfo describes an agent available for selection.
type AgentInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	AgentType      string `json:"agent_type"`
	IsOrchestrator bool   `json:"is_orchestrator"`
	Model          string `json:"model,omitempty"`
}

// CreateSessionRequest creates a session ahead of any turn.
type CreateSessionRequest struct {
	Title             string   `json:"title"`
	OrchestrationType string   `json:"orchestration_type,omitempty"`
	SelectedAgents    []string `json:"selected_agents,omitempty"`
}

// UpdateSessionRequest patches a session; nil fields are left unchanged.
type UpdateSessionRequest struct {
	Title             *string  `json:"title,omitempty"`
	OrchestrationType *string  `json:"orchestration_type,omitempty"`
	SelectedAgents    []string `json:"selected_agents,omitempty"`
}

// ListSessions fetches one page of the caller's sessions. Pass the
// previous page's continuation token to advance; "" starts from the top.
func (c *Client) ListSessions(ctx context.Context, pageSize int, continuationToken string) (SessionPage, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	if continuationToken != "" {
		q.Set("continuation_token", continuationToken)
	}

	var page SessionPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/sessions?"+q.Encode(), nil, &page); err != nil {
		return SessionPage{}, fmt.Errorf("client.ListSessions: %w", err)
	}
	return page, nil
}

// CreateSession creates a session without sending a message.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat/sessions", req, &s); err != nil {
		return Session{}, fmt.Errorf("client.CreateSession: %w", err)
	}
	return s, nil
}

// GetSession fetches a single session by server id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/sessions/"+url.PathEscape(sessionID), nil, &s); err != nil {
		return Session{}, fmt.Errorf("client.GetSession: %w", err)
	}
	return s, nil
}

// UpdateSession patches a session's title, orchestration or agent set.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, req UpdateSessionRequest) (Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPatch, "/api/chat/sessions/"+url.PathEscape(sessionID), req, &s); err != nil {
		return Session{}, fmt.Errorf("client.UpdateSession: %w", err)
	}
	return s, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/chat/sessions/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteSession: %w", err)
	}
	return nil
}

// ListMessages fetches one page of a session's messages.
func (c *Client) ListMessages(ctx context.Context, sessionID string, pageSize int, continuationToken string, oldestFirst bool) (MessagePage, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	if continuationToken != "" {
		q.Set("continuation_token", continuationToken)
	}
	if oldestFirst {
		q.Set("oldest_first", "true")
	}

	var page MessagePage
	path := "/api/chat/sessions/" + url.PathEscape(sessionID) + "/messages?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return MessagePage{}, fmt.Errorf("client.ListMessages: %w", err)
	}
	return page, nil
}

// ListAgents fetches the agents available for chat selection.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var resp struct {
		Agents []AgentInfo `json:"agents"`
		Count  int         `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/agents", nil, &resp); err != nil {
		return nil, fmt.Errorf("client.ListAgents: %w", err)
	}
	return resp.Agents, nil
}
