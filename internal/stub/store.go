package stub

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/client"
	"github.com/weftlabs/weft/internal/transcript"
)

// ErrSessionNotFound is returned for lookups of unknown session ids.
var ErrSessionNotFound = errors.New("stub: session not found")

// memStore keeps sessions and messages in memory. The stub exists for
// local development and tests; nothing here survives a restart.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*client.Session
	messages map[string][]transcript.Message
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*client.Session),
		messages: make(map[string][]transcript.Message),
	}
}

func (s *memStore) createSession(title, orchestrationType string, agents []string, userID string) client.Session {
	now := time.Now().UTC()
	sess := client.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		Title:             title,
		OrchestrationType: orchestrationType,
		SelectedAgents:    append([]string(nil), agents...),
		CreatedAt:         &now,
		LastMessageAt:     &now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &sess
	s.mu.Unlock()

	return sess
}

func (s *memStore) getSession(id string) (client.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return client.Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

func (s *memStore) updateSession(id string, req client.UpdateSessionRequest) (client.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return client.Session{}, ErrSessionNotFound
	}
	if req.Title != nil {
		sess.Title = *req.Title
	}
	if req.OrchestrationType != nil {
		sess.OrchestrationType = *req.OrchestrationType
	}
	if req.SelectedAgents != nil {
		sess.SelectedAgents = append([]string(nil), req.SelectedAgents...)
	}
	return *sess, nil
}

func (s *memStore) deleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// listSessions returns one page ordered by last activity, newest first.
// The continuation token is an offset into that ordering; good enough
// for a store that never outlives the process.
func (s *memStore) listSessions(pageSize int, token string) (client.SessionPage, error) {
	offset, err := parseToken(token)
	if err != nil {
		return client.SessionPage{}, err
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	s.mu.Lock()
	all := make([]client.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, *sess)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		ti, tj := sessTime(all[i]), sessTime(all[j])
		if ti.Equal(tj) {
			return all[i].ID < all[j].ID
		}
		return ti.After(tj)
	})

	return paginateSessions(all, offset, pageSize), nil
}

func sessTime(s client.Session) time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	if s.CreatedAt != nil {
		return *s.CreatedAt
	}
	return time.Time{}
}

func paginateSessions(all []client.Session, offset, pageSize int) client.SessionPage {
	if offset >= len(all) {
		return client.SessionPage{Sessions: []client.Session{}}
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	page := client.SessionPage{
		Sessions: all[offset:end],
		HasMore:  end < len(all),
	}
	if page.HasMore {
		page.ContinuationToken = strconv.Itoa(end)
	}
	return page
}

func (s *memStore) appendMessages(sessionID string, msgs ...transcript.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.messages[sessionID] = append(s.messages[sessionID], msgs...)
	sess.MessageCount = len(s.messages[sessionID])
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].Timestamp
		sess.LastMessageAt = &last
	}
	return nil
}

// listMessages pages through a session's messages. Storage order is
// chronological; the default presentation is newest first.
func (s *memStore) listMessages(sessionID string, pageSize int, token string, oldestFirst bool) (client.MessagePage, error) {
	offset, err := parseToken(token)
	if err != nil {
		return client.MessagePage{}, err
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return client.MessagePage{}, ErrSessionNotFound
	}
	all := append([]transcript.Message(nil), s.messages[sessionID]...)
	s.mu.Unlock()

	if !oldestFirst {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}

	if offset >= len(all) {
		return client.MessagePage{Messages: []transcript.Message{}}, nil
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	page := client.MessagePage{
		Messages: all[offset:end],
		HasMore:  end < len(all),
	}
	if page.HasMore {
		page.ContinuationToken = strconv.Itoa(end)
	}
	return page, nil
}

func parseToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(token)
	if err != nil || offset < 0 {
		return 0, errors.New("stub: invalid continuation token")
	}
	return offset, nil
}
