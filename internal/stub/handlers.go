package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/weftlabs/weft/internal/client"
	"github.com/weftlabs/weft/internal/protocol"
	"github.com/weftlabs/weft/internal/transcript"
)

// handleSend runs one scripted chat turn as a server-sent event stream.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req client.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	var (
		sess         client.Session
		newSessionID string
	)
	if req.SessionID != "" {
		var err error
		sess, err = s.store.getSession(req.SessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
	} else {
		orchestration := req.OrchestrationType
		if orchestration == "" {
			orchestration = client.OrchestrationSequential
		}
		agents := req.AgentIDs
		if len(agents) == 0 {
			agents = s.cfg.DefaultAgents
		}
		sess = s.store.createSession(deriveTitle(req.Message), orchestration, agents, userIDFrom(r.Context()))
		// Only a turn that created its session reports an id on done;
		// for existing sessions the caller already knows it.
		newSessionID = sess.ID
	}

	agents := sess.SelectedAgents
	if len(agents) == 0 {
		agents = s.cfg.DefaultAgents
	}
	events := scriptTurn(req.Message, agents, newSessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Pace the stream so local rendering resembles real token output.
	limiter := rate.NewLimiter(rate.Limit(s.cfg.ChunksPerSec), 1)

	var reply strings.Builder
	for _, ev := range events {
		if err := limiter.Wait(r.Context()); err != nil {
			log.Debug().Str("session_id", sess.ID).Msg("stub: client went away mid-stream")
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("stub: marshal event")
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()

		if ev.Type == protocol.EventContent {
			reply.WriteString(ev.Content)
		}
	}

	now := time.Now().UTC()
	err := s.store.appendMessages(sess.ID,
		transcript.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      transcript.RoleUser,
			Content:   req.Message,
			Timestamp: now,
		},
		transcript.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      transcript.RoleAssistant,
			Content:   reply.String(),
			Timestamp: now,
		},
	)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("stub: persist turn messages")
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.listSessions(queryInt(r, "page_size"), r.URL.Query().Get("continuation_token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req client.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	orchestration := req.OrchestrationType
	if orchestration == "" {
		orchestration = client.OrchestrationSequential
	}

	sess := s.store.createSession(req.Title, orchestration, req.SelectedAgents, userIDFrom(r.Context()))
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.getSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req client.UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.store.updateSession(chi.URLParam(r, "sessionID"), req)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.deleteSession(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.listMessages(
		chi.URLParam(r, "sessionID"),
		queryInt(r, "page_size"),
		r.URL.Query().Get("continuation_token"),
		r.URL.Query().Get("oldest_first") == "true",
	)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	agents := make([]client.AgentInfo, 0, len(s.cfg.DefaultAgents))
	for i, name := range s.cfg.DefaultAgents {
		agents = append(agents, client.AgentInfo{
			ID:          fmt.Sprintf("agent-%d", i+1),
			Name:        name,
			Description: "Scripted development agent",
			AgentType:   "worker",
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

// deriveTitle matches the truncation the client applies to its
// optimistic titles, so the resolved session looks identical.
func deriveTitle(message string) string {
	const maxTitle = 50
	runes := []rune(message)
	if len(runes) <= maxTitle {
		return message
	}
	return string(runes[:maxTitle]) + "..."
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("stub: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"status": status,
		"detail": detail,
	})
}
