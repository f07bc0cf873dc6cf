package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rbailabs/rbai/internal/firewall"
	"github.com/rbailabs/rbai/internal/llm"
)

// behavioralContext carries the telemetry state names attached to a chat
// request.
type behavioralContext struct {
	CognitiveState  string `json:"cognitive_state"`
	IterationState  string `json:"iteration_state"`
	ProvenanceState string `json:"provenance_state"`
}

// askRequest is the full tutoring request with problem and behavioral
// context.
type askRequest struct {
	UserQuery          string             `json:"user_query"`
	ProblemDescription string             `json:"problem_description"`
	CurrentCode        string             `json:"current_code"`
	SessionID          string             `json:"session_id"`
	ProblemID          string             `json:"problem_id"`
	ChatHistory        []llm.Message      `json:"chat_history"`
	BehavioralContext  *behavioralContext `json:"behavioral_context"`
}

type askResponse struct {
	Message               string    `json:"message"`
	IsAllowed             bool      `json:"is_allowed"`
	InterventionTriggered bool      `json:"intervention_triggered"`
	Timestamp             time.Time `json:"timestamp"`
}

// simpleChatRequest is the lightweight frontend chat shape.
type simpleChatRequest struct {
	Message     string        `json:"message"`
	ChatHistory []llm.Message `json:"chat_history"`
	SessionID   string        `json:"session_id"`
	ProblemID   string        `json:"problem_id"`
}

func (req askRequest) chatContext() firewall.ChatContext {
	cc := firewall.ChatContext{
		UserQuery:          req.UserQuery,
		ProblemDescription: req.ProblemDescription,
		ProblemID:          req.ProblemID,
		SessionID:          req.SessionID,
		CurrentCode:        req.CurrentCode,
		ChatHistory:        req.ChatHistory,
	}
	if req.BehavioralContext != nil {
		cc.CognitiveState = req.BehavioralContext.CognitiveState
		cc.IterationState = req.BehavioralContext.IterationState
		cc.ProvenanceState = req.BehavioralContext.ProvenanceState
	}
	return cc
}

// tutorUnavailable guards chat endpoints when no API key was configured.
func (s *Server) tutorUnavailable(w http.ResponseWriter) bool {
	if s.deps.Tutor == nil {
		writeError(w, http.StatusServiceUnavailable, "AI service not available. Check LLM API key configuration.")
		return true
	}
	return false
}

func (s *Server) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	if s.tutorUnavailable(w) {
		return
	}

	var req simpleChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp := s.deps.Tutor.Process(r.Context(), firewall.ChatContext{
		UserQuery:          req.Message,
		ProblemDescription: "General coding problem",
		SessionID:          req.SessionID,
		ProblemID:          req.ProblemID,
		ChatHistory:        req.ChatHistory,
	})
	writeJSON(w, http.StatusOK, map[string]string{"response": resp.Message})
}

func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	if s.tutorUnavailable(w) {
		return
	}

	var req simpleChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.deps.Tutor.Stream(r.Context(), firewall.ChatContext{
		UserQuery:          req.Message,
		ProblemDescription: "General coding problem",
		SessionID:          req.SessionID,
		ProblemID:          req.ProblemID,
		ChatHistory:        req.ChatHistory,
	}, func(chunk string) {
		writeSSEFrame(w, chunk)
		flusher.Flush()
	})

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// writeSSEFrame emits one content chunk as a server-sent event.
func writeSSEFrame(w http.ResponseWriter, content string) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.tutorUnavailable(w) {
		return
	}

	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserQuery == "" {
		writeError(w, http.StatusBadRequest, "user_query is required")
		return
	}

	resp := s.deps.Tutor.Process(r.Context(), req.chatContext())
	writeJSON(w, http.StatusOK, askResponse{
		Message:               resp.Message,
		IsAllowed:             resp.IsAllowed,
		InterventionTriggered: resp.InterventionTriggered,
		Timestamp:             time.Now(),
	})
}

type hintRequest struct {
	ProblemDescription string `json:"problem_description"`
	CurrentCode        string `json:"current_code"`
	CognitiveState     string `json:"cognitive_state"`
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	if s.tutorUnavailable(w) {
		return
	}

	var req hintRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp := s.deps.Tutor.Hint(r.Context(), req.ProblemDescription, req.CurrentCode, req.CognitiveState)
	writeJSON(w, http.StatusOK, askResponse{
		Message:               resp.Message,
		IsAllowed:             resp.IsAllowed,
		InterventionTriggered: resp.InterventionTriggered,
		Timestamp:             time.Now(),
	})
}

func (s *Server) handleChatHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Tutor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "LLM API key not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "operational",
		"model":    s.deps.LLMModel,
		"firewall": "active",
	})
}
