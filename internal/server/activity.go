package server

import (
	"net/http"
)

type generateActivityRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "AI service not available. Check LLM API key configuration.")
		return
	}

	var req generateActivityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	act, err := s.deps.Generator.Generate(r.Context(), req.Prompt)
	if err != nil {
		s.log.Error().Err(err).Msg("activity generation failed")
		writeError(w, http.StatusBadGateway, "Failed to generate activity. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, act)
}
