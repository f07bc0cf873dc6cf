package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rbailabs/rbai/internal/data"
	"github.com/rbailabs/rbai/internal/sandbox"
	"github.com/rbailabs/rbai/internal/telemetry"
)

// runRequest is the execution wire request. Telemetry is an opaque bag the
// client attaches; only last_run_timestamp is interpreted server-side.
type runRequest struct {
	Code      string             `json:"code"`
	Stdin     string             `json:"stdin"`
	TestCases []sandbox.TestCase `json:"test_cases"`
	SessionID string             `json:"session_id"`
	ProblemID string             `json:"problem_id"`
	Telemetry map[string]any     `json:"telemetry"`
}

type runResponse struct {
	Status          string               `json:"status"`
	Output          string               `json:"output"`
	Error           string               `json:"error"`
	ExecutionTime   float64              `json:"execution_time"`
	ExitCode        int                  `json:"exit_code"`
	TestResults     []sandbox.TestResult `json:"test_results,omitempty"`
	BehavioralFlags map[string]any       `json:"behavioral_flags,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeError(w, http.StatusInternalServerError, "Execution service error")
		return
	}

	var req runRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	// Snapshot the code so the tutor can reference it later in the session.
	if s.deps.CodeStore != nil && req.SessionID != "" && req.ProblemID != "" {
		s.deps.CodeStore.Put(req.SessionID, req.ProblemID, req.Code)
	}

	var result sandbox.Result
	if len(req.TestCases) > 0 {
		result = s.deps.Sandbox.RunTests(r.Context(), req.Code, req.TestCases)
	} else {
		result = s.deps.Sandbox.Execute(r.Context(), req.Code, req.Stdin)
	}

	s.recordRun(req, result)

	writeJSON(w, http.StatusOK, runResponse{
		Status:          result.Status,
		Output:          result.Output,
		Error:           result.Error,
		ExecutionTime:   result.ExecutionTime,
		ExitCode:        result.ExitCode,
		TestResults:     result.TestResults,
		BehavioralFlags: telemetry.ExecutionFlags(result.Status, result.ExecutionTime, req.Telemetry, time.Now()),
	})
}

// recordRun persists the event off the request path; the response never waits
// on the database.
func (s *Server) recordRun(req runRequest, result sandbox.Result) {
	if s.deps.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.deps.Events.RecordRun(ctx, data.RunEvent{
			SessionID:     req.SessionID,
			ProblemID:     req.ProblemID,
			Status:        result.Status,
			ExitCode:      result.ExitCode,
			ExecutionTime: result.ExecutionTime,
			CodeSize:      len(req.Code),
			Error:         result.Error,
		}); err != nil {
			s.log.Warn().Err(err).Msg("recording run event failed")
		}
	}()
}

func (s *Server) handleExecutionHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		writeJSON(w, http.StatusServiceUnavailable, sandbox.Health{
			Status:          "unhealthy",
			DockerAvailable: false,
			Error:           "execution service not initialized",
		})
		return
	}

	health := s.deps.Sandbox.CheckHealth(r.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
