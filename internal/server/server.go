// Package server wires the HTTP surface: execution, telemetry, chat and
// activity-generation endpoints plus health probes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbailabs/rbai/internal/activity"
	"github.com/rbailabs/rbai/internal/behavior"
	"github.com/rbailabs/rbai/internal/data"
	"github.com/rbailabs/rbai/internal/firewall"
	"github.com/rbailabs/rbai/internal/sandbox"
	"github.com/rbailabs/rbai/internal/telemetry"
)

// Version reported by the root endpoint.
const Version = "1.0.0"

// SandboxService is the execution surface the handlers need. Nil when the
// container runtime was unavailable at startup; endpoints then degrade.
type SandboxService interface {
	Execute(ctx context.Context, code, stdin string) sandbox.Result
	RunTests(ctx context.Context, code string, cases []sandbox.TestCase) sandbox.Result
	CheckHealth(ctx context.Context) sandbox.Health
}

// TutorService is the firewall surface the chat handlers need.
type TutorService interface {
	Process(ctx context.Context, cc firewall.ChatContext) firewall.ChatResponse
	Stream(ctx context.Context, cc firewall.ChatContext, onChunk func(string)) firewall.ChatResponse
	Hint(ctx context.Context, problemDescription, currentCode, cognitiveState string) firewall.ChatResponse
}

// ActivityService generates structured exercises.
type ActivityService interface {
	Generate(ctx context.Context, prompt string) (*activity.Activity, error)
}

// EventRecorder persists run events. Nil disables persistence.
type EventRecorder interface {
	RecordRun(ctx context.Context, event data.RunEvent) (string, error)
	Health() error
}

// Deps carries the services the server exposes. Sandbox, Tutor, Generator
// and Events may each be nil; the matching endpoints degrade rather than
// failing startup.
type Deps struct {
	Sandbox   SandboxService
	Tutor     TutorService
	Generator ActivityService
	Telemetry *telemetry.Coordinator
	CodeStore *firewall.CodeStore
	Events    EventRecorder
	LLMModel  string
}

// Server is the HTTP front end.
type Server struct {
	deps       Deps
	corsOrigin string
	log        zerolog.Logger
	httpServer *http.Server
}

// New builds the server with its route table.
func New(deps Deps, port int, corsOrigin string, log zerolog.Logger) *Server {
	s := &Server{
		deps:       deps,
		corsOrigin: corsOrigin,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/execution/run", s.handleRun)
	mux.HandleFunc("GET /api/execution/health", s.handleExecutionHealth)
	mux.HandleFunc("POST /api/telemetry/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/telemetry/health", s.handleTelemetryHealth)
	mux.HandleFunc("POST /api/chat", s.handleSimpleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleStreamChat)
	mux.HandleFunc("POST /api/chat/ask", s.handleAsk)
	mux.HandleFunc("POST /api/chat/hint", s.handleHint)
	mux.HandleFunc("GET /api/chat/health", s.handleChatHealth)
	mux.HandleFunc("POST /api/ai/generate-activity", s.handleGenerateActivity)
	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withCORS allows the configured frontend origin, answering preflights
// directly.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.corsOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rbAI Backend API",
		"version": Version,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rbAI",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// analyzeRequest is the telemetry wire record: raw session metrics plus
// identifiers.
type analyzeRequest struct {
	SessionID string `json:"session_id"`
	ProblemID string `json:"problem_id"`
	behavior.SessionMetrics
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.log.Info().Str("session", req.SessionID).Str("problem", req.ProblemID).Msg("processing telemetry")
	analysis := s.deps.Telemetry.Analyze(req.SessionMetrics)
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleTelemetryHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"services": map[string]string{
			"data_fusion_engine": "available",
			"ces_calculator":     "available",
		},
	})
}
