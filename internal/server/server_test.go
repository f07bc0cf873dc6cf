package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbailabs/rbai/internal/activity"
	"github.com/rbailabs/rbai/internal/data"
	"github.com/rbailabs/rbai/internal/firewall"
	"github.com/rbailabs/rbai/internal/sandbox"
	"github.com/rbailabs/rbai/internal/telemetry"
)

type fakeSandbox struct {
	executeResult  sandbox.Result
	runTestsResult sandbox.Result
	health         sandbox.Health

	lastCode  string
	lastStdin string
	lastCases []sandbox.TestCase
	testsRun  bool
}

func (f *fakeSandbox) Execute(_ context.Context, code, stdin string) sandbox.Result {
	f.lastCode, f.lastStdin = code, stdin
	return f.executeResult
}

func (f *fakeSandbox) RunTests(_ context.Context, code string, cases []sandbox.TestCase) sandbox.Result {
	f.lastCode, f.lastCases, f.testsRun = code, cases, true
	return f.runTestsResult
}

func (f *fakeSandbox) CheckHealth(context.Context) sandbox.Health {
	return f.health
}

type fakeTutor struct {
	response   firewall.ChatResponse
	chunks     []string
	lastCtx    firewall.ChatContext
	hintCalled bool
	hintState  string
}

func (f *fakeTutor) Process(_ context.Context, cc firewall.ChatContext) firewall.ChatResponse {
	f.lastCtx = cc
	return f.response
}

func (f *fakeTutor) Stream(_ context.Context, cc firewall.ChatContext, onChunk func(string)) firewall.ChatResponse {
	f.lastCtx = cc
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.response
}

func (f *fakeTutor) Hint(_ context.Context, _, _, cognitiveState string) firewall.ChatResponse {
	f.hintCalled = true
	f.hintState = cognitiveState
	return f.response
}

type fakeGenerator struct {
	activity *activity.Activity
	err      error
}

func (f *fakeGenerator) Generate(context.Context, string) (*activity.Activity, error) {
	return f.activity, f.err
}

type fakeRecorder struct {
	events chan data.RunEvent
}

func (f *fakeRecorder) RecordRun(_ context.Context, e data.RunEvent) (string, error) {
	f.events <- e
	return "id", nil
}

func (f *fakeRecorder) Health() error { return nil }

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewCoordinator(zerolog.Nop())
	}
	return New(deps, 8000, "http://localhost:5173", zerolog.Nop())
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRootAndLiveness(t *testing.T) {
	srv := newTestServer(t, Deps{})

	rec := doJSON(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "rbAI Backend API", body["message"])
	assert.Equal(t, "1.0.0", body["version"])

	rec = doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "rbAI", body["service"])
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	srv := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	// Unknown origins get no CORS grant.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAnalyzeFlattensBehavioralStates(t *testing.T) {
	srv := newTestServer(t, Deps{})

	rec := doJSON(t, srv, http.MethodPost, "/api/telemetry/analyze", map[string]any{
		"session_id":                "s1",
		"problem_id":                "p1",
		"session_duration_minutes":  10.0,
		"total_keystrokes":          150,
		"total_run_attempts":        3,
		"total_idle_minutes":        1.0,
		"is_window_focused":         true,
		"is_semantic_change":        true,
		"last_run_interval_seconds": 45.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body, "ces")
	assert.Contains(t, body, "ces_classification")
	assert.Equal(t, "Incremental Edit", body["provenance_state"])
	assert.Equal(t, "Active", body["cognitive_state"])
}

func TestTelemetryHealth(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rec := doJSON(t, srv, http.MethodGet, "/api/telemetry/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestRunWithoutSandboxIsUnavailable(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rec := doJSON(t, srv, http.MethodPost, "/api/execution/run", map[string]any{"code": "print(1)"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Execution service error", decodeBody(t, rec)["detail"])
}

func TestRunExecutesAndFlagsRapidIteration(t *testing.T) {
	sb := &fakeSandbox{executeResult: sandbox.Result{
		Status:        sandbox.StatusSuccess,
		Output:        "4\n",
		ExecutionTime: 0.123,
	}}
	store := firewall.NewCodeStore()
	recorder := &fakeRecorder{events: make(chan data.RunEvent, 1)}
	srv := newTestServer(t, Deps{Sandbox: sb, CodeStore: store, Events: recorder})

	rec := doJSON(t, srv, http.MethodPost, "/api/execution/run", map[string]any{
		"code":       "print(2+2)",
		"stdin":      "",
		"session_id": "s1",
		"problem_id": "p1",
		"telemetry": map[string]any{
			"last_run_timestamp": time.Now().Add(-3 * time.Second).Format(time.RFC3339),
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "4\n", body["output"])

	flags, ok := body["behavioral_flags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, flags["last_run_was_error"])
	assert.Equal(t, true, flags["rapid_iteration"])

	// Code snapshot stored for the tutor.
	code, found := store.Get("s1", "p1")
	require.True(t, found)
	assert.Equal(t, "print(2+2)", code)

	// Event recorded in the background.
	select {
	case event := <-recorder.events:
		assert.Equal(t, "s1", event.SessionID)
		assert.Equal(t, "success", event.Status)
		assert.Equal(t, len("print(2+2)"), event.CodeSize)
	case <-time.After(2 * time.Second):
		t.Fatal("run event was not recorded")
	}
}

func TestRunWithoutTelemetryOmitsFlags(t *testing.T) {
	sb := &fakeSandbox{executeResult: sandbox.Result{Status: sandbox.StatusSuccess}}
	srv := newTestServer(t, Deps{Sandbox: sb})

	rec := doJSON(t, srv, http.MethodPost, "/api/execution/run", map[string]any{"code": "print(1)"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decodeBody(t, rec), "behavioral_flags")
}

func TestRunWithTestCasesUsesRunner(t *testing.T) {
	sb := &fakeSandbox{runTestsResult: sandbox.Result{
		Status: sandbox.StatusFailedTests,
		TestResults: []sandbox.TestResult{
			{TestNumber: 1, Passed: false, ExpectedOutput: "3", ActualOutput: "4"},
		},
	}}
	srv := newTestServer(t, Deps{Sandbox: sb})

	rec := doJSON(t, srv, http.MethodPost, "/api/execution/run", map[string]any{
		"code": "print(4)",
		"test_cases": []map[string]string{
			{"input": "", "expected_output": "3"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sb.testsRun)
	assert.Len(t, sb.lastCases, 1)

	body := decodeBody(t, rec)
	assert.Equal(t, "failed_tests", body["status"])
	results, ok := body["test_results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 1)
}

func TestRunRejectsEmptyCode(t *testing.T) {
	srv := newTestServer(t, Deps{Sandbox: &fakeSandbox{}})
	rec := doJSON(t, srv, http.MethodPost, "/api/execution/run", map[string]any{"code": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutionHealth(t *testing.T) {
	t.Run("no sandbox", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := doJSON(t, srv, http.MethodGet, "/api/execution/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("unhealthy", func(t *testing.T) {
		sb := &fakeSandbox{health: sandbox.Health{Status: "unhealthy", DockerAvailable: false}}
		srv := newTestServer(t, Deps{Sandbox: sb})
		rec := doJSON(t, srv, http.MethodGet, "/api/execution/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("healthy", func(t *testing.T) {
		sb := &fakeSandbox{health: sandbox.Health{
			Status:          "healthy",
			DockerAvailable: true,
			ImageAvailable:  true,
			ImageName:       "python:3.10-alpine",
		}}
		srv := newTestServer(t, Deps{Sandbox: sb})
		rec := doJSON(t, srv, http.MethodGet, "/api/execution/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "python:3.10-alpine", decodeBody(t, rec)["image_name"])
	})
}

func TestChatWithoutTutorIsUnavailable(t *testing.T) {
	srv := newTestServer(t, Deps{})
	for _, path := range []string{"/api/chat", "/api/chat/stream", "/api/chat/ask", "/api/chat/hint"} {
		rec := doJSON(t, srv, http.MethodPost, path, map[string]any{"message": "hi", "user_query": "hi"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestSimpleChat(t *testing.T) {
	tutor := &fakeTutor{response: firewall.ChatResponse{Message: "What do you think a loop does?", IsAllowed: true}}
	srv := newTestServer(t, Deps{Tutor: tutor})

	rec := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{
		"message":    "how do loops work?",
		"session_id": "s1",
		"problem_id": "p1",
		"chat_history": []map[string]string{
			{"role": "user", "content": "earlier question"},
			{"role": "assistant", "content": "earlier answer"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "What do you think a loop does?", decodeBody(t, rec)["response"])

	assert.Equal(t, "how do loops work?", tutor.lastCtx.UserQuery)
	assert.Equal(t, "General coding problem", tutor.lastCtx.ProblemDescription)
	assert.Equal(t, "s1", tutor.lastCtx.SessionID)
	assert.Len(t, tutor.lastCtx.ChatHistory, 2)
}

func TestStreamChatFraming(t *testing.T) {
	tutor := &fakeTutor{chunks: []string{"Think ", "about ", "the base case."}}
	srv := newTestServer(t, Deps{Tutor: tutor})

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/stream", map[string]any{"message": "help with recursion"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 4)
	for i, want := range []string{"Think ", "about ", "the base case."} {
		var payload map[string]string
		require.True(t, strings.HasPrefix(frames[i], "data: "))
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[i], "data: ")), &payload))
		assert.Equal(t, want, payload["content"])
	}
	assert.Equal(t, "data: [DONE]", frames[3])
}

func TestAskPassesBehavioralContext(t *testing.T) {
	tutor := &fakeTutor{response: firewall.ChatResponse{
		Message:               "Take a breath. What does the error say?",
		IsAllowed:             true,
		InterventionTriggered: true,
	}}
	srv := newTestServer(t, Deps{Tutor: tutor})

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ask", map[string]any{
		"user_query":          "why does this fail?",
		"problem_description": "Sum two numbers",
		"current_code":        "print(a+b)",
		"behavioral_context": map[string]string{
			"cognitive_state": "PASSIVE_IDLE",
			"iteration_state": "RAPID_GUESSING",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["is_allowed"])
	assert.Equal(t, true, body["intervention_triggered"])
	assert.NotEmpty(t, body["timestamp"])

	assert.Equal(t, "PASSIVE_IDLE", tutor.lastCtx.CognitiveState)
	assert.Equal(t, "RAPID_GUESSING", tutor.lastCtx.IterationState)
	assert.Equal(t, "print(a+b)", tutor.lastCtx.CurrentCode)
}

func TestHint(t *testing.T) {
	tutor := &fakeTutor{response: firewall.ChatResponse{
		Message:               "Where would you start?",
		IsAllowed:             true,
		InterventionTriggered: true,
	}}
	srv := newTestServer(t, Deps{Tutor: tutor})

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/hint", map[string]any{
		"problem_description": "Reverse a string",
		"cognitive_state":     "DISENGAGEMENT",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tutor.hintCalled)
	assert.Equal(t, "DISENGAGEMENT", tutor.hintState)
	assert.Equal(t, true, decodeBody(t, rec)["intervention_triggered"])
}

func TestChatHealth(t *testing.T) {
	t.Run("operational", func(t *testing.T) {
		srv := newTestServer(t, Deps{Tutor: &fakeTutor{}, LLMModel: "llama-3.3-70b-versatile"})
		rec := doJSON(t, srv, http.MethodGet, "/api/chat/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "operational", body["status"])
		assert.Equal(t, "llama-3.3-70b-versatile", body["model"])
	})

	t.Run("unavailable", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := doJSON(t, srv, http.MethodGet, "/api/chat/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unavailable", decodeBody(t, rec)["status"])
	})
}

func TestGenerateActivity(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		gen := &fakeGenerator{activity: &activity.Activity{
			Title:            "FizzBuzz",
			Description:      "Classic warmup",
			ProblemStatement: "Print numbers with substitutions",
			StarterCode:      "def fizzbuzz(n):\n    pass",
			TestCases: []activity.TestCase{
				{Name: "basic", ExpectedOutput: "1"},
				{Name: "fizz", ExpectedOutput: "Fizz"},
			},
		}}
		srv := newTestServer(t, Deps{Generator: gen})

		rec := doJSON(t, srv, http.MethodPost, "/api/ai/generate-activity", map[string]any{
			"prompt": "a fizzbuzz exercise for beginners",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "FizzBuzz", body["title"])
	})

	t.Run("generator error", func(t *testing.T) {
		srv := newTestServer(t, Deps{Generator: &fakeGenerator{err: errors.New("model returned garbage")}})
		rec := doJSON(t, srv, http.MethodPost, "/api/ai/generate-activity", map[string]any{"prompt": "x"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("no generator", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := doJSON(t, srv, http.MethodPost, "/api/ai/generate-activity", map[string]any{"prompt": "x"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
