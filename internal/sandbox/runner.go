package sandbox

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// TestCase is one stdout-equality check against learner code.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Description    string `json:"description,omitempty"`
}

// TestResult records one case's verdict.
type TestResult struct {
	TestNumber     int    `json:"test_number"`
	Passed         bool   `json:"passed"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
	Error          string `json:"error,omitempty"`
}

// codeExecutor is the slice of Executor the runner needs; tests substitute a
// fake.
type codeExecutor interface {
	Execute(ctx context.Context, code, stdin string) Result
}

// Runner drives the executor over a test-case list and tallies verdicts.
type Runner struct {
	exec codeExecutor
	log  zerolog.Logger
}

func NewRunner(exec codeExecutor, log zerolog.Logger) *Runner {
	return &Runner{exec: exec, log: log}
}

// RunTests executes the code once per case and compares trimmed stdout with
// the trimmed expectation. Function-style exercises (code that defines a
// function) get a generated entry point calling the function with the case
// input as arguments; otherwise the case input is fed as stdin. The returned
// result carries the last execution's timing with the aggregate verdict.
func (r *Runner) RunTests(ctx context.Context, code string, cases []TestCase) Result {
	if len(cases) == 0 {
		result := r.exec.Execute(ctx, code, "")
		result.TestResults = []TestResult{}
		return result
	}

	functionName := ExtractFunctionName(code)

	results := make([]TestResult, 0, len(cases))
	allPassed := true
	var last Result

	for i, tc := range cases {
		if functionName != "" {
			harness := buildCallHarness(code, functionName, ParseCallArgs(tc.Input))
			last = r.exec.Execute(ctx, harness, "")
		} else {
			last = r.exec.Execute(ctx, code, tc.Input)
		}

		expected := strings.TrimSpace(tc.ExpectedOutput)
		actual := strings.TrimSpace(last.Output)
		passed := actual == expected && last.Status == StatusSuccess

		results = append(results, TestResult{
			TestNumber:     i + 1,
			Passed:         passed,
			Input:          tc.Input,
			ExpectedOutput: expected,
			ActualOutput:   actual,
			Error:          last.Error,
		})
		if !passed {
			allPassed = false
		}
	}

	last.TestResults = results
	if allPassed {
		last.Status = StatusSuccess
		last.Error = ""
	} else {
		last.Status = StatusFailedTests
	}
	r.log.Info().Int("cases", len(cases)).Bool("all_passed", allPassed).Msg("test run finished")
	return last
}
