package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor returns scripted results keyed by stdin, or evaluates a
// response function for harness-style runs.
type fakeExecutor struct {
	byStdin map[string]Result
	byCode  func(code string) Result
	calls   []string
}

func (f *fakeExecutor) Execute(_ context.Context, code, stdin string) Result {
	f.calls = append(f.calls, stdin)
	if f.byCode != nil {
		return f.byCode(code)
	}
	if r, ok := f.byStdin[stdin]; ok {
		return r
	}
	return Result{Status: StatusError, Error: "unexpected stdin"}
}

func TestRunTestsAllPass(t *testing.T) {
	exec := &fakeExecutor{byStdin: map[string]Result{
		"1": {Status: StatusSuccess, Output: "2\n", ExecutionTime: 0.1},
		"3": {Status: StatusSuccess, Output: "4\n", ExecutionTime: 0.2, Error: "leftover"},
	}}
	runner := NewRunner(exec, zerolog.Nop())

	result := runner.RunTests(context.Background(), "print(int(input())+1)", []TestCase{
		{Input: "1", ExpectedOutput: "2"},
		{Input: "3", ExpectedOutput: "4"},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, result.Error)
	assert.Equal(t, 0.2, result.ExecutionTime)
	require.Len(t, result.TestResults, 2)
	assert.True(t, result.TestResults[0].Passed)
	assert.True(t, result.TestResults[1].Passed)
	assert.Equal(t, 1, result.TestResults[0].TestNumber)
}

func TestRunTestsOneFailure(t *testing.T) {
	exec := &fakeExecutor{byStdin: map[string]Result{
		"1": {Status: StatusSuccess, Output: "2\n"},
		"3": {Status: StatusSuccess, Output: "99\n"},
	}}
	runner := NewRunner(exec, zerolog.Nop())

	result := runner.RunTests(context.Background(), "print(int(input())+1)", []TestCase{
		{Input: "1", ExpectedOutput: "2"},
		{Input: "3", ExpectedOutput: "4"},
	})

	assert.Equal(t, StatusFailedTests, result.Status)
	require.Len(t, result.TestResults, 2)
	assert.True(t, result.TestResults[0].Passed)
	assert.False(t, result.TestResults[1].Passed)
	assert.Equal(t, "99", result.TestResults[1].ActualOutput)
	assert.Equal(t, "4", result.TestResults[1].ExpectedOutput)
}

func TestRunTestsErrorStatusFailsCase(t *testing.T) {
	exec := &fakeExecutor{byStdin: map[string]Result{
		// Output matches but the run errored, so the case must fail.
		"1": {Status: StatusError, Output: "2\n", Error: "Runtime Error: ValueError: bad"},
	}}
	runner := NewRunner(exec, zerolog.Nop())

	result := runner.RunTests(context.Background(), "print(2)", []TestCase{
		{Input: "1", ExpectedOutput: "2"},
	})

	assert.Equal(t, StatusFailedTests, result.Status)
	require.Len(t, result.TestResults, 1)
	assert.False(t, result.TestResults[0].Passed)
	assert.Equal(t, "Runtime Error: ValueError: bad", result.TestResults[0].Error)
}

func TestRunTestsFunctionHarness(t *testing.T) {
	exec := &fakeExecutor{byCode: func(code string) Result {
		switch {
		case strings.Contains(code, "result = add(1, 2)"):
			return Result{Status: StatusSuccess, Output: "3\n"}
		case strings.Contains(code, "result = add(5, 5)"):
			return Result{Status: StatusSuccess, Output: "10\n"}
		}
		return Result{Status: StatusError, Error: "unexpected harness"}
	}}
	runner := NewRunner(exec, zerolog.Nop())

	result := runner.RunTests(context.Background(), "def add(a, b):\n    return a + b", []TestCase{
		{Input: "1,2", ExpectedOutput: "3"},
		{Input: "5,5", ExpectedOutput: "10"},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.TestResults, 2)
	assert.True(t, result.TestResults[0].Passed)
	assert.True(t, result.TestResults[1].Passed)
	// Harness runs use no stdin.
	assert.Equal(t, []string{"", ""}, exec.calls)
}

func TestRunTestsEmptyCaseListRunsOnce(t *testing.T) {
	exec := &fakeExecutor{byStdin: map[string]Result{
		"": {Status: StatusSuccess, Output: "hi\n"},
	}}
	runner := NewRunner(exec, zerolog.Nop())

	result := runner.RunTests(context.Background(), "print('hi')", nil)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "hi\n", result.Output)
	assert.NotNil(t, result.TestResults)
	assert.Empty(t, result.TestResults)
}
