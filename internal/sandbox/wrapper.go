package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// funcDefPattern matches the first top-level or nested function definition in
// learner code.
var funcDefPattern = regexp.MustCompile(`def\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)

// wrapCode embeds learner code in the capture harness. Stdin is injected by
// rewriting the source rather than attaching a stream to the container, which
// keeps the container fully detached. Stdout and stderr are buffered inside
// the process and replayed at the end so partial output from a crashed
// program is never mixed with the runtime error line.
func wrapCode(userCode, stdin string) string {
	indented := indentCode(userCode, 8)
	escaped := escapeForPythonString(stdin)

	return fmt.Sprintf(`import sys
import io
from contextlib import redirect_stdout, redirect_stderr

# Replace stdin with provided input
sys.stdin = io.StringIO('%s')

# Capture output
stdout_capture = io.StringIO()
stderr_capture = io.StringIO()

try:
    with redirect_stdout(stdout_capture), redirect_stderr(stderr_capture):
%s

    # Print captured output
    output = stdout_capture.getvalue()
    if output:
        print(output, end='')

    error = stderr_capture.getvalue()
    if error:
        print(error, file=sys.stderr, end='')

except Exception as e:
    print(f"Runtime Error: {type(e).__name__}: {e}", file=sys.stderr)
    sys.exit(1)
`, escaped, indented)
}

// escapeForPythonString makes raw stdin safe inside a single-quoted Python
// string literal. Order matters: backslashes first.
func escapeForPythonString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func indentCode(code string, spaces int) string {
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

// ExtractFunctionName returns the name of the first function the learner
// defined, or "" when the code defines none.
func ExtractFunctionName(code string) string {
	m := funcDefPattern.FindStringSubmatch(code)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseCallArgs splits a test case input like "5, 3" into argument literals.
// An empty input yields no arguments.
func ParseCallArgs(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	args := make([]string, len(parts))
	for i, p := range parts {
		args[i] = strings.TrimSpace(p)
	}
	return args
}

// buildCallHarness appends an entry point that calls the learner's function
// with the case arguments and prints the result, so function-style exercises
// can be checked by stdout equality like everything else.
func buildCallHarness(userCode, functionName string, args []string) string {
	return fmt.Sprintf(`# User's code
%s

# Automated test execution
if __name__ == '__main__':
    try:
        result = %s(%s)
        print(result)
    except Exception as e:
        print(f"Error: {e}", file=__import__('sys').stderr)
        raise
`, userCode, functionName, strings.Join(args, ", "))
}
