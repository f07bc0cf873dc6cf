// Package activity generates structured coding exercises through LLM tool
// calling.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rbailabs/rbai/internal/llm"
)

// educatorSystemPrompt instructs the model to produce complete, pedagogically
// sound exercises.
const educatorSystemPrompt = `You are an expert computer science educator specializing in creating programming exercises.
Your task is to generate high-quality coding activities for students learning Python.

When creating activities:
- Make problem statements clear and educational
- Include realistic examples with input/output
- Write starter code that guides without solving
- Create comprehensive test cases (visible and hidden)
- Provide progressive hints that don't give away the solution
- Use proper Markdown formatting for problem statements
- Ensure test cases actually validate the solution

Generate activities appropriate for the requested difficulty level and topic.`

// TestCase is one generated check; hidden cases are withheld from students.
type TestCase struct {
	Name           string `json:"name"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	IsHidden       bool   `json:"isHidden"`
}

// Activity is the structured exercise the model must produce.
type Activity struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	ProblemStatement string     `json:"problemStatement"`
	StarterCode      string     `json:"starterCode"`
	TestCases        []TestCase `json:"testCases"`
	Hints            []string   `json:"hints,omitempty"`
}

// generationTool is the function schema forced on the model.
var generationTool = llm.Tool{
	Type: "function",
	Function: llm.ToolFunction{
		Name:        "generate_coding_activity",
		Description: "Generate a structured coding activity with problem statement, starter code, test cases, and hints",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Concise activity title (e.g., 'Binary Search Algorithm')",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Brief one-sentence description of what students will learn",
				},
				"problemStatement": map[string]any{
					"type":        "string",
					"description": "Detailed problem statement in Markdown format. Include: problem description, examples with input/output, and requirements. Use proper markdown formatting with headers, code blocks, etc.",
				},
				"starterCode": map[string]any{
					"type":        "string",
					"description": "Python starter code with function signature and basic structure. Should guide students but not solve the problem.",
				},
				"testCases": map[string]any{
					"type":        "array",
					"description": "Array of test cases to validate the solution",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name": map[string]any{
								"type":        "string",
								"description": "Descriptive name for the test case",
							},
							"input": map[string]any{
								"type":        "string",
								"description": "Input parameters as a string (e.g., '5, 3' or '[1,2,3]')",
							},
							"expectedOutput": map[string]any{
								"type":        "string",
								"description": "Expected output as a string",
							},
							"isHidden": map[string]any{
								"type":        "boolean",
								"description": "Whether this test case should be hidden from students",
								"default":     false,
							},
						},
						"required": []string{"name", "input", "expectedOutput"},
					},
					"minItems": 2,
				},
				"hints": map[string]any{
					"type":        "array",
					"description": "Optional array of progressive hints to help students",
					"items":       map[string]any{"type": "string"},
				},
			},
			"required": []string{"title", "description", "problemStatement", "starterCode", "testCases"},
		},
	},
}

// toolCaller is the tool-calling slice of the LLM client.
type toolCaller interface {
	CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []llm.Tool) (llm.FunctionCall, error)
}

// Generator turns free-form educator prompts into validated activities.
type Generator struct {
	lm  toolCaller
	log zerolog.Logger
}

func NewGenerator(lm toolCaller, log zerolog.Logger) *Generator {
	return &Generator{lm: lm, log: log}
}

// Generate asks the model for an activity matching the prompt and validates
// the decoded result before returning it.
func (g *Generator) Generate(ctx context.Context, prompt string) (*Activity, error) {
	call, err := g.lm.CompleteWithTools(ctx, educatorSystemPrompt, prompt, []llm.Tool{generationTool})
	if err != nil {
		return nil, fmt.Errorf("activity generation failed: %w", err)
	}

	var activity Activity
	if err := json.Unmarshal([]byte(call.Arguments), &activity); err != nil {
		return nil, fmt.Errorf("failed to parse generated activity: %w", err)
	}
	if err := activity.validate(); err != nil {
		return nil, fmt.Errorf("generated activity invalid: %w", err)
	}

	g.log.Info().Str("title", activity.Title).Int("test_cases", len(activity.TestCases)).Msg("activity generated")
	return &activity, nil
}

func (a *Activity) validate() error {
	switch {
	case a.Title == "":
		return fmt.Errorf("missing title")
	case a.Description == "":
		return fmt.Errorf("missing description")
	case a.ProblemStatement == "":
		return fmt.Errorf("missing problem statement")
	case a.StarterCode == "":
		return fmt.Errorf("missing starter code")
	case len(a.TestCases) < 2:
		return fmt.Errorf("need at least 2 test cases, got %d", len(a.TestCases))
	}
	for i, tc := range a.TestCases {
		if tc.Name == "" || tc.ExpectedOutput == "" {
			return fmt.Errorf("test case %d incomplete", i+1)
		}
	}
	return nil
}
