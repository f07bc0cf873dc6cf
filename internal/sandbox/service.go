package sandbox

import (
	"context"

	"github.com/rs/zerolog"
)

// Service bundles the executor and the test runner behind one handle for the
// HTTP layer.
type Service struct {
	exec   *Executor
	runner *Runner
}

func NewService(exec *Executor, log zerolog.Logger) *Service {
	return &Service{
		exec:   exec,
		runner: NewRunner(exec, log),
	}
}

func (s *Service) Execute(ctx context.Context, code, stdin string) Result {
	return s.exec.Execute(ctx, code, stdin)
}

func (s *Service) RunTests(ctx context.Context, code string, cases []TestCase) Result {
	return s.runner.RunTests(ctx, code, cases)
}

func (s *Service) CheckHealth(ctx context.Context) Health {
	return s.exec.CheckHealth(ctx)
}
