package checker

import (
	"context"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

// Checker judges submitted code against a task. Implementations are opaque
// and swappable; the caller awaits a single verdict before transitioning the
// session. An error means the checker itself failed, which is distinct from
// a failing verdict.
type Checker interface {
	Evaluate(ctx context.Context, task domain.Task, sourceCode, language string) (domain.CheckResult, error)
}

// Func adapts a plain function to the Checker interface.
type Func func(ctx context.Context, task domain.Task, sourceCode, language string) (domain.CheckResult, error)

func (f Func) Evaluate(ctx context.Context, task domain.Task, sourceCode, language string) (domain.CheckResult, error) {
	return f(ctx, task, sourceCode, language)
}

// Dispatch routes submissions to a language-specific checker.
type Dispatch struct {
	checkers map[string]Checker
}

func NewDispatch(checkers map[string]Checker) *Dispatch {
	return &Dispatch{checkers: checkers}
}

func (d *Dispatch) Evaluate(ctx context.Context, task domain.Task, sourceCode, language string) (domain.CheckResult, error) {
	c, ok := d.checkers[language]
	if !ok {
		return domain.CheckResult{}, errors.New(errors.CodeCheckerFailure,
			errors.WithMessagef("no checker registered for language %q", language))
	}
	return c.Evaluate(ctx, task, sourceCode, language)
}
