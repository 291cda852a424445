package checker

import (
	"context"
	"sync"

	"github.com/victornm/codeclash/internal/domain"
)

// Fake is a scripted checker for tests: verdicts are keyed by source code,
// unknown submissions fail with zero asserts passed.
type Fake struct {
	mu       sync.Mutex
	verdicts map[string]domain.CheckResult
	err      error
	calls    int
}

func NewFake() *Fake {
	return &Fake{verdicts: make(map[string]domain.CheckResult)}
}

// Accept registers sourceCode as a winning solution.
func (f *Fake) Accept(sourceCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.verdicts[sourceCode] = domain.CheckResult{
		Success:       true,
		AssertsPassed: 1,
		AssertsTotal:  1,
	}
}

// Fail makes every evaluation return err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *Fake) Evaluate(_ context.Context, _ domain.Task, sourceCode, _ string) (domain.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return domain.CheckResult{}, f.err
	}

	if r, ok := f.verdicts[sourceCode]; ok {
		return r, nil
	}
	return domain.CheckResult{
		Success:      false,
		AssertsTotal: 1,
		Details:      "expected output mismatch",
	}, nil
}
