package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

const defaultEvaluateTimeout = 60 * time.Second

// Remote judges submissions through an external checker service over HTTP.
// The service compiles and runs the code in its own sandbox; from here it is
// a single synchronous call.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string) *Remote {
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: defaultEvaluateTimeout},
	}
}

func (r *Remote) Evaluate(ctx context.Context, task domain.Task, sourceCode, language string) (domain.CheckResult, error) {
	body, err := json.Marshal(map[string]string{
		"task_id":  task.ID,
		"code":     sourceCode,
		"language": language,
	})
	if err != nil {
		return domain.CheckResult{}, errors.New(errors.CodeCheckerFailure,
			errors.WithCause(fmt.Errorf("marshal request: %w", err)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return domain.CheckResult{}, errors.New(errors.CodeCheckerFailure, errors.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.CheckResult{}, errors.New(errors.CodeCheckerFailure, errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.CheckResult{}, errors.New(errors.CodeCheckerFailure,
			errors.WithMessagef("checker returned status %d", resp.StatusCode))
	}

	var out struct {
		Success       bool   `json:"success"`
		AssertsPassed int    `json:"asserts_passed"`
		AssertsTotal  int    `json:"asserts_total"`
		Details       string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.CheckResult{}, errors.New(errors.CodeCheckerFailure,
			errors.WithCause(fmt.Errorf("decode verdict: %w", err)))
	}

	return domain.CheckResult{
		Success:       out.Success,
		AssertsPassed: out.AssertsPassed,
		AssertsTotal:  out.AssertsTotal,
		Details:       out.Details,
	}, nil
}
