package perception

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"tablesearch/internal/logging"
	"tablesearch/internal/metrics"
	"tablesearch/internal/types"
)

// RetryPolicy controls transient-error retries.
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
}

// DefaultRetryPolicy returns 10 attempts with a uniform 10-20s wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, MinWait: 10 * time.Second, MaxWait: 20 * time.Second}
}

func (p RetryPolicy) wait() time.Duration {
	if p.MaxWait <= p.MinWait {
		return p.MinWait
	}
	return p.MinWait + time.Duration(rand.Int64N(int64(p.MaxWait-p.MinWait)+1))
}

// RetryingModel wraps a model with the retry policy and call metrics.
type RetryingModel struct {
	inner   types.Model
	policy  RetryPolicy
	metrics *metrics.Collector
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryingModel wraps inner.
func NewRetryingModel(inner types.Model, policy RetryPolicy) *RetryingModel {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &RetryingModel{
		inner:   inner,
		policy:  policy,
		metrics: metrics.Default(),
		sleep:   sleepCtx,
	}
}

// ModelID returns the wrapped model's ID.
func (m *RetryingModel) ModelID() string { return m.inner.ModelID() }

// Unwrap returns the wrapped model.
func (m *RetryingModel) Unwrap() types.Model { return m.inner }

// Generate calls the wrapped model, retrying transient failures.
func (m *RetryingModel) Generate(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		resp, err := m.inner.Generate(ctx, msgs, tools)
		if err == nil {
			in, out := 0, 0
			if resp.Usage != nil {
				in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
			}
			m.metrics.RecordModelCall(nil, in, out)
			return resp, nil
		}
		m.metrics.RecordModelCall(err, 0, 0)
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}
		if attempt == m.policy.MaxAttempts {
			break
		}

		wait := m.policy.wait()
		logging.APIWarn("model %s attempt %d/%d failed: %v (retrying in %v)", m.inner.ModelID(), attempt, m.policy.MaxAttempts, err, wait)
		if err := m.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
