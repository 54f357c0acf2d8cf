package perception

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesearch/internal/types"
)

type scriptedModel struct {
	errs  []error
	calls int
}

func (m *scriptedModel) ModelID() string { return "scripted" }

func (m *scriptedModel) Generate(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error) {
	m.calls++
	if m.calls <= len(m.errs) {
		return nil, m.errs[m.calls-1]
	}
	return &types.Response{Content: "ok", Usage: &types.Usage{InputTokens: 3, OutputTokens: 1}}, nil
}

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRetryingModelRecovers(t *testing.T) {
	inner := &scriptedModel{errs: []error{
		&APIError{Kind: KindRateLimit, Err: errors.New("slow down")},
		&APIError{Kind: KindConnection, Err: errors.New("reset")},
	}}
	m := NewRetryingModel(inner, RetryPolicy{MaxAttempts: 10, MinWait: 10 * time.Second, MaxWait: 20 * time.Second})
	var waits []time.Duration
	m.sleep = noSleep(&waits)

	resp, err := m.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.calls)
	require.Len(t, waits, 2)
	for _, w := range waits {
		assert.GreaterOrEqual(t, w, 10*time.Second)
		assert.LessOrEqual(t, w, 20*time.Second)
	}
}

func TestRetryingModelGivesUp(t *testing.T) {
	fail := &APIError{Kind: KindServer, Err: errors.New("boom")}
	inner := &scriptedModel{errs: []error{fail, fail, fail, fail}}
	m := NewRetryingModel(inner, RetryPolicy{MaxAttempts: 3})
	var waits []time.Duration
	m.sleep = noSleep(&waits)

	_, err := m.Generate(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, 3, inner.calls)
	assert.Len(t, waits, 2)
}

func TestRetryingModelNoRetryOnBadRequest(t *testing.T) {
	inner := &scriptedModel{errs: []error{&APIError{Kind: KindBadRequest, Err: errors.New("bad")}}}
	m := NewRetryingModel(inner, DefaultRetryPolicy())
	var waits []time.Duration
	m.sleep = noSleep(&waits)

	_, err := m.Generate(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, waits)
}

func TestRetryingModelRetriesMalformedField(t *testing.T) {
	blank := newStatusError(400, `{"error":{"message":"messages.3: text content blocks must be non-empty"}}`)
	assert.Equal(t, KindMalformedField, blank.Kind)
	assert.True(t, IsRetryable(blank))
	assert.False(t, IsRetryable(newStatusError(400, `{"error":{"message":"unknown parameter: foo"}}`)))

	inner := &scriptedModel{errs: []error{blank}}
	m := NewRetryingModel(inner, RetryPolicy{MaxAttempts: 10, MinWait: 10 * time.Second, MaxWait: 20 * time.Second})
	var waits []time.Duration
	m.sleep = noSleep(&waits)

	resp, err := m.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, inner.calls)
	require.Len(t, waits, 1)
	assert.GreaterOrEqual(t, waits[0], 10*time.Second)
}

func TestCleanBlank(t *testing.T) {
	assert.Equal(t, " ", cleanBlank(""))
	assert.Equal(t, " ", cleanBlank(" \n\t"))
	assert.Equal(t, "x", cleanBlank("x"))
}

func TestRetryingModelStopsOnCancel(t *testing.T) {
	inner := &scriptedModel{errs: []error{errors.New("transient")}}
	m := NewRetryingModel(inner, RetryPolicy{MaxAttempts: 5, MinWait: time.Hour, MaxWait: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Generate(ctx, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
