package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NotNil(t, c)

	c.RecordGovernor("search", true)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordGovernor(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordGovernor("search", true)
	c.RecordGovernor("search", true)
	c.RecordGovernor("search", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.governorAttempts.WithLabelValues("search", "granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.governorAttempts.WithLabelValues("search", "denied")))
}

func TestRecordTaskLifecycle(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordTaskStart()
	c.RecordTaskStart()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksInFlight))

	c.RecordTaskEnd("timed_out", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksFinished.WithLabelValues("timed_out")))
}

func TestRecordModelCall(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordModelCall(nil, 100, 20)
	c.RecordModelCall(errors.New("boom"), 0, 0)

	assert.Equal(t, 100.0, testutil.ToFloat64(c.modelTokens.WithLabelValues("input")))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.modelTokens.WithLabelValues("output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.modelCalls.WithLabelValues("error")))
}

func TestRecordToolAndCompaction(t *testing.T) {
	c := NewCollector(nil)
	assert.NotPanics(t, func() {
		c.RecordToolCall("search", nil)
		c.RecordToolCall("visit", errors.New("x"))
		c.RecordCompaction("degraded")
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCalls.WithLabelValues("visit", "error")))
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
