// Package metrics exposes Prometheus collectors for budgets, workers and the
// batch scheduler.
//
// Counters:
//   - tablesearch_governor_attempts_total{governor,outcome}
//   - tablesearch_tasks_finished_total{status}
//   - tablesearch_compactions_total{outcome}
//   - tablesearch_model_calls_total{outcome}
//   - tablesearch_model_tokens_total{direction}
//   - tablesearch_tool_calls_total{tool,outcome}
//
// Gauges and histograms:
//   - tablesearch_tasks_in_flight
//   - tablesearch_task_duration_seconds
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every tablesearch metric.
type Collector struct {
	governorAttempts *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	compactions      *prometheus.CounterVec
	modelCalls       *prometheus.CounterVec
	modelTokens      *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec

	tasksInFlight prometheus.Gauge
	taskDuration  prometheus.Histogram
}

// NewCollector creates a collector and registers it with reg.
// A nil reg leaves the collector unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		governorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesearch_governor_attempts_total",
			Help: "Budget acquisition attempts by governor and outcome",
		}, []string{"governor", "outcome"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesearch_tasks_finished_total",
			Help: "Batch tasks reaching a terminal state",
		}, []string{"status"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesearch_compactions_total",
			Help: "Context compactions by outcome",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesearch_model_calls_total",
			Help: "Model generate calls by outcome",
		}, []string{"outcome"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesearch_model_tokens_total",
			Help: "Tokens reported by the model",
		}, []string{"direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesearch_tool_calls_total",
			Help: "Tool dispatches by tool and outcome",
		}, []string{"tool", "outcome"}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablesearch_tasks_in_flight",
			Help: "Batch tasks currently running in a child process",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tablesearch_task_duration_seconds",
			Help:    "Wall clock duration of batch tasks",
			Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.governorAttempts, c.tasksFinished, c.compactions, c.modelCalls,
			c.modelTokens, c.toolCalls, c.tasksInFlight, c.taskDuration,
		)
	}
	return c
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the process-wide collector registered with the default registerer.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = NewCollector(prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

func outcome(ok bool) string {
	if ok {
		return "granted"
	}
	return "denied"
}

// RecordGovernor records one budget acquisition attempt.
func (c *Collector) RecordGovernor(name string, granted bool) {
	c.governorAttempts.WithLabelValues(name, outcome(granted)).Inc()
}

// RecordTaskStart marks a task as in flight.
func (c *Collector) RecordTaskStart() {
	c.tasksInFlight.Inc()
}

// RecordTaskEnd records a terminal task state.
func (c *Collector) RecordTaskEnd(status string, d time.Duration) {
	c.tasksInFlight.Dec()
	c.tasksFinished.WithLabelValues(status).Inc()
	c.taskDuration.Observe(d.Seconds())
}

// RecordCompaction records a compaction outcome ("ok" or "degraded").
func (c *Collector) RecordCompaction(result string) {
	c.compactions.WithLabelValues(result).Inc()
}

// RecordModelCall records a generate call and its token usage.
func (c *Collector) RecordModelCall(err error, inputTokens, outputTokens int) {
	if err != nil {
		c.modelCalls.WithLabelValues("error").Inc()
		return
	}
	c.modelCalls.WithLabelValues("ok").Inc()
	c.modelTokens.WithLabelValues("input").Add(float64(inputTokens))
	c.modelTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordToolCall records a tool dispatch.
func (c *Collector) RecordToolCall(tool string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.toolCalls.WithLabelValues(tool, result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
