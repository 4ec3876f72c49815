// Package metrics counts operations, remote commands and stage timings on a
// private Prometheus registry. The CLI writes the registry to a
// node-exporter textfile after each run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/txn"
)

const namespace = "releasectl"

var stageBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Collector holds the releasectl metric vectors. It implements
// remote.Recorder and txn.StageHandler.
type Collector struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	commands      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	compensations *prometheus.CounterVec
}

// New creates a collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed operations by status code",
		}, []string{"operation", "status"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_total",
			Help:      "Remote command invocations by shape and outcome",
		}, []string{"shape", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of deployment stages",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating actions run after a failed stage",
		}, []string{"stage", "result"}),
	}
	c.registry.MustRegister(c.operations, c.commands, c.stageDuration, c.compensations)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveOperation counts a finished operation under the status code of err.
func (c *Collector) ObserveOperation(operation string, err error) {
	c.operations.With(prometheus.Labels{
		"operation": operation,
		"status":    errors.CodeOf(err),
	}).Inc()
}

// ObserveCommand counts one remote invocation.
func (c *Collector) ObserveCommand(shape, outcome string, _ time.Duration) {
	c.commands.With(prometheus.Labels{"shape": shape, "outcome": outcome}).Inc()
}

func (c *Collector) OnStageStart(int, int, string) {}

func (c *Collector) OnStageComplete(_, _ int, result *txn.StageResult) {
	if result.Status == txn.StatusNotRun {
		return
	}
	c.stageDuration.With(prometheus.Labels{"stage": result.Name}).Observe(result.Duration.Seconds())
}

func (c *Collector) OnCompensate(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.compensations.With(prometheus.Labels{"stage": stage, "result": result}).Inc()
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically so a scraping node exporter never sees half of it.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't write metrics to "+path,
			"Check metrics.textfile and the permissions of its directory.")
	}
	return nil
}
