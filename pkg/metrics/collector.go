// Package metrics provides metrics collection for the grabber pipeline.
package metrics

import (
	"time"
)

// Collector is the interface pipeline components report metrics through.
type Collector interface {
	// IncrementCounter increments a counter metric. Labels are given as
	// alternating name/value pairs.
	IncrementCounter(name string, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a duration measurement recorded as a histogram.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector discards all metrics. It is the default when no collector
// is wired in.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that measures but records nowhere.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
