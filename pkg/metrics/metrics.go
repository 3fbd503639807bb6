// Package metrics defines the small counter/gauge abstraction the protocol
// core reports through, backed by github.com/prometheus/client_golang.
// Components depend on the Counter/Gauge interfaces, not on Prometheus
// directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counter is a monotonically increasing value, optionally labeled.
type Counter interface {
	// With returns the counter narrowed to the given label values, in the
	// order the underlying vector's labels were declared.
	With(labelValues ...string) Counter
	Add(delta float64)
}

// Gauge is a value that can move up and down, optionally labeled.
type Gauge interface {
	With(labelValues ...string) Gauge
	Set(value float64)
}

// NewCounter creates a Prometheus counter vector, registers it with reg
// when reg is non-nil, and returns it through the Counter interface.
func NewCounter(reg prometheus.Registerer, namespace, subsystem, name, help string, labels ...string) Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	if reg != nil {
		reg.MustRegister(vec)
	}
	return &counterVec{vec: vec}
}

// NewGauge creates a Prometheus gauge vector and registers it with reg when
// reg is non-nil.
func NewGauge(reg prometheus.Registerer, namespace, subsystem, name, help string, labels ...string) Gauge {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	if reg != nil {
		reg.MustRegister(vec)
	}
	return &gaugeVec{vec: vec}
}

type counterVec struct {
	vec *prometheus.CounterVec
}

func (c *counterVec) With(labelValues ...string) Counter {
	return counterLeaf{c.vec.WithLabelValues(labelValues...)}
}

func (c *counterVec) Add(delta float64) {
	c.vec.WithLabelValues().Add(delta)
}

type counterLeaf struct {
	prometheus.Counter
}

func (c counterLeaf) With(labelValues ...string) Counter {
	// Already narrowed; re-narrowing with more labels is a caller error,
	// treated as a no-op to keep the interface total.
	return c
}

func (c counterLeaf) Add(delta float64) {
	c.Counter.Add(delta)
}

type gaugeVec struct {
	vec *prometheus.GaugeVec
}

func (g *gaugeVec) With(labelValues ...string) Gauge {
	return gaugeLeaf{g.vec.WithLabelValues(labelValues...)}
}

func (g *gaugeVec) Set(value float64) {
	g.vec.WithLabelValues().Set(value)
}

type gaugeLeaf struct {
	prometheus.Gauge
}

func (g gaugeLeaf) With(labelValues ...string) Gauge {
	return g
}

func (g gaugeLeaf) Set(value float64) {
	g.Gauge.Set(value)
}

// DiscardCounter and DiscardGauge return implementations that record nothing, for
// components that accept optional metrics and default to no-op.
func DiscardCounter() Counter { return discardCounter{} }
func DiscardGauge() Gauge     { return discardGauge{} }

type discardCounter struct{}

func (discardCounter) With(...string) Counter { return discardCounter{} }
func (discardCounter) Add(float64)            {}

type discardGauge struct{}

func (discardGauge) With(...string) Gauge { return discardGauge{} }
func (discardGauge) Set(float64)          {}
