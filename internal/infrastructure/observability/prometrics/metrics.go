// Package prometrics backs the checkout metric keys with Prometheus vectors.
package prometrics

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrLabelsChanged is returned when a key is registered twice with different label names.
var ErrLabelsChanged = errors.New("prometrics: metric registered with different labels")

// Definition describes one instrument.
type Definition struct {
	Key     observability.MetricKey
	Help    string
	Labels  []string
	Buckets []float64
}

// CheckoutCounters and CheckoutHistograms are every instrument the checkout service emits.
var (
	CheckoutCounters = []Definition{
		{Key: observability.MUsecaseRequests, Help: "Use case invocations by outcome.", Labels: []string{"use_case", "outcome"}},
		{Key: observability.MHTTPRequests, Help: "HTTP requests served.", Labels: []string{"method", "route", "status"}},
		{Key: observability.MExternalRequests, Help: "Calls to the payment provider and the event buses.", Labels: []string{"peer", "endpoint", "outcome"}},
		{Key: observability.MPaymentConfirmations, Help: "Payment confirmations by channel and outcome.", Labels: []string{"channel", "outcome"}},
		{Key: observability.MStockMovements, Help: "Stock ledger mutations by direction and outcome.", Labels: []string{"direction", "outcome"}},
		{Key: observability.MAuditWriteFailures, Help: "Audit entries that were not persisted.", Labels: []string{"action"}},
		{Key: observability.MWebhookRedrives, Help: "Webhook notifications rerun from the inbox.", Labels: []string{"outcome"}},
	}
	CheckoutHistograms = []Definition{
		{Key: observability.MUsecaseDuration, Help: "Use case latency in seconds.", Labels: []string{"use_case"}},
		{Key: observability.MHTTPRequestDuration, Help: "HTTP request latency in seconds.", Labels: []string{"method", "route", "status"}},
		{Key: observability.MExternalRequestDuration, Help: "External call latency in seconds.", Labels: []string{"peer", "endpoint"}},
	}
)

// Metrics implements observability.Metrics. Keys that were never registered
// resolve to no-op instruments.
type Metrics struct {
	namespace string
	reg       prometheus.Registerer

	mu         sync.RWMutex
	counters   map[observability.MetricKey]*prometheus.CounterVec
	histograms map[observability.MetricKey]*prometheus.HistogramVec
	labels     map[observability.MetricKey][]string

	// rejected counts samples whose labels did not match the registered names.
	rejected *prometheus.CounterVec
}

var _ observability.Metrics = (*Metrics)(nil)

// New returns an empty set registering on reg, or on the default registerer when reg is nil.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		namespace:  namespace,
		reg:        reg,
		counters:   make(map[observability.MetricKey]*prometheus.CounterVec),
		histograms: make(map[observability.MetricKey]*prometheus.HistogramVec),
		labels:     make(map[observability.MetricKey][]string),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_samples_rejected_total",
			Help:      "Samples dropped because their labels did not match the metric.",
		}, []string{"metric"}),
	}
	if err := reg.Register(m.rejected); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.rejected = existing
			}
		}
	}
	return m
}

// NewCheckout registers the checkout instruments on reg.
func NewCheckout(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := New(namespace, reg)
	for _, d := range CheckoutCounters {
		if err := m.RegisterCounter(d); err != nil {
			return nil, err
		}
	}
	for _, d := range CheckoutHistograms {
		if err := m.RegisterHistogram(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterCounter is idempotent for the same key and labels.
func (m *Metrics) RegisterCounter(d Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if done, err := m.known(d); done || err != nil {
		return err
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Name: string(d.Key), Help: d.Help,
	}, d.Labels)
	c, err := register(m.reg, v)
	if err != nil {
		return fmt.Errorf("prometrics: register %s: %w", d.Key, err)
	}
	m.counters[d.Key] = c
	m.labels[d.Key] = slices.Clone(d.Labels)
	return nil
}

// RegisterHistogram is idempotent for the same key and labels. Nil buckets use
// the Prometheus defaults.
func (m *Metrics) RegisterHistogram(d Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if done, err := m.known(d); done || err != nil {
		return err
	}
	buckets := d.Buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Name: string(d.Key), Help: d.Help, Buckets: buckets,
	}, d.Labels)
	h, err := register(m.reg, v)
	if err != nil {
		return fmt.Errorf("prometrics: register %s: %w", d.Key, err)
	}
	m.histograms[d.Key] = h
	m.labels[d.Key] = slices.Clone(d.Labels)
	return nil
}

func (m *Metrics) known(d Definition) (bool, error) {
	existing, ok := m.labels[d.Key]
	if !ok {
		return false, nil
	}
	if !slices.Equal(existing, d.Labels) {
		return true, fmt.Errorf("%w: %s has %v, got %v", ErrLabelsChanged, d.Key, existing, d.Labels)
	}
	return true, nil
}

// register adopts a collector another Metrics already put on reg.
func register[V prometheus.Collector](reg prometheus.Registerer, v V) (V, error) {
	err := reg.Register(v)
	if err == nil {
		return v, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(V); ok {
			return existing, nil
		}
	}
	return v, err
}

func (m *Metrics) Counter(key observability.MetricKey) observability.Counter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.counters[key]
	if !ok {
		return observability.NopCounter()
	}
	return &counter{key: key, v: v, rejected: m.rejected}
}

func (m *Metrics) Histogram(key observability.MetricKey) observability.Histogram {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.histograms[key]
	if !ok {
		return observability.NopHistogram()
	}
	return &histogram{key: key, v: v, rejected: m.rejected}
}

type counter struct {
	key      observability.MetricKey
	v        *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func (c *counter) Add(d float64, labels ...observability.Label) {
	if got, err := c.v.GetMetricWith(toLabels(labels)); err == nil {
		got.Add(d)
		return
	}
	c.rejected.WithLabelValues(string(c.key)).Inc()
}

// Bind resolves the series once; a label mismatch yields a counter that only
// records the rejection.
func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	got, err := c.v.GetMetricWith(toLabels(labels))
	if err != nil {
		return rejectedSeries{c.rejected.WithLabelValues(string(c.key))}
	}
	return boundCounter{got}
}

type boundCounter struct{ c prometheus.Counter }

func (b boundCounter) Add(d float64) { b.c.Add(d) }

type histogram struct {
	key      observability.MetricKey
	v        *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	if got, err := h.v.GetMetricWith(toLabels(labels)); err == nil {
		got.Observe(v)
		return
	}
	h.rejected.WithLabelValues(string(h.key)).Inc()
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	got, err := h.v.GetMetricWith(toLabels(labels))
	if err != nil {
		return rejectedSeries{h.rejected.WithLabelValues(string(h.key))}
	}
	return boundHistogram{got}
}

type boundHistogram struct{ o prometheus.Observer }

func (b boundHistogram) Observe(v float64) { b.o.Observe(v) }

type rejectedSeries struct{ c prometheus.Counter }

func (r rejectedSeries) Add(float64)     { r.c.Inc() }
func (r rejectedSeries) Observe(float64) { r.c.Inc() }

func toLabels(ls []observability.Label) prometheus.Labels {
	out := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		out[l.Key] = l.Value
	}
	return out
}
