package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// instrumentationName is the meter name used when no meter is supplied.
const instrumentationName = "github.com/xraph/genquota"

// OTelFactory is a MetricFactory backed by an OpenTelemetry meter. Metric
// names are used as given, dots included.
type OTelFactory struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]Counter
	histograms map[string]Histogram
}

var _ MetricFactory = (*OTelFactory)(nil)

// NewOTelFactory returns a factory creating instruments on meter. A nil
// meter uses the global meter provider.
func NewOTelFactory(meter metric.Meter) *OTelFactory {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	return &OTelFactory{
		meter:      meter,
		counters:   make(map[string]Counter),
		histograms: make(map[string]Histogram),
	}
}

// Counter implements MetricFactory. An instrument the meter rejects is
// replaced by a no-op counter.
func (f *OTelFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}

	inst, err := f.meter.Float64Counter(name, metric.WithDescription("genquota "+name))
	if err != nil {
		inst, _ = noop.NewMeterProvider().Meter(instrumentationName).Float64Counter(name) //nolint:errcheck // noop never fails
	}
	c := &otelCounter{inst: inst}
	f.counters[name] = c
	return c
}

// Histogram implements MetricFactory.
func (f *OTelFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}

	inst, err := f.meter.Float64Histogram(name, metric.WithDescription("genquota "+name))
	if err != nil {
		inst, _ = noop.NewMeterProvider().Meter(instrumentationName).Float64Histogram(name) //nolint:errcheck // noop never fails
	}
	h := &otelHistogram{inst: inst}
	f.histograms[name] = h
	return h
}

type otelCounter struct {
	inst metric.Float64Counter
}

func (c *otelCounter) Inc()          { c.inst.Add(context.Background(), 1) }
func (c *otelCounter) Add(v float64) { c.inst.Add(context.Background(), v) }

type otelHistogram struct {
	inst metric.Float64Histogram
}

func (h *otelHistogram) Observe(v float64) { h.inst.Record(context.Background(), v) }
