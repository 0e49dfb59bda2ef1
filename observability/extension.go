// Package observability provides a metrics extension for genquota that
// records engine event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/plugin"
	"github.com/xraph/genquota/quota"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnQuotaChecked       = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExhausted     = (*MetricsExtension)(nil)
	_ plugin.OnUsageIncremented   = (*MetricsExtension)(nil)
	_ plugin.OnCreateRace         = (*MetricsExtension)(nil)
	_ plugin.OnGenerationRecorded = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records engine-wide metrics.
// Register it as a genquota plugin to track quota and usage activity.
type MetricsExtension struct {
	factory MetricFactory

	// Quota metrics
	QuotaChecks    Counter
	QuotaExhausted Counter
	QuotaRemaining Histogram

	// Usage metrics
	UsageIncrements   Counter
	UsageGenerations  Counter
	UsageCreateRaces  Counter
	IncrementSize     Histogram
	GenerationsByType map[generation.Type]Counter

	// History metrics
	RecordsCreated Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory outside of forge.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,

		// Quota metrics
		QuotaChecks:    factory.Counter("genquota.quota.checks"),
		QuotaExhausted: factory.Counter("genquota.quota.exhausted"),
		QuotaRemaining: factory.Histogram("genquota.quota.remaining"),

		// Usage metrics
		UsageIncrements:   factory.Counter("genquota.usage.increments"),
		UsageGenerations:  factory.Counter("genquota.usage.generations"),
		UsageCreateRaces:  factory.Counter("genquota.usage.create_races"),
		IncrementSize:     factory.Histogram("genquota.usage.increment_size"),
		GenerationsByType: make(map[generation.Type]Counter, len(generation.All())),

		// History metrics
		RecordsCreated: factory.Counter("genquota.history.records"),
	}

	for _, typ := range generation.All() {
		m.GenerationsByType[typ] = factory.Counter("genquota.usage.generations." + typ.String())
	}

	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaChecked implements plugin.OnQuotaChecked.
func (m *MetricsExtension) OnQuotaChecked(_ context.Context, _ string, result *quota.Result) error {
	m.QuotaChecks.Inc()
	if result != nil {
		m.QuotaRemaining.Observe(float64(result.Remaining))
	}
	return nil
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (m *MetricsExtension) OnQuotaExhausted(_ context.Context, _ string, _, _ int64) error {
	m.QuotaExhausted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageIncremented implements plugin.OnUsageIncremented.
func (m *MetricsExtension) OnUsageIncremented(_ context.Context, _ string, typ generation.Type, count int64) error {
	m.UsageIncrements.Inc()
	m.UsageGenerations.Add(float64(count))
	m.IncrementSize.Observe(float64(count))
	if c, ok := m.GenerationsByType[typ]; ok {
		c.Add(float64(count))
	}
	return nil
}

// OnCreateRace implements plugin.OnCreateRace.
func (m *MetricsExtension) OnCreateRace(_ context.Context, _, _ string) error {
	m.UsageCreateRaces.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// History hooks
// ──────────────────────────────────────────────────

// OnGenerationRecorded implements plugin.OnGenerationRecorded.
func (m *MetricsExtension) OnGenerationRecorded(_ context.Context, _ *history.Record) error {
	m.RecordsCreated.Inc()
	return nil
}
