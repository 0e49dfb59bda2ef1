// Package audithook bridges genquota engine events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/genquota/clock"
	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/plugin"
	"github.com/xraph/genquota/quota"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnQuotaChecked       = (*Extension)(nil)
	_ plugin.OnQuotaExhausted     = (*Extension)(nil)
	_ plugin.OnUsageIncremented   = (*Extension)(nil)
	_ plugin.OnCreateRace         = (*Extension)(nil)
	_ plugin.OnGenerationRecorded = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	ID         id.AuditEventID `json:"id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	Category   string          `json:"category"`
	ResourceID string          `json:"resource_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Outcome    string          `json:"outcome"`
	Severity   string          `json:"severity"`
	Reason     string          `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges engine events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	clock    clock.Clock
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		clock:    clock.System{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaChecked implements plugin.OnQuotaChecked.
func (e *Extension) OnQuotaChecked(ctx context.Context, userID string, result *quota.Result) error {
	if result == nil {
		return nil
	}
	outcome := OutcomeSuccess
	if !result.Allowed {
		outcome = OutcomeFailure
	}
	return e.record(ctx, &AuditEvent{
		Action:     ActionQuotaChecked,
		Resource:   ResourceQuota,
		Category:   CategoryAccess,
		ResourceID: result.PeriodID,
		UserID:     userID,
		Outcome:    outcome,
		Severity:   SeverityInfo,
	},
		"used", result.Used,
		"limit", result.Limit,
		"remaining", result.Remaining,
	)
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (e *Extension) OnQuotaExhausted(ctx context.Context, userID string, used, limit int64) error {
	return e.record(ctx, &AuditEvent{
		Action:   ActionQuotaExhausted,
		Resource: ResourceQuota,
		Category: CategoryAccess,
		UserID:   userID,
		Outcome:  OutcomeFailure,
		Severity: SeverityWarning,
		Reason:   fmt.Sprintf("used %d of %d", used, limit),
	},
		"used", used,
		"limit", limit,
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageIncremented implements plugin.OnUsageIncremented.
func (e *Extension) OnUsageIncremented(ctx context.Context, userID string, typ generation.Type, count int64) error {
	return e.record(ctx, &AuditEvent{
		Action:   ActionUsageIncremented,
		Resource: ResourceUsagePeriod,
		Category: CategoryUsage,
		UserID:   userID,
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	},
		"type", typ.String(),
		"count", count,
	)
}

// OnCreateRace implements plugin.OnCreateRace.
func (e *Extension) OnCreateRace(ctx context.Context, userID, periodID string) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionUsageCreateRace,
		Resource:   ResourceUsagePeriod,
		Category:   CategoryUsage,
		ResourceID: periodID,
		UserID:     userID,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	})
}

// ──────────────────────────────────────────────────
// History hooks
// ──────────────────────────────────────────────────

// OnGenerationRecorded implements plugin.OnGenerationRecorded.
func (e *Extension) OnGenerationRecorded(ctx context.Context, r *history.Record) error {
	if r == nil {
		return nil
	}
	return e.record(ctx, &AuditEvent{
		Action:     ActionGenerationRecorded,
		Resource:   ResourceGeneration,
		Category:   CategoryHistory,
		ResourceID: r.ID.String(),
		UserID:     r.UserID,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	},
		"type", r.Type.String(),
		"asset_ref", r.AssetRef,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record stamps evt and sends it if its action is enabled. Recorder failures
// are logged and never reach the engine.
func (e *Extension) record(ctx context.Context, evt *AuditEvent, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	evt.ID = id.NewAuditEventID()
	evt.OccurredAt = e.clock.Now().UTC()
	if len(kvPairs) > 0 {
		evt.Metadata = make(map[string]any, len(kvPairs)/2)
		for i := 0; i+1 < len(kvPairs); i += 2 {
			key, ok := kvPairs[i].(string)
			if !ok {
				key = fmt.Sprint(kvPairs[i])
			}
			evt.Metadata[key] = kvPairs[i+1]
		}
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", err,
		)
	}
	return nil
}
