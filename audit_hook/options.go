package audithook

import (
	"log/slog"

	"github.com/xraph/genquota/clock"
)

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for the extension.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(e *Extension) {
		e.clock = c
	}
}

// WithEnabledActions sets which actions to audit.
// If not called, all actions are audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool)
		for _, action := range actions {
			e.enabled[action] = true
		}
	}
}

// WithDisabledActions skips the given actions and audits every other known
// action. It overrides an earlier WithEnabledActions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		skip := make(map[string]bool, len(actions))
		for _, action := range actions {
			skip[action] = true
		}
		e.enabled = make(map[string]bool)
		for _, action := range allActions() {
			if !skip[action] {
				e.enabled[action] = true
			}
		}
	}
}

// allActions returns all known audit actions.
func allActions() []string {
	return []string{
		ActionQuotaChecked,
		ActionQuotaExhausted,
		ActionUsageIncremented,
		ActionUsageCreateRace,
		ActionGenerationRecorded,
	}
}
