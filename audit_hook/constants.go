package audithook

// Action constants for audit events.
const (
	// Quota actions
	ActionQuotaChecked   = "quota.checked"
	ActionQuotaExhausted = "quota.exhausted"

	// Usage actions
	ActionUsageIncremented = "usage.incremented"
	ActionUsageCreateRace  = "usage.create_race"

	// History actions
	ActionGenerationRecorded = "generation.recorded"
)

// Resource constants for audit events.
const (
	ResourceQuota       = "quota"
	ResourceUsagePeriod = "usage_period"
	ResourceGeneration  = "generation"
)

// Category constants for audit events.
const (
	CategoryAccess  = "access"
	CategoryUsage   = "usage"
	CategoryHistory = "history"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
