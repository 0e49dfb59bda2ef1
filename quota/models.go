// Package quota holds the advisory result of a quota check.
package quota

// Result is a point-in-time view of a user's monthly allowance. It does not
// reserve anything; a concurrent caller sees the same numbers.
type Result struct {
	Allowed   bool   `json:"allowed"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	PeriodID  string `json:"period_id"`
}

// Evaluate computes the result for used generations against limit.
func Evaluate(periodID string, used, limit int64) *Result {
	remaining := max(0, limit-used)
	return &Result{
		Allowed:   remaining > 0,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		PeriodID:  periodID,
	}
}
