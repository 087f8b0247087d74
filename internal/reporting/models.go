package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// CallsSummaryRequest requests aggregated call metrics for one owner.
type CallsSummaryRequest struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

type CallsSummary struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`

	TotalDurationSeconds   int64 `json:"total_duration_seconds"`
	AverageDurationSeconds int64 `json:"average_duration_seconds"`

	RecurringExecuted int `json:"recurring_executed"`
	RecurringFailed   int `json:"recurring_failed"`

	// Truncated is set when the owner has more events than one scan reads.
	Truncated bool `json:"truncated,omitempty"`
}
