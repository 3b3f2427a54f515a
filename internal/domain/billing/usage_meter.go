package billing

import "github.com/google/uuid"

// CompletionMode is the request mode a model was used in
type CompletionMode string

const (
	CompletionModeNormal CompletionMode = "normal"
	CompletionModeMax    CompletionMode = "max"
)

// String returns the string representation of CompletionMode
func (m CompletionMode) String() string {
	return string(m)
}

// UsageMeter is the request counter of one account for one model and mode
// in the current billing period. Meters are written elsewhere; this context only reads them.
type UsageMeter struct {
	AccountID uuid.UUID
	Model     string
	Mode      CompletionMode
	Requests  int64
}

// UsageMeters is the set of meters of a single account
type UsageMeters []*UsageMeter

// Requests returns the request count for model and mode, or zero if no meter exists
func (m UsageMeters) Requests(model string, mode CompletionMode) int64 {
	for _, meter := range m {
		if meter.Model == model && meter.Mode == mode {
			return meter.Requests
		}
	}
	return 0
}

// GroupUsageMetersByAccount groups meters by their account
func GroupUsageMetersByAccount(meters []*UsageMeter) map[uuid.UUID]UsageMeters {
	grouped := make(map[uuid.UUID]UsageMeters)
	for _, meter := range meters {
		grouped[meter.AccountID] = append(grouped[meter.AccountID], meter)
	}
	return grouped
}
