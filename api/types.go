package api

// Action names routed by the broker dispatcher. A reply carries the request
// action suffixed with ResponseSuffix.
const (
	ActionSubmitFood  = "SubmitFood"
	ActionSubmitWater = "SubmitWater"
	// ResponseSuffix is appended to the request action on replies.
	ResponseSuffix = "Response"
)

// SubmitRequest models the payload for SubmitFood/SubmitWater calls.
type SubmitRequest struct {
	// Amount is the resource delta to add to the farm. Negative values model
	// net production shortfalls and are accepted.
	Amount float64 `json:"amount"`
}

// SubmitResult reports whether a submission was accepted by the farm.
type SubmitResult struct {
	// IsAccepted is true when the amount was credited to the accumulator.
	IsAccepted bool `json:"isAccepted"`
	// FailReason carries the business rejection reason when IsAccepted is false.
	FailReason string `json:"failReason"`
}

// FarmStatus is a point-in-time snapshot returned by GET /v1/status.
type FarmStatus struct {
	// AccumulatedFood is the current food balance.
	AccumulatedFood float64 `json:"accumulated_food"`
	// AccumulatedWater is the current water balance.
	AccumulatedWater float64 `json:"accumulated_water"`
	// FarmSize is log10(total_consumed + 1).
	FarmSize float64 `json:"farm_size"`
	// ConsumptionCoefficient scales the per-tick random consumption draw.
	ConsumptionCoefficient float64 `json:"consumption_coefficient"`
	// TotalConsumed is the cumulative resource consumed since the last reset.
	TotalConsumed float64 `json:"total_consumed"`
	// StarveRounds counts consecutive failed food consumption ticks.
	StarveRounds int `json:"starve_rounds"`
	// ThirstRounds counts consecutive failed water consumption ticks.
	ThirstRounds int `json:"thirst_rounds"`
	// Selling reports whether the farm is in its selling lockout window.
	Selling bool `json:"selling"`
	// SellingUntil is the lockout expiry as a Unix timestamp in seconds (0 when not selling).
	SellingUntil int64 `json:"selling_until_unix,omitempty"`
}

// ErrorResponse is the canonical error envelope for REST adapter failures.
type ErrorResponse struct {
	// ErrorCode is the stable farmd error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
}
