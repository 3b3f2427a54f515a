package dto

// Response is the envelope of every JSON answer of the operations API
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	}
}

// NewErrorResponseWithRequestID creates an error response tagged with the request ID
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// SyncSubscriptionsRequest asks for a re-sync of one account's provider subscriptions
type SyncSubscriptionsRequest struct {
	AccountID string `json:"account_id" binding:"required,uuid"`
}

// SyncSubscriptionsResponse reports the provider customer that was re-synced
type SyncSubscriptionsResponse struct {
	AccountID        string `json:"account_id"`
	StripeCustomerID string `json:"stripe_customer_id"`
}

// TriggerResponse acknowledges an on-demand job run
type TriggerResponse struct {
	Job      string `json:"job"`
	Duration string `json:"duration"`
}

// HealthResponse is returned by the liveness and readiness checks
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
