package client

// GraphQL response envelope types for the monday.com v2 API.

// APIResponse is a decoded GraphQL response envelope. Data may be partial
// when Errors is non-empty.
type APIResponse struct {
	Data       map[string]interface{} `json:"data"`
	Errors     []APIError             `json:"errors"`
	AccountID  int64                  `json:"account_id,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
	// RetryAfter is the Retry-After header in seconds, 0 when absent.
	RetryAfter int `json:"-"`
}

// APIError is one error entry in the response envelope.
type APIError struct {
	Message    string          `json:"message"`
	Locations  []ErrorLocation `json:"locations,omitempty"`
	Path       []interface{}   `json:"path,omitempty"`
	Extensions ErrorExtensions `json:"extensions,omitempty"`
}

// ErrorLocation points into the query document.
type ErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ErrorExtensions carries the API's machine-readable error details.
type ErrorExtensions struct {
	Code       string                 `json:"code"`
	StatusCode int                    `json:"status_code,omitempty"`
	ErrorData  map[string]interface{} `json:"error_data,omitempty"`
}

// HasErrors reports whether the envelope carries application errors.
func (r *APIResponse) HasErrors() bool {
	return len(r.Errors) > 0
}

// ErrorCodes returns every error code in the envelope.
func (r *APIResponse) ErrorCodes() []string {
	codes := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		codes = append(codes, e.Extensions.Code)
	}
	return codes
}

// RequestID returns the API request ID for support diagnostics, if present.
func (r *APIResponse) RequestID() string {
	if r.Extensions == nil {
		return ""
	}
	if id, ok := r.Extensions["request_id"].(string); ok {
		return id
	}
	return ""
}

// Error codes the API returns for transient conditions. Requests failing
// with one of these are worth retrying after a pause.
var retryableCodes = map[string]struct{}{
	"API_TEMPORARILY_BLOCKED":     {},
	"maxConcurrencyExceeded":      {},
	"RateLimitExceeded":           {},
	"COMPLEXITY_BUDGET_EXHAUSTED": {},
	"IP_RATE_LIMIT_EXCEEDED":      {},
	"ResourceLocked":              {},
	"InternalServerError":         {},
}

// Retryable reports whether any error in the envelope is transient.
func (r *APIResponse) Retryable() bool {
	for _, code := range r.ErrorCodes() {
		if _, ok := retryableCodes[code]; ok {
			return true
		}
	}
	return false
}
