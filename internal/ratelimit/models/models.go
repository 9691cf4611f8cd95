package models

import "time"

// Scope separates the limiter buckets.
type Scope string

const (
	// ScopeAPIKey limits authenticated calls per key per hour.
	ScopeAPIKey Scope = "api_key"
	// ScopePublicIP limits unauthenticated token endpoints per client IP.
	ScopePublicIP Scope = "public_ip"
)

// RateLimitResult is the outcome of one limiter check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// RateLimitExceededResponse is the API response when a limit is exceeded.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
