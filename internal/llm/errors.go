package llm

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class buckets a provider error into the category that determines its
// retry budget and delay, per SPEC_FULL.md's error-classification table.
type Class string

const (
	ClassConnection Class = "connection" // dial/DNS/TLS failure, reset
	ClassServer     Class = "server"     // 5xx
	ClassRateLimit  Class = "rate_limit" // 429
	ClassAuth       Class = "auth"       // 401/403, token expired
	ClassPermanent  Class = "permanent"  // 400/404/422, bad request shape
)

// Budget is the retry policy attached to a Class: retries continue, with
// Full Jitter backoff, until BudgetMS of elapsed wall-clock time is spent,
// starting from BaseDelayMS.
type Budget struct {
	BudgetMS    int64 // total time retries may consume; 0 = no retry
	BaseDelayMS int64
}

// Budgets is the fixed per-class retry table from SPEC_FULL.md §4.2.
// Connection and server errors are time-budgeted rather than
// attempt-counted, since a flapping connection can fail fast many times
// within a short window. Auth errors get no retry from this table at
// all — Gateway.Chat handles them separately via a registered
// TokenRefresher, then retries the single request once. Permanent errors
// are raised immediately.
var Budgets = map[Class]Budget{
	ClassConnection: {BudgetMS: 300_000, BaseDelayMS: 5_000},
	ClassServer:     {BudgetMS: 180_000, BaseDelayMS: 10_000},
	ClassRateLimit:  {BudgetMS: 300_000, BaseDelayMS: 10_000},
	ClassAuth:       {BudgetMS: 0, BaseDelayMS: 0},
	ClassPermanent:  {BudgetMS: 0, BaseDelayMS: 0},
}

// ProviderError wraps a classified failure from a Provider.
type ProviderError struct {
	Provider   string
	Class      Class
	StatusCode int
	// RetryAfter is the server's requested backoff for a rate_limit
	// response, parsed from its Retry-After header. Zero means the
	// response didn't send one (or wasn't a rate_limit), and the caller
	// should fall back to the fixed per-class delay.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return e.Provider + ": " + string(e.Class) + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify maps an HTTP status code and underlying transport error to a
// Class. status is 0 when the request never reached the server (dial
// failure, timeout, connection reset).
func Classify(status int, err error) Class {
	if status == 0 {
		return ClassConnection
	}
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassPermanent
	default:
		return ClassPermanent
	}
}

// NewProviderError builds a classified ProviderError.
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Class:      Classify(status, err),
		StatusCode: status,
		Err:        err,
	}
}

// NewProviderErrorFromResponse builds a classified ProviderError and, for a
// rate_limit response, parses the server's Retry-After header so the
// gateway's retry delay can honor it instead of falling back to the fixed
// per-class base delay.
func NewProviderErrorFromResponse(provider string, resp *http.Response, err error) *ProviderError {
	pe := NewProviderError(provider, resp.StatusCode, err)
	if pe.Class == ClassRateLimit {
		pe.RetryAfter = ParseRetryAfter(resp.Header)
	}
	return pe
}

// ParseRetryAfter extracts a Retry-After header's delay-seconds form (the
// form every rate-limiting LLM API in practice sends). The HTTP-date form
// is not supported; an absent or unparseable header returns 0.
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ClassOf extracts the Class from err if it (or something it wraps) is a
// *ProviderError; otherwise it conservatively returns ClassConnection so
// unrecognized errors still get a retry budget rather than none.
func ClassOf(err error) Class {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassConnection
}
