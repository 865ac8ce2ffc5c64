package providers

import (
	"errors"
	"fmt"
	"strings"
)

// FailoverReason classifies why a provider call failed.
type FailoverReason string

const (
	FailoverRateLimited FailoverReason = "rate_limited"
	FailoverServer      FailoverReason = "server_error"
	FailoverTimeout     FailoverReason = "timeout"
	FailoverNetwork     FailoverReason = "network"
	FailoverAuth        FailoverReason = "auth"
	FailoverBadRequest  FailoverReason = "bad_request"
	FailoverUnknown     FailoverReason = "unknown"
)

// IsRetryable reports whether a failure with this reason is worth retrying.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimited, FailoverServer, FailoverTimeout, FailoverNetwork:
		return true
	default:
		return false
	}
}

// ProviderError wraps a provider failure with enough context to classify,
// log, and surface it.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int
	Code      string
	RequestID string
	Message   string
	Reason    FailoverReason
	Cause     error
}

// NewProviderError wraps err with provider context, classifying it from the
// error text.
func NewProviderError(provider, model string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Model:    model,
		Message:  err.Error(),
		Reason:   classifyError(err),
		Cause:    err,
	}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString("/")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	} else {
		b.WriteString("request failed")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// WithStatus records the HTTP status and refines the failover reason.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	switch {
	case status == 429:
		e.Reason = FailoverRateLimited
	case status >= 500:
		e.Reason = FailoverServer
	case status == 401 || status == 403:
		e.Reason = FailoverAuth
	case status >= 400:
		e.Reason = FailoverBadRequest
	}
	return e
}

// WithMessage sets a human-readable message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// WithCode records a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	return e
}

// WithRequestID records the provider's request id.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

func classifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "overloaded"):
		return FailoverRateLimited
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"), strings.Contains(msg, "gateway timeout"):
		return FailoverServer
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "broken pipe"):
		return FailoverNetwork
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid x-api-key"):
		return FailoverAuth
	default:
		return FailoverUnknown
	}
}

// isRetryableHTTP reports whether a raw HTTP failure should be retried.
func isRetryableHTTP(status int, body string) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range []string{"rate limit", "rate_limit", "overloaded", "service unavailable", "upstream connect", "connection refused"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
