package providers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var retryDelayPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s"`)

// extractRetryDelay pulls a server-requested retry delay from a Retry-After
// header or a Google-style retryDelay field in the error body. Zero when
// the server did not specify one.
func extractRetryDelay(body string, headers http.Header) time.Duration {
	if headers != nil {
		if v := headers.Get("Retry-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	if m := retryDelayPattern.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

// extractErrorMessage digs a human-readable message out of a provider error
// body, falling back to the (truncated) raw text.
func extractErrorMessage(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "request failed"
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	// Some backends wrap errors in an array.
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil && len(list) > 0 {
		return extractErrorMessage(string(list[0]))
	}

	if len(trimmed) > 500 {
		trimmed = trimmed[:500]
	}
	return trimmed
}
