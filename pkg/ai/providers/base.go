package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vamsi/pi/pkg/ai"
)

const (
	maxRetries           = 3
	baseRetryDelay       = time.Second
	defaultMaxRetryDelay = 60 * time.Second
	httpTimeout          = 300 * time.Second
)

var httpClient = &http.Client{Timeout: httpTimeout}

// newOutputMessage seeds the in-progress assistant message every adapter
// accumulates into while streaming.
func newOutputMessage(model *ai.Model) *ai.AssistantMessage {
	return &ai.AssistantMessage{
		API:        model.API,
		Provider:   model.Provider,
		Model:      model.ID,
		StopReason: ai.StopReasonStop,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// failStream is the fault barrier at the bottom of every adapter: it
// finalizes the partial message, emits the terminal ErrorEvent, and closes
// the stream. Cancellation is reported as aborted, everything else as error.
func failStream(ctx context.Context, stream *ai.AssistantMessageEventStream, output *ai.AssistantMessage, err error) {
	reason := ai.StopReasonError
	if isAbortError(ctx, err) {
		reason = ai.StopReasonAborted
	}
	output.StopReason = reason
	output.ErrorMessage = err.Error()
	stream.Push(&ai.ErrorEvent{Reason: reason, Error: output})
	stream.End()
	if reason == ai.StopReasonError {
		slog.Debug("provider stream failed", "api", output.API, "model", output.Model, "error", err)
	}
}

func isAbortError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "aborted") || strings.Contains(msg, "cancel")
}

// postWithRetry POSTs a JSON body, retrying transient failures with
// exponential backoff. The caller owns the response body on success.
func postWithRetry(ctx context.Context, url string, headers map[string]string, body []byte, maxRetryDelayMS int) (*http.Response, error) {
	maxDelay := defaultMaxRetryDelay
	if maxRetryDelayMS > 0 {
		maxDelay = time.Duration(maxRetryDelayMS) * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries && !isAbortError(ctx, err) {
				if sleepErr := sleepBackoff(ctx, attempt, 0, maxDelay); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			return nil, err
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		text := string(errBody)

		if attempt < maxRetries && isRetryableHTTP(resp.StatusCode, text) {
			serverDelay := extractRetryDelay(text, resp.Header)
			if serverDelay > maxDelay {
				return nil, fmt.Errorf("server requested %ds retry delay (max: %ds): %s",
					int(serverDelay.Seconds()), int(maxDelay.Seconds()), extractErrorMessage(text))
			}
			if sleepErr := sleepBackoff(ctx, attempt, serverDelay, maxDelay); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		perr := &ProviderError{Message: extractErrorMessage(text), Reason: FailoverUnknown}
		return nil, perr.WithStatus(resp.StatusCode)
	}
	if lastErr == nil {
		lastErr = errors.New("request failed after retries")
	}
	return nil, lastErr
}

func sleepBackoff(ctx context.Context, attempt int, serverDelay, maxDelay time.Duration) error {
	delay := baseRetryDelay << attempt
	if serverDelay > 0 {
		delay = serverDelay
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
