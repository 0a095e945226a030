package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// do sends one API call with rate limiting and retries, decoding a 2xx body
// into out. Errors carry the operation name.
func (c *LlamaCloudClient) do(ctx context.Context, op, method, path string, body []byte, contentType string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn("request failed, retrying", "op", op, "attempt", attempt+1, "error", err)
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.limiter.Record429(retryAfter)
			lastErr = &RateLimitError{
				Message:    fmt.Sprintf("%s rate limited: %s", LlamaCloudName, errorMessage(respBody)),
				RetryAfter: retryAfter,
				StatusCode: resp.StatusCode,
			}
			c.sleepWithJitter(ctx, attempt, retryAfter)
			continue
		}

		if c.shouldRetry(resp.StatusCode) {
			lastErr = &APIError{Service: LlamaCloudName, Operation: op, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
			c.logger.Warn("retryable status", "op", op, "status", resp.StatusCode, "attempt", attempt+1)
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Service: LlamaCloudName, Operation: op, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		}

		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{Service: LlamaCloudName, Operation: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid response body: %v", err)}
		}
		return nil
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", LlamaCloudName, op, c.maxRetries, lastErr)
}

// shouldRetry returns true for status codes that should be retried.
func (c *LlamaCloudClient) shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524: // Cloudflare errors
		return true
	default:
		return statusCode >= 500
	}
}

// sleepWithJitter waits for the larger of the exponential delay and the
// server's Retry-After, respecting context cancellation.
func (c *LlamaCloudClient) sleepWithJitter(ctx context.Context, attempt int, retryAfter time.Duration) {
	delay := c.retryDelay * time.Duration(1<<attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	// -20% to +30%
	delay = time.Duration(float64(delay) * (0.8 + 0.5*rand.Float64()))
	if retryAfter > delay {
		delay = retryAfter
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// errorMessage pulls a readable message out of an error body.
func errorMessage(body []byte) string {
	var e llamaErrorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		switch d := e.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

func jsonBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return b, nil
}

// multipartFile encodes a single file part plus form fields.
func multipartFile(name string, data []byte, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("upload_file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
