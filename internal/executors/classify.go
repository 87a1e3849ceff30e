package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ops-gateway/internal/models"
)

// classifyHTTP turns an upstream response or transport error into a
// classified ExecutionError. Transport failures and 5xx responses are
// transient; 4xx responses are permanent rejections.
func classifyHTTP(op string, resp *http.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Retryablef("%s timed out: %v", op, err)
		}
		return models.Retryablef("%s: %v", op, err)
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return models.Retryablef("%s: upstream returned %d", op, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return models.Permanentf("%s: upstream rejected request with %d", op, resp.StatusCode)
	}
	return nil
}

// payloadString extracts a required string field from a payload.
func payloadString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", models.NewValidationError(key, "missing required field")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", models.NewValidationError(key, "must be a non-empty string")
	}
	return s, nil
}

// optString extracts an optional string field, returning def when absent.
func optString(payload map[string]any, key, def string) string {
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return def
}

func optBool(payload map[string]any, key string) bool {
	v, _ := payload[key].(bool)
	return v
}

func drainBody(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var body map[string]any
	// Best effort; upstream bodies are advisory in results.
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return map[string]any{"raw": fmt.Sprintf("undecodable response: %v", err)}
	}
	return body
}
