package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/hray3182/topicmate/internal/llm"
)

// postJSON sends payload and decodes a 2xx body into out. Non-2xx responses
// become ProviderErrors carrying the status and the upstream message.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return llm.WrapError(provider, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, provider, req, out)
}

func getJSON(ctx context.Context, client *http.Client, provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return llm.WrapError(provider, 0, err)
	}
	return doJSON(client, provider, req, out)
}

func doJSON(client *http.Client, provider string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return llm.WrapError(provider, 0, ctxErr)
		}
		return llm.WrapError(provider, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.WrapError(provider, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &llm.ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &llm.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: "failed to parse response", Err: err}
	}
	return nil
}

// errorMessage pulls a message out of the common {"error": ...} shapes.
func errorMessage(body []byte) string {
	var withObject struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &withObject) == nil && withObject.Error.Message != "" {
		return withObject.Error.Message
	}
	var withString struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &withString) == nil && withString.Error != "" {
		return withString.Error
	}
	return truncate(strings.TrimSpace(string(body)), maxErrorBody)
}

const maxErrorBody = 300

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
