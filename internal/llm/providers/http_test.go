package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/llm"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"object", `{"error":{"message":"model not found"}}`, "model not found"},
		{"string", `{"error":"model 'llava' not found"}`, "model 'llava' not found"},
		{"plain text", "  bad gateway\n", "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}
}

func TestErrorMessage_TruncatesOnRuneBoundary(t *testing.T) {
	body := "a" + strings.Repeat("€", 200)

	msg := errorMessage([]byte(body))
	assert.True(t, utf8.ValidString(msg))
	assert.Len(t, msg, 298)
	assert.True(t, strings.HasPrefix(body, msg))
}

func TestPostJSON_LongUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("服务不可用", 100)))
	}))
	defer srv.Close()

	var out map[string]any
	err := postJSON(context.Background(), srv.Client(), "ollama", srv.URL, nil, map[string]string{}, &out)

	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
	assert.True(t, utf8.ValidString(pe.Message))
	assert.LessOrEqual(t, len(pe.Message), maxErrorBody)
	assert.True(t, pe.Retryable())
}
