// Package llm defines the provider-neutral chat contract and the router
// that picks a provider per call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hray3182/topicmate/internal/models"
)

// ErrUnsupported is wrapped in a ProviderError when a provider lacks a capability.
var ErrUnsupported = errors.New("operation not supported by provider")

// ImagePart is an image attached to a message. Data takes precedence over URL.
type ImagePart struct {
	URL      string
	Data     []byte
	MIMEType string
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object
}

// Message is one conversation turn. Tool results use RoleTool with
// ToolCallID set and Name holding the tool name.
type Message struct {
	Role       models.Role
	Content    string
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
	Images     []ImagePart
}

// ToolDefinition describes a callable tool. Parameters is a JSON schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Model     string
	Provider  string
	Latency   time.Duration
}

type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
	Vision(ctx context.Context, messages []Message) (*Response, error)
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
	IsAvailable() bool
}

// HealthChecker is implemented by providers that can check their backend.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// ProviderError is an upstream failure. StatusCode is 0 when the request
// never got an HTTP response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *ProviderError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Retryable reports whether the same call may succeed later: timeouts,
// rate limits and server errors.
func (e *ProviderError) Retryable() bool {
	return e.Timeout() || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsRetryable reports whether err carries a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// Unsupported returns the error for a capability the provider does not have.
func Unsupported(provider, op string) error {
	return &ProviderError{Provider: provider, Message: op + " is not supported", Err: ErrUnsupported}
}

// WrapError converts err into a ProviderError, keeping status details when
// err already is one.
func WrapError(provider string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return &ProviderError{Provider: provider, StatusCode: statusCode, Message: msg, Err: err}
}
