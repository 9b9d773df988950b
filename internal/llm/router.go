package llm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/logutil"
)

// SpeechProvider is tried first for every transcription.
const SpeechProvider = "openai"

// Factory builds one provider. New returns an error when credentials are
// missing or the client cannot be constructed.
type Factory struct {
	Name string
	New  func() (Provider, error)
}

type RouterOptions struct {
	DefaultProvider string
	Timeout         time.Duration
	Logger          *slog.Logger
}

type Router struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	order       []string
	defaultName string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewRouter builds every factory in order. Failing factories are skipped;
// the router fails only when none remain.
func NewRouter(factories []Factory, opts RouterOptions) (*Router, error) {
	r := &Router{
		providers:   make(map[string]Provider),
		defaultName: strings.ToLower(opts.DefaultProvider),
		timeout:     opts.Timeout,
		logger:      logutil.OrDiscard(opts.Logger).With("component", "router"),
	}

	for _, f := range factories {
		p, err := f.New()
		if err != nil {
			r.logger.Warn("Provider disabled", "provider", f.Name, "error", err)
			continue
		}
		if p == nil || !p.IsAvailable() {
			r.logger.Info("Provider not configured", "provider", f.Name)
			continue
		}
		name := strings.ToLower(p.Name())
		if _, dup := r.providers[name]; dup {
			continue
		}
		r.providers[name] = p
		r.order = append(r.order, name)
	}

	if len(r.order) == 0 {
		return nil, apperr.Configuration("no LLM providers available")
	}
	if _, ok := r.providers[r.defaultName]; !ok {
		if r.defaultName != "" {
			r.logger.Warn("Default provider unavailable", "provider", r.defaultName, "fallback", r.order[0])
		}
		r.defaultName = r.order[0]
	}

	r.logger.Info("Router initialized", "providers", r.order, "default", r.defaultName)
	return r, nil
}

func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[strings.ToLower(name)]
	return ok
}

func (r *Router) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

func (r *Router) SetDefault(name string) error {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return apperr.Validation("unknown provider %q, available: %s", name, strings.Join(r.order, ", "))
	}
	r.defaultName = name
	return nil
}

// resolve returns the provider for name, or the default when name is empty.
// An unknown name falls back to the first provider in initialization order.
func (r *Router) resolve(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		return r.providers[r.defaultName]
	}
	if p, ok := r.providers[strings.ToLower(name)]; ok {
		return p
	}
	r.logger.Warn("Requested provider unavailable, using fallback", "provider", name, "fallback", r.order[0])
	return r.providers[r.order[0]]
}

// alternative returns the first provider other than exclude.
func (r *Router) alternative(exclude string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if name != exclude {
			return r.providers[name]
		}
	}
	return nil
}

func (r *Router) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Chat sends messages to the named provider, or the default when name is
// empty. A failure from an explicitly named provider is retried once on
// another provider.
func (r *Router) Chat(ctx context.Context, name string, messages []Message, tools []ToolDefinition) (*Response, error) {
	return r.call(ctx, name, "chat", func(ctx context.Context, p Provider) (*Response, error) {
		return p.Chat(ctx, messages, tools)
	})
}

func (r *Router) Vision(ctx context.Context, name string, messages []Message) (*Response, error) {
	return r.call(ctx, name, "vision", func(ctx context.Context, p Provider) (*Response, error) {
		return p.Vision(ctx, messages)
	})
}

func (r *Router) call(ctx context.Context, name, op string, fn func(context.Context, Provider) (*Response, error)) (*Response, error) {
	p := r.resolve(name)
	resp, err := r.attempt(ctx, p, fn)
	if err == nil || name == "" {
		return resp, err
	}

	alt := r.alternative(p.Name())
	if alt == nil {
		return nil, err
	}
	r.logger.Warn("Provider failed, retrying on fallback", "op", op, "provider", p.Name(), "fallback", alt.Name(), "error", err)

	resp, altErr := r.attempt(ctx, alt, fn)
	if altErr != nil {
		return nil, fmt.Errorf("%s failed on %s and %s: %w", op, p.Name(), alt.Name(), altErr)
	}
	return resp, nil
}

func (r *Router) attempt(ctx context.Context, p Provider, fn func(context.Context, Provider) (*Response, error)) (*Response, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := fn(ctx, p)
	if err != nil {
		return nil, WrapError(p.Name(), 0, err)
	}
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	if resp.Latency == 0 {
		resp.Latency = time.Since(start)
	}
	return resp, nil
}

// Transcribe tries the speech provider first, then the requested one. Each
// candidate is tried at most once.
func (r *Router) Transcribe(ctx context.Context, name string, audio []byte, format string) (string, error) {
	var candidates []Provider
	if r.Has(SpeechProvider) {
		candidates = append(candidates, r.resolve(SpeechProvider))
	}
	if requested := r.resolve(name); requested != nil && (len(candidates) == 0 || requested.Name() != candidates[0].Name()) {
		candidates = append(candidates, requested)
	}

	var lastErr error
	for _, p := range candidates {
		callCtx, cancel := r.withTimeout(ctx)
		text, err := p.Transcribe(callCtx, audio, format)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = WrapError(p.Name(), 0, err)
		r.logger.Warn("Transcription failed", "provider", p.Name(), "error", err)
	}
	return "", lastErr
}

// CheckHealth checks providers that support it and logs the outcome.
func (r *Router) CheckHealth(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		providers = append(providers, r.providers[name])
	}
	r.mu.RUnlock()

	results := make(map[string]error)
	for _, p := range providers {
		hc, ok := p.(HealthChecker)
		if !ok {
			continue
		}
		err := hc.CheckHealth(ctx)
		results[p.Name()] = err
		if err != nil {
			r.logger.Warn("Provider health check failed", "provider", p.Name(), "error", err)
		} else {
			r.logger.Info("Provider healthy", "provider", p.Name())
		}
	}
	return results
}
