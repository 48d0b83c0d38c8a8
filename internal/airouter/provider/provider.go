// Package provider talks to OpenAI compatible chat completion APIs, either
// as a single batch call or as a server-sent event stream.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
	"github.com/aussiebroadwan/fintab/pkg/otelx"
)

// Kind is the closed set of upstream providers.
type Kind int

const (
	KindOpenAI Kind = iota + 1
	KindPerplexity
)

func (k Kind) String() string {
	switch k {
	case KindOpenAI:
		return "openai"
	case KindPerplexity:
		return "perplexity"
	default:
		return "unknown"
	}
}

// Result is the outcome of a batch call. A failed call is a value, not an
// error return, so the router can decide what to do with it.
type Result struct {
	Provider Kind
	Text     string
	Err      error
}

func (r Result) OK() bool { return r.Err == nil }

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Provider   Kind
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ErrMalformed reports a 2xx answer the client could not interpret.
var ErrMalformed = errors.New("malformed provider response")

// Config is shared by both clients.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	// HTTPClient defaults to a client with a tracing transport.
	HTTPClient *http.Client
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Transport: otelx.Transport(nil)}
}

// Configured reports whether the provider has credentials to be called.
func (c Config) Configured() bool { return c.APIKey != "" && c.BaseURL != "" }

type completionRequest struct {
	Model     string         `json:"model"`
	Messages  []chat.Message `json:"messages"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Stream    bool           `json:"stream,omitempty"`
}

func newRequest(ctx context.Context, cfg Config, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(cfg.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return req, nil
}

// statusError reads a bounded slice of a failure body for diagnostics.
func statusError(k Kind, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Provider: k, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
