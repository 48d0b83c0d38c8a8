// Package service decides which provider answers a chat request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
	"github.com/aussiebroadwan/fintab/internal/airouter/provider"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// DefaultWindow is how many trailing turns are sent upstream.
const DefaultWindow = 5

// Completer is the primary, batch provider.
type Completer interface {
	Complete(ctx context.Context, msgs []chat.Message) provider.Result
}

// Streamer is the secondary, real-time provider.
type Streamer interface {
	Provider() provider.Kind
	Open(ctx context.Context, msgs []chat.Message) (provider.DeltaStream, error)
}

// Route is which path answered a request.
type Route int

const (
	RoutePrimary Route = iota + 1
	RouteSecondary
	RouteFailed
)

func (r Route) String() string {
	switch r {
	case RoutePrimary:
		return "primary"
	case RouteSecondary:
		return "secondary"
	case RouteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Request struct {
	Messages     []chat.Message
	WantRealtime bool
}

// Outcome is either a finished primary answer or an open secondary stream,
// selected by Route. The caller must Close a non-nil Stream.
type Outcome struct {
	Route    Route
	Provider provider.Kind
	Text     string
	Stream   provider.DeltaStream
}

// ExhaustedError means no provider produced an answer.
type ExhaustedError struct {
	Primary   error
	Secondary error
}

func (e *ExhaustedError) Error() string {
	if e.Secondary != nil {
		return fmt.Sprintf("all providers failed: primary: %v; secondary: %v", e.Primary, e.Secondary)
	}
	return fmt.Sprintf("all providers failed: primary: %v", e.Primary)
}

func (e *ExhaustedError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Primary, e.Secondary} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Router tries the primary provider and re-routes to the secondary when the
// primary fails or, for real-time requests, admits it has no live data.
type Router struct {
	Primary Completer
	// Secondary is optional, nil disables fallback.
	Secondary Streamer
	Signature *regexp.Regexp
	Window    int
	Metrics   *Metrics
}

func (r *Router) window() int {
	if r.Window <= 0 {
		return DefaultWindow
	}
	return r.Window
}

// Route picks and invokes a provider. Failures are only returned once every
// available path has failed.
func (r *Router) Route(ctx context.Context, req Request) (Outcome, error) {
	l := slogx.FromContext(ctx)

	msgs := chat.Prepare(req.Messages, r.window())
	primary := r.Primary.Complete(ctx, msgs)

	fallback := false
	switch {
	case !primary.OK():
		r.Metrics.failure(primary.Provider)
		l.Warn("primary provider failed", slog.String("provider", primary.Provider.String()), slog.Any("error", primary.Err))
		if r.Secondary == nil {
			r.Metrics.request(RouteFailed)
			return Outcome{}, &ExhaustedError{Primary: primary.Err}
		}
		fallback = true
	case req.WantRealtime && r.Secondary != nil && r.Signature != nil && r.Signature.MatchString(primary.Text):
		l.Info("primary answer lacks real-time data, rerouting")
		fallback = true
	}

	if fallback {
		out, err := r.secondary(ctx, msgs)
		if err == nil {
			r.Metrics.request(RouteSecondary)
			return out, nil
		}
		if !errors.Is(err, errNoQuery) {
			r.Metrics.failure(r.Secondary.Provider())
		}
		l.Warn("secondary provider failed", slog.Any("error", err))

		if !primary.OK() {
			r.Metrics.request(RouteFailed)
			return Outcome{}, &ExhaustedError{Primary: primary.Err, Secondary: err}
		}
		// The primary did answer, a weak answer beats none.
	}

	r.Metrics.request(RoutePrimary)
	return Outcome{Route: RoutePrimary, Provider: primary.Provider, Text: PostProcess(primary.Text)}, nil
}

var errNoQuery = errors.New("no user message to use as a query")

// secondary queries with the most recent, already redacted, user turn.
func (r *Router) secondary(ctx context.Context, msgs []chat.Message) (Outcome, error) {
	query, ok := chat.LastUserMessage(msgs)
	if !ok {
		return Outcome{}, errNoQuery
	}

	stream, err := r.Secondary.Open(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: chat.Persona},
		{Role: chat.RoleUser, Content: query},
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Route: RouteSecondary, Provider: r.Secondary.Provider(), Stream: stream}, nil
}
