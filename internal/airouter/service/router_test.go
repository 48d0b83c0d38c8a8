package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
	"github.com/aussiebroadwan/fintab/internal/airouter/provider"
)

type fakePrimary struct {
	result provider.Result
	calls  int
	got    []chat.Message
}

func (f *fakePrimary) Complete(_ context.Context, msgs []chat.Message) provider.Result {
	f.calls++
	f.got = msgs
	f.result.Provider = provider.KindOpenAI
	return f.result
}

type fakeSecondary struct {
	err    error
	deltas []string
	calls  int
	got    []chat.Message
}

func (f *fakeSecondary) Provider() provider.Kind { return provider.KindPerplexity }

func (f *fakeSecondary) Open(_ context.Context, msgs []chat.Message) (provider.DeltaStream, error) {
	f.calls++
	f.got = msgs
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{deltas: f.deltas}, nil
}

type sliceStream struct{ deltas []string }

func (s *sliceStream) Next() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

func newRouter(t *testing.T, p *fakePrimary, s *fakeSecondary) *Router {
	t.Helper()
	sig, err := CompileSignature("")
	require.NoError(t, err)

	r := &Router{Primary: p, Signature: sig, Metrics: NewMetrics(prometheus.NewRegistry())}
	if s != nil {
		r.Secondary = s
	}
	return r
}

var conversation = []chat.Message{
	{Role: chat.RoleUser, Content: "what is my balance on 4111111111111111"},
	{Role: chat.RoleAssistant, Content: "Let me look."},
	{Role: chat.RoleUser, Content: "and what are today's mortgage rates?"},
}

const lacksData = "I don't have real-time data on current mortgage rates."

func TestRoutePrimaryAnswer(t *testing.T) {
	p := &fakePrimary{result: provider.Result{Text: "According to my search, you should save 20%. I recommend a budget."}}
	s := &fakeSecondary{}
	r := newRouter(t, p, s)

	out, err := r.Route(context.Background(), Request{Messages: conversation, WantRealtime: true})
	require.NoError(t, err)
	require.Equal(t, RoutePrimary, out.Route)
	require.Equal(t, provider.KindOpenAI, out.Provider)
	require.Equal(t, "You should save 20%. I recommend a budget.", out.Text)
	require.Zero(t, s.calls)

	require.Equal(t, chat.Persona, p.got[0].Content)
	for _, m := range p.got {
		require.NotContains(t, m.Content, "4111111111111111")
	}
	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.requests.WithLabelValues("primary")))
}

func TestRouteFallbackOnSignature(t *testing.T) {
	p := &fakePrimary{result: provider.Result{Text: lacksData}}
	s := &fakeSecondary{deltas: []string{"Rates ", "are 6.1%."}}
	r := newRouter(t, p, s)

	out, err := r.Route(context.Background(), Request{Messages: conversation, WantRealtime: true})
	require.NoError(t, err)
	require.Equal(t, RouteSecondary, out.Route)
	require.Equal(t, provider.KindPerplexity, out.Provider)
	require.NotNil(t, out.Stream)

	// Only the latest user turn goes to the secondary
	require.Len(t, s.got, 2)
	require.Equal(t, chat.RoleSystem, s.got[0].Role)
	require.Equal(t, "and what are today's mortgage rates?", s.got[1].Content)
}

func TestRouteSignatureWithoutRealtimeStaysPrimary(t *testing.T) {
	p := &fakePrimary{result: provider.Result{Text: lacksData}}
	s := &fakeSecondary{}
	r := newRouter(t, p, s)

	out, err := r.Route(context.Background(), Request{Messages: conversation})
	require.NoError(t, err)
	require.Equal(t, RoutePrimary, out.Route)
	require.Zero(t, s.calls)
	require.True(t, strings.HasSuffix(out.Text, Recommendation))
}

func TestRouteFallbackOnPrimaryFailure(t *testing.T) {
	p := &fakePrimary{result: provider.Result{Err: errors.New("timeout")}}
	s := &fakeSecondary{deltas: []string{"ok"}}
	r := newRouter(t, p, s)

	// wantRealtime does not matter when the primary fails outright
	out, err := r.Route(context.Background(), Request{Messages: conversation, WantRealtime: false})
	require.NoError(t, err)
	require.Equal(t, RouteSecondary, out.Route)
	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.failures.WithLabelValues("openai")))
}

func TestRouteExhausted(t *testing.T) {
	primaryErr := errors.New("primary down")

	t.Run("no secondary configured", func(t *testing.T) {
		r := newRouter(t, &fakePrimary{result: provider.Result{Err: primaryErr}}, nil)

		_, err := r.Route(context.Background(), Request{Messages: conversation})
		var ex *ExhaustedError
		require.ErrorAs(t, err, &ex)
		require.ErrorIs(t, err, primaryErr)
		require.Nil(t, ex.Secondary)
	})

	t.Run("both fail", func(t *testing.T) {
		secondaryErr := errors.New("secondary down")
		r := newRouter(t, &fakePrimary{result: provider.Result{Err: primaryErr}}, &fakeSecondary{err: secondaryErr})

		_, err := r.Route(context.Background(), Request{Messages: conversation})
		require.ErrorIs(t, err, primaryErr)
		require.ErrorIs(t, err, secondaryErr)
		require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.requests.WithLabelValues("failed")))
	})

	t.Run("no user message to query with", func(t *testing.T) {
		s := &fakeSecondary{}
		r := newRouter(t, &fakePrimary{result: provider.Result{Err: primaryErr}}, s)

		_, err := r.Route(context.Background(), Request{Messages: []chat.Message{{Role: chat.RoleAssistant, Content: "hi"}}})
		require.ErrorIs(t, err, errNoQuery)
		require.Zero(t, s.calls)
	})
}

func TestRouteSecondaryFailureKeepsPrimaryAnswer(t *testing.T) {
	p := &fakePrimary{result: provider.Result{Text: lacksData}}
	s := &fakeSecondary{err: errors.New("secondary down")}
	r := newRouter(t, p, s)

	out, err := r.Route(context.Background(), Request{Messages: conversation, WantRealtime: true})
	require.NoError(t, err)
	require.Equal(t, RoutePrimary, out.Route)
	require.Contains(t, out.Text, "real-time data")
}

func TestRouteWindow(t *testing.T) {
	var msgs []chat.Message
	for range 9 {
		msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: "hi"})
	}
	p := &fakePrimary{result: provider.Result{Text: "ok"}}
	r := newRouter(t, p, nil)

	_, err := r.Route(context.Background(), Request{Messages: msgs})
	require.NoError(t, err)
	require.Len(t, p.got, DefaultWindow+1)
}

func TestSignature(t *testing.T) {
	sig, err := CompileSignature("")
	require.NoError(t, err)

	for _, s := range []string{
		"I don't have real-time data.",
		"I do not have access to real time information about that.",
		"Sorry, I dont have realtime data",
		"I cannot provide real-time market data.",
		"I have no real-time data on stock prices.",
		"I can't access live data.",
		"I DON'T HAVE REAL-TIME DATA",
		"I don\u2019t have real-time data.",
		"I don\u2019t have access to live data",
		"Sorry, I can\u2019t provide current information.",
	} {
		require.True(t, sig.MatchString(s), s)
	}
	for _, s := range []string{
		"Real-time data shows rates rose.",
		"You have saved $200 this month.",
		"I know real-time data matters to you.",
	} {
		require.False(t, sig.MatchString(s), s)
	}

	custom, err := CompileSignature(`(?i)no live feed`)
	require.NoError(t, err)
	require.True(t, custom.MatchString("There is No Live Feed"))

	_, err = CompileSignature(`(`)
	require.Error(t, err)
}

func TestPostProcess(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "meta phrase",
			in:   "According to my search, rates rose. My suggestion is to wait.",
			want: "Rates rose. My suggestion is to wait.",
		},
		{
			name: "citations",
			in:   "See [CFPB](https://www.consumerfinance.gov/guides) and [1](https://x.io). I recommend it.",
			want: "See [CFPB] and [1]. I recommend it.",
		},
		{
			name: "third person",
			in:   "The assistant recommends a budget. The assistant's view is simple.",
			want: "I recommend a budget. My view is simple.",
		},
		{
			name: "recommendation appended",
			in:   "Your spending rose 10%.",
			want: "Your spending rose 10%.\n\n" + Recommendation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, PostProcess(tt.in))
		})
	}
}
