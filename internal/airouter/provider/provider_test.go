package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
)

var msgs = []chat.Message{{Role: chat.RoleUser, Content: "hi"}}

func TestKindString(t *testing.T) {
	require.Equal(t, "openai", KindOpenAI.String())
	require.Equal(t, "perplexity", KindPerplexity.String())
	require.Equal(t, "unknown", Kind(0).String())
}

func TestBatchComplete(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Save 20%."}}]}`)
	}))
	defer srv.Close()

	c := &BatchClient{
		Kind:      KindOpenAI,
		Config:    Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o-mini"},
		MaxTokens: 800,
	}
	res := c.Complete(context.Background(), msgs)

	require.True(t, res.OK())
	require.Equal(t, "Save 20%.", res.Text)
	require.Equal(t, KindOpenAI, res.Provider)
	require.Equal(t, 800, got.MaxTokens)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.False(t, got.Stream)
}

func TestBatchFailuresAreValues(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				require.Equal(t, http.StatusTooManyRequests, se.StatusCode)
				require.Equal(t, "rate limited", se.Body)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>")
			},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMalformed) },
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[]}`)
			},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMalformed) },
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, context.DeadlineExceeded) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := &BatchClient{Kind: KindOpenAI, Config: Config{BaseURL: srv.URL, APIKey: "k", Timeout: 100 * time.Millisecond}}
			res := c.Complete(context.Background(), msgs)
			require.False(t, res.OK())
			tt.check(t, res.Err)
		})
	}
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
			w.(http.Flusher).Flush()
		}
	}
}

func collect(t *testing.T, s DeltaStream) ([]string, error) {
	t.Helper()
	defer s.Close()

	var out []string
	for {
		d, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}

func TestStreamOpen(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sseHandler(
			": keep-alive\n\n",
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n",
			`data: {"choices":[{"delta":{"content":"Rates "}}]}`+"\n\n",
			`data:{"choices":[{"delta":{"content":"rose."}}]}`+"\n\n",
			"data: [DONE]\n\n",
			`data: {"choices":[{"delta":{"content":"ignored"}}]}`+"\n\n",
		)(w, r)
	}))
	defer srv.Close()

	c := &StreamClient{Kind: KindPerplexity, Config: Config{BaseURL: srv.URL, APIKey: "pplx", Model: "sonar"}}
	s, err := c.Open(context.Background(), msgs)
	require.NoError(t, err)

	deltas, err := collect(t, s)
	require.NoError(t, err)
	require.Equal(t, []string{"Rates ", "rose."}, deltas)
	require.True(t, got.Stream)
	require.Equal(t, "sonar", got.Model)
}

func TestStreamWithoutDone(t *testing.T) {
	srv := httptest.NewServer(sseHandler(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n\n"))
	defer srv.Close()

	c := &StreamClient{Kind: KindPerplexity, Config: Config{BaseURL: srv.URL, APIKey: "k"}}
	s, err := c.Open(context.Background(), msgs)
	require.NoError(t, err)

	deltas, err := collect(t, s)
	require.NoError(t, err)
	require.Equal(t, []string{"partial"}, deltas)
}

func TestStreamMalformedFrame(t *testing.T) {
	srv := httptest.NewServer(sseHandler("data: {oops\n\n"))
	defer srv.Close()

	c := &StreamClient{Kind: KindPerplexity, Config: Config{BaseURL: srv.URL, APIKey: "k"}}
	s, err := c.Open(context.Background(), msgs)
	require.NoError(t, err)

	_, err = collect(t, s)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestStreamOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &StreamClient{Kind: KindPerplexity, Config: Config{BaseURL: srv.URL, APIKey: "k"}}
	_, err := c.Open(context.Background(), msgs)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, KindPerplexity, se.Provider)
}

func TestConfigured(t *testing.T) {
	require.True(t, Config{BaseURL: "https://api.openai.com/v1", APIKey: "k"}.Configured())
	require.False(t, Config{BaseURL: "https://api.openai.com/v1"}.Configured())
}
