package http_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
	airhttp "github.com/aussiebroadwan/fintab/internal/airouter/http"
	"github.com/aussiebroadwan/fintab/internal/airouter/provider"
	"github.com/aussiebroadwan/fintab/internal/airouter/service"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// upstream is a fake OpenAI compatible API that records what it was sent.
type upstream struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies []string
}

func (u *upstream) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.bodies)
}

func (u *upstream) payloads() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return strings.Join(u.bodies, "\n")
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.bodies = append(u.bodies, string(b))
		u.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func answering(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": text}}},
		})
	}
}

func streaming(deltas ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": d}}}})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
			w.(http.Flusher).Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}
}

func failing(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", status)
	}
}

func newServer(t *testing.T, primary, secondary *upstream) *httptest.Server {
	t.Helper()

	sig, err := service.CompileSignature("")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rt := &service.Router{
		Primary: &provider.BatchClient{
			Kind:      provider.KindOpenAI,
			Config:    provider.Config{BaseURL: primary.srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"},
			MaxTokens: 800,
		},
		Signature: sig,
		Metrics:   service.NewMetrics(reg),
	}
	if secondary != nil {
		rt.Secondary = &provider.StreamClient{
			Kind:   provider.KindPerplexity,
			Config: provider.Config{BaseURL: secondary.srv.URL, APIKey: "pplx-test", Model: "sonar"},
		}
	}

	r := airhttp.NewRouter("test", nil, slogx.Discard())
	r.Chat = rt
	r.Gatherer = reg
	r.Providers = map[string]bool{"openai": true, "perplexity": secondary != nil}
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+airhttp.ChatPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readDeltas(t *testing.T, r io.Reader) ([]string, bool) {
	t.Helper()
	var (
		deltas []string
		done   bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			done = true
			break
		}
		var c airhttp.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(data), &c))
		require.Equal(t, "chat.completion.chunk", c.Object)
		require.Equal(t, "perplexity", c.Provider)
		deltas = append(deltas, c.Choices[0].Delta.Content)
	}
	require.NoError(t, sc.Err())
	return deltas, done
}

const realtimeQuestion = `{"wantRealtime":true,"messages":[{"role":"user","content":"What are mortgage rates today?"}]}`

func TestChatPrimaryJSON(t *testing.T) {
	primary := newUpstream(t, answering("Based on my research, saving 20% is a good target."))
	secondary := newUpstream(t, streaming("unused"))
	srv := newServer(t, primary, secondary)

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"How much should I save?"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body airhttp.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "openai", body.Provider)
	require.True(t, strings.HasPrefix(body.Response, "Saving 20% is a good target."))
	require.True(t, strings.HasSuffix(body.Response, service.Recommendation))
	require.Zero(t, secondary.calls())
}

func TestChatFallbackStreams(t *testing.T) {
	primary := newUpstream(t, answering("I don't have real-time data for today's rates."))
	secondary := newUpstream(t, streaming("Average 30-year ", "rates are 6.1%."))
	srv := newServer(t, primary, secondary)

	resp := postChat(t, srv, realtimeQuestion)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	deltas, done := readDeltas(t, resp.Body)
	require.True(t, done)
	require.Equal(t, []string{"Average 30-year ", "rates are 6.1%."}, deltas)
	require.Contains(t, secondary.payloads(), "What are mortgage rates today?")
	require.Contains(t, secondary.payloads(), `"stream":true`)
}

func TestChatPrimaryFailureStreams(t *testing.T) {
	primary := newUpstream(t, failing(http.StatusServiceUnavailable))
	secondary := newUpstream(t, streaming("fallback answer"))
	srv := newServer(t, primary, secondary)

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	deltas, _ := readDeltas(t, resp.Body)
	require.Equal(t, []string{"fallback answer"}, deltas)
}

func TestChatExhausted(t *testing.T) {
	t.Run("both fail", func(t *testing.T) {
		srv := newServer(t, newUpstream(t, failing(http.StatusInternalServerError)), newUpstream(t, failing(http.StatusBadGateway)))

		resp := postChat(t, srv, realtimeQuestion)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)

		var body airhttp.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "All AI providers failed", body.Error)
		require.Contains(t, body.Details, "502")
	})

	t.Run("no secondary", func(t *testing.T) {
		srv := newServer(t, newUpstream(t, failing(http.StatusInternalServerError)), nil)

		resp := postChat(t, srv, realtimeQuestion)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestChatRejectsBeforeCallingProviders(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown role", `{"messages":[{"role":"admin","content":"hi"}]}`, http.StatusBadRequest},
		{"non-string content", `{"messages":[{"role":"user","content":{"text":"hi"}}]}`, http.StatusBadRequest},
		{"no messages", `{"messages":[]}`, http.StatusBadRequest},
		{"malformed body", `{"messages":`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := newUpstream(t, answering("x"))
			secondary := newUpstream(t, streaming("x"))
			srv := newServer(t, primary, secondary)

			resp := postChat(t, srv, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)

			var body airhttp.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotEmpty(t, body.Error)

			require.Zero(t, primary.calls())
			require.Zero(t, secondary.calls())
		})
	}
}

func TestChatRedactsPII(t *testing.T) {
	for _, question := range []string{
		"Why was 4111111111111111 declined today?",
		"Why was pan_4111111111111111 declined today?",
		"Why was acct 41111111111111112222 declined today?",
		"Why was card#x4111111111111111abc declined today?",
	} {
		t.Run(question, func(t *testing.T) {
			primary := newUpstream(t, answering("I don’t have real-time data on that card."))
			secondary := newUpstream(t, streaming("ok"))
			srv := newServer(t, primary, secondary)

			body, err := json.Marshal(airhttp.ChatRequest{
				WantRealtime: true,
				Messages:     []chat.WireMessage{{Role: "user", Content: json.RawMessage(strconv.Quote(question))}},
			})
			require.NoError(t, err)

			resp := postChat(t, srv, string(body))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
			_, _ = io.Copy(io.Discard, resp.Body)

			for _, u := range []*upstream{primary, secondary} {
				require.Equal(t, 1, u.calls())
				require.NotContains(t, u.payloads(), "4111111111111111")
				require.Contains(t, u.payloads(), "[REDACTED]")
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t, newUpstream(t, answering("ok")), nil)
	_ = postChat(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health airhttp.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, map[string]bool{"openai": true, "perplexity": false}, health.Providers)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	b, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), `airouter_requests_total{route="primary"} 1`)
}
