package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
	"github.com/aussiebroadwan/fintab/internal/airouter/service"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

const maxBodyBytes = 1 << 20

type ChatRequest struct {
	Messages     []chat.WireMessage `json:"messages"`
	WantRealtime bool               `json:"wantRealtime"`
}

type ChatResponse struct {
	Response string `json:"response"`
	Provider string `json:"provider"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StreamChunk is an OpenAI style chat.completion.chunk frame.
type StreamChunk struct {
	Object   string        `json:"object"`
	Provider string        `json:"provider"`
	Choices  []StreamDelta `json:"choices"`
}

type StreamDelta struct {
	Index int `json:"index"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// ChatHandler serves the routed chat endpoint. The answer is JSON unless the
// secondary provider was chosen, in which case it is relayed as SSE.
type ChatHandler struct {
	Router *service.Router
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req ChatRequest
	if err := httpx.DecodeJSON(r, maxBodyBytes, &req); err != nil {
		log.Warn("failed to parse request", slog.Any("error", err))
		httpx.WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	msgs, err := chat.Validate(req.Messages)
	if err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx = slogx.With(ctx, slog.Int("messages", len(msgs)), slog.Bool("want_realtime", req.WantRealtime))
	out, err := h.Router.Route(ctx, service.Request{Messages: msgs, WantRealtime: req.WantRealtime})
	var exhausted *service.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		httpx.WriteJSON(w, http.StatusBadGateway, ErrorResponse{Error: "All AI providers failed", Details: err.Error()})
		return
	case err != nil:
		slogx.FromContext(ctx).Error("routing failed", slog.Any("error", err))
		httpx.WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	switch out.Route {
	case service.RouteSecondary:
		writeStream(w, r, out)
	default:
		httpx.WriteJSON(w, http.StatusOK, ChatResponse{Response: out.Text, Provider: out.Provider.String()})
	}
}

// writeStream relays deltas as they arrive. Once headers are out the status
// is fixed, so an upstream failure ends the stream with an error frame.
func writeStream(w http.ResponseWriter, r *http.Request, out service.Outcome) {
	log := slogx.FromContext(r.Context())
	defer func() {
		if err := out.Stream.Close(); err != nil {
			log.Debug("closing upstream stream", slog.Any("error", err))
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() {
		if err := rc.Flush(); err != nil {
			log.Debug("flush failed", slog.Any("error", err))
		}
	}

	enc := json.NewEncoder(w)
	provider := out.Provider.String()
	for {
		delta, err := out.Stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn("upstream stream failed", slog.Any("error", err))
			_, _ = io.WriteString(w, "data: {\"error\":\"stream error\"}\n\n")
			flush()
			return
		}

		chunk := StreamChunk{Object: "chat.completion.chunk", Provider: provider, Choices: make([]StreamDelta, 1)}
		chunk.Choices[0].Delta.Content = delta

		// Encode adds the newline that ends the data line
		_, _ = io.WriteString(w, "data: ")
		if err := enc.Encode(chunk); err != nil {
			return
		}
		_, _ = io.WriteString(w, "\n")
		flush()
	}

	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flush()
}
