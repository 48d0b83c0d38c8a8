package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
)

// maxEventBytes bounds a single SSE line from upstream.
const maxEventBytes = 1 << 20

// DeltaStream yields content deltas until io.EOF.
type DeltaStream interface {
	Next() (string, error)
	Close() error
}

// StreamClient opens streaming completion calls.
type StreamClient struct {
	Kind   Kind
	Config Config
}

func (c *StreamClient) Provider() Kind { return c.Kind }

// Open starts a stream. An error here means nothing was received, so the
// caller can still answer with a plain error response.
func (c *StreamClient) Open(ctx context.Context, msgs []chat.Message) (DeltaStream, error) {
	cancel := context.CancelFunc(func() {})
	if c.Config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Config.Timeout)
	}

	body, err := json.Marshal(completionRequest{
		Model:    c.Config.Model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := newRequest(ctx, c.Config, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.Config.client().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", c.Kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := statusError(c.Kind, resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	return &sseStream{kind: c.Kind, body: resp.Body, scanner: sc, cancel: cancel}, nil
}

type sseStream struct {
	kind    Kind
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    bool
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Next returns the next non-empty delta. Comments, keep-alives and frames
// without content are skipped.
func (s *sseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var c chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return "", fmt.Errorf("%s: %w: %v", s.kind, ErrMalformed, err)
		}
		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
			return c.Choices[0].Delta.Content, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%s: read stream: %w", s.kind, err)
	}
	// Upstream closed without [DONE]
	s.done = true
	return "", io.EOF
}

func (s *sseStream) Close() error {
	defer s.cancel()
	err := s.body.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
