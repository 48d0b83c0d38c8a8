package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aussiebroadwan/fintab/internal/airouter/chat"
)

// maxResponseBytes bounds a batch response body.
const maxResponseBytes = 4 << 20

// BatchClient makes single, non-streaming completion calls.
type BatchClient struct {
	Kind      Kind
	Config    Config
	MaxTokens int
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete never returns an error, failures are carried in the Result.
func (c *BatchClient) Complete(ctx context.Context, msgs []chat.Message) Result {
	text, err := c.complete(ctx, msgs)
	return Result{Provider: c.Kind, Text: text, Err: err}
}

func (c *BatchClient) complete(ctx context.Context, msgs []chat.Message) (string, error) {
	if c.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(completionRequest{
		Model:     c.Config.Model,
		Messages:  msgs,
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := newRequest(ctx, c.Config, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Config.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(c.Kind, resp)
	}

	var out completionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: %w: %v", c.Kind, ErrMalformed, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s: %w: no content", c.Kind, ErrMalformed)
	}
	return out.Choices[0].Message.Content, nil
}

