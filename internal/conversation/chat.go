package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoChoices is returned when a reply carries no choices.
var ErrNoChoices = errors.New("chat reply has no choices")

// ChatClient asks the remote assistant for a reply.
type ChatClient interface {
	Complete(ctx context.Context, text string) (string, error)
}

// HTTPChatClient talks to the chat endpoint.
type HTTPChatClient struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPChatClient creates a client for endpoint. A nil client gets a
// default one with timeout.
func NewHTTPChatClient(endpoint string, client *http.Client, timeout time.Duration, logger zerolog.Logger) *HTTPChatClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPChatClient{
		endpoint: endpoint,
		client:   client,
		logger:   logger.With().Str("provider", "chat").Logger(),
	}
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete posts text and returns the first choice's content.
func (c *HTTPChatClient) Complete(ctx context.Context, text string) (string, error) {
	startTime := time.Now()

	body, err := json.Marshal(chatRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat error: status %d: %s", resp.StatusCode, bytes.TrimSpace(bodyBytes))
	}

	var reply chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(reply.Choices) == 0 {
		return "", ErrNoChoices
	}

	c.logger.Debug().Dur("latency", time.Since(startTime)).Msg("Chat reply received")
	return reply.Choices[0].Message.Content, nil
}
