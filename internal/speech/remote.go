package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RemoteSynthesizer posts text to a natural-voice endpoint and returns the
// audio it answers with.
type RemoteSynthesizer struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewRemoteSynthesizer creates a client for endpoint. A nil client gets a
// default one with timeout.
func NewRemoteSynthesizer(endpoint string, client *http.Client, timeout time.Duration, logger zerolog.Logger) *RemoteSynthesizer {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteSynthesizer{
		endpoint: endpoint,
		client:   client,
		logger:   logger.With().Str("provider", "naturalvoice").Logger(),
	}
}

// Synthesize sends the trimmed text as an SSML body.
func (s *RemoteSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	startTime := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(strings.TrimSpace(text)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/ssml+xml")

	s.logger.Debug().Int("textLen", len(text)).Msg("Sending synthesis request")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("synthesis error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	s.logger.Info().
		Int("audioBytes", len(audioData)).
		Dur("processingTime", time.Since(startTime)).
		Msg("Remote synthesis complete")
	return audioData, nil
}
