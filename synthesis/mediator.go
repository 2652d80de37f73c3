package synthesis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request carries everything the mediator needs to produce a neutral text.
// PriorSynthesis and Feedback are set only on the regeneration path;
// Transcript is set only for discussion replies.
type Request struct {
	PerspectiveA   string   `json:"perspective_a"`
	PerspectiveB   string   `json:"perspective_b"`
	PriorSynthesis *string  `json:"prior_synthesis,omitempty"`
	Feedback       *string  `json:"feedback,omitempty"`
	Transcript     []string `json:"transcript,omitempty"`
}

// Stream yields text deltas until io.EOF. Abandoning a stream (Close before
// EOF) must have no side effects beyond dropping the connection.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Mediator is the external text-generation capability.
type Mediator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// HTTPMediator talks to a mediator endpoint that answers with server-sent
// events: `data: {"text":"<delta>"}` frames terminated by `data: [DONE]`.
type HTTPMediator struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPMediator(url, apiKey string) *HTTPMediator {
	return &HTTPMediator{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (m *HTTPMediator) Generate(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis: marshal mediator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("synthesis: build mediator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis: call mediator: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("synthesis: mediator status %d", resp.StatusCode)
	}

	return &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

type deltaFrame struct {
	Text string `json:"text"`
}

// Recv returns the next non-empty text delta. Malformed frames are skipped
// rather than failing the stream.
func (s *sseStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return "", io.EOF
		}
		var frame deltaFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		if frame.Text == "" {
			continue
		}
		return frame.Text, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("synthesis: read mediator stream: %w", err)
	}
	// Stream ended without a [DONE] frame; treat as truncation, not success.
	return "", fmt.Errorf("synthesis: mediator stream ended without terminator")
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
