package keiro

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StreamOutcomes subscribes to the server's outcome event stream and calls
// fn for every recorded outcome. It blocks until ctx is canceled or the
// server closes the stream, returning ctx.Err() in the first case and nil
// in the second.
//
// The stream bypasses the configured request timeout, which would otherwise
// sever the long-lived connection. Reconnecting after an error is the
// caller's responsibility.
func (c *Client) StreamOutcomes(ctx context.Context, fn func(OutcomeEvent)) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return fmt.Errorf("keiro: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	// Same transport as regular requests, but no client timeout.
	stream := &http.Client{Transport: c.client.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("keiro: GET /v1/events: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("keiro: event stream failed with status %d", resp.StatusCode)
		}
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line terminates one event.
			if eventType == "outcome" && data != "" {
				var ev OutcomeEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					return fmt.Errorf("keiro: decode outcome event: %w", err)
				}
				fn(ev)
			}
			eventType, data = "", ""
		case strings.HasPrefix(line, ":"):
			// Comment line, used by the server as a keepalive.
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("keiro: read event stream: %w", err)
	}
	return nil
}
