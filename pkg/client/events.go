package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

// Event is a server-to-client notification received on an event stream.
type Event struct {
	Method string
	Params json.RawMessage
}

// LogMessage decodes a notifications/message event.
func (e Event) LogMessage() (*mcp.LoggingMessageParams, error) {
	if e.Method != mcp.MethodLogMessage {
		return nil, fmt.Errorf("event %s is not %s", e.Method, mcp.MethodLogMessage)
	}
	var params mcp.LoggingMessageParams
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return nil, fmt.Errorf("failed to decode %s params: %w", e.Method, err)
	}
	return &params, nil
}

// Events opens an event stream for the session. The returned channel is
// closed when ctx is cancelled, the session closes or the server drops the
// stream. Comments and undecodable frames are skipped.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	if c.SessionID() == "" {
		return nil, ErrNoSession
	}

	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %w", ErrSessionGone, statusError(resp))
		}
		return nil, statusError(resp)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			msg, err := mcp.DecodeMessage([]byte(strings.TrimSpace(data)))
			if err != nil {
				c.logger.Debug("skipping undecodable event", "error", err)
				continue
			}
			note, ok := msg.(*jsonrpc.Request)
			if !ok {
				continue
			}
			select {
			case events <- Event{Method: note.Method, Params: note.Params}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
