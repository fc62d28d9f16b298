package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"go.uber.org/zap"
)

// StreamEvent is one server-sent event from the creator event stream.
type StreamEvent struct {
	Name    string
	Payload api.LinkEvent
}

// StreamEvents subscribes to the caller's link changes and invokes fn for each event until ctx is done
// or the server closes the stream. Heartbeats are delivered too.
func (c *Client) StreamEvents(ctx context.Context, fn func(StreamEvent)) error {
	request, err := c.newRequest(ctx, http.MethodGet, "/links/events", true, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")

	streamClient := *c.httpClient
	streamClient.Timeout = 0
	response, err := streamClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("remote: open event stream: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeError(response)
	}

	reader := bufio.NewReader(response.Body)
	eventName := ""
	var data strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("remote: read event stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatchEvent(eventName, data.String(), fn)
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (c *Client) dispatchEvent(name, data string, fn func(StreamEvent)) {
	var payload api.LinkEvent
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		c.logger.Warn("discarding malformed stream event", zap.String("event", name), zap.Error(err))
		return
	}
	fn(StreamEvent{Name: name, Payload: payload})
}
