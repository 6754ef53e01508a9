package notify

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"esm-federation/internal/types"
)

// writeEvent writes one build event in text/event-stream framing.
func writeEvent(w io.Writer, event types.BuildEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

func writeComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}

type rawEvent struct {
	name string
	data string
}

// readEvents scans an event stream and calls dispatch for every complete
// event. It returns when the stream ends or dispatch returns false.
func readEvents(body io.Reader, dispatch func(rawEvent) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	name := "message"
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				payload := strings.TrimSuffix(data.String(), "\n")
				if !dispatch(rawEvent{name: name, data: payload}) {
					return nil
				}
			}
			name = "message"
			data.Reset()
			continue
		}
		switch {
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		}
	}
	return scanner.Err()
}

func decodeBuildEvent(raw rawEvent) (types.BuildEvent, bool) {
	eventType := types.BuildEventType(raw.name)
	switch eventType {
	case types.BuildEventStart, types.BuildEventComplete, types.BuildEventError:
	default:
		return types.BuildEvent{}, false
	}
	var event types.BuildEvent
	if err := json.Unmarshal([]byte(raw.data), &event); err != nil {
		return types.BuildEvent{}, false
	}
	event.Type = eventType
	return event, true
}
