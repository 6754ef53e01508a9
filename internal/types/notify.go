package types

import "time"

type BuildNotificationConfig struct {
	Endpoint string           `yaml:"endpoint" json:"endpoint"`
	Events   []BuildEventType `yaml:"events" json:"events"`
}

// Wants reports whether the config subscribes to the event type. An empty
// event list subscribes to everything.
func (c BuildNotificationConfig) Wants(event BuildEventType) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, candidate := range c.Events {
		if candidate == event {
			return true
		}
	}
	return false
}

type BuildEvent struct {
	Type       BuildEventType `json:"-"`
	RemoteName string         `json:"remoteName"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    string         `json:"message,omitempty"`
}
