package webhooks

import (
	"time"
)

// Event types dispatched by the system.
const (
	EventFileTampered    = "file.tampered"
	EventFileUploaded    = "file.uploaded"
	EventEditGranted     = "edit.granted"
	EventEditCompleted   = "edit.completed"
	EventEditAbandoned   = "edit.abandoned"
	EventHealthDegraded  = "health.degraded"
	EventHealthRecovered = "health.recovered"
)

// Subscription is one configured receiver. An empty Events list receives
// every event type.
type Subscription struct {
	URL    string   `mapstructure:"url"`
	Secret string   `mapstructure:"secret"`
	Events []string `mapstructure:"events"`
}

// wants reports whether the subscription receives eventType.
func (s Subscription) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// Event is the JSON body POSTed to each subscriber.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
