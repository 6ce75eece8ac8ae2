package domain

import (
	"time"

	json "github.com/goccy/go-json"
)

// EventMeta is the subset of an event payload read for filtering.
// All fields are optional; a missing field never causes rejection.
type EventMeta struct {
	Type    string
	JobName string
	Branch  string
}

// payloadEnvelope mirrors the producer payload shape just enough to pull
// out the filterable fields.
type payloadEnvelope struct {
	Type     string `json:"type"`
	Pipeline struct {
		JobName string `json:"jobName"`
		Branch  string `json:"branch"`
	} `json:"pipeline"`
}

// ParseEventMeta extracts filterable metadata from a serialized event.
// Returns an error for payloads that are not valid JSON; callers decide
// whether to fail open.
func ParseEventMeta(payload string) (EventMeta, error) {
	var env payloadEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return EventMeta{}, err
	}
	return EventMeta{
		Type:    env.Type,
		JobName: env.Pipeline.JobName,
		Branch:  env.Pipeline.Branch,
	}, nil
}

// QueueEntry is an event held while the connection is down.
type QueueEntry struct {
	Payload    string
	EnqueuedAt time.Time
}
