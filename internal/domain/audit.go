package domain

import (
	"encoding/json"
	"time"
)

// LogType classifies an audit event.
type LogType string

const (
	LogTypeRequest  LogType = "request"
	LogTypeResponse LogType = "response"
	LogTypeError    LogType = "error"
	LogTypeWarning  LogType = "warning"
)

// LogEvent is a write-only audit record of something that happened in a request.
type LogEvent struct {
	ID       string    `json:"id"`
	Who      string    `json:"who"`
	When     time.Time `json:"when"`
	What     string    `json:"what"`
	ThreadID string    `json:"thread_id,omitempty"`
	LogType  LogType   `json:"log_type"`
}

// RunRecord is an audit copy of a remote run that reached a final state.
type RunRecord struct {
	ID        string
	RunID     string
	ThreadID  string
	Status    string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// ThreadRecord is an audit copy of a newly created remote thread.
type ThreadRecord struct {
	ID        string
	ThreadID  string
	Payload   json.RawMessage
	CreatedAt time.Time
}
