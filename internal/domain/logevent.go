package domain

import (
	"encoding/json"
	"time"
)

// Service identifies the emitting service in a log event.
type Service struct {
	Name string `json:"name"`
}

// LogMeta carries the log level.
type LogMeta struct {
	Level string `json:"level,omitempty"`
}

// Trace carries an optional correlation id.
type Trace struct {
	ID string `json:"id,omitempty"`
}

// Span carries the name of the active span, when any.
type Span struct {
	Name string `json:"name,omitempty"`
}

// LogEvent is the wire format shared by the telemetry pipe and the
// ingest gateway. Shape follows the ECS-ish convention the index
// mappings expect: @timestamp, service.name, log.level, message.
type LogEvent struct {
	Timestamp *time.Time      `json:"@timestamp,omitempty"`
	Service   *Service        `json:"service,omitempty"`
	Log       *LogMeta        `json:"log,omitempty"`
	Message   string          `json:"message,omitempty"`
	Trace     *Trace          `json:"trace,omitempty"`
	Span      *Span           `json:"span,omitempty"`
	Labels    json.RawMessage `json:"labels,omitempty"`
	Fields    map[string]any  `json:"fields,omitempty"`
}

// ServiceName returns the service name or "unknown".
func (e *LogEvent) ServiceName() string {
	if e.Service != nil && e.Service.Name != "" {
		return e.Service.Name
	}
	return "unknown"
}
