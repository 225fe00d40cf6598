// Package logger provides structured JSON logging to stderr with an
// optional sink that forwards every entry to the telemetry pipe.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a LOG_LEVEL string to a Level; unknown values mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Sink receives a copy of every emitted entry. Enqueue must never
// block; the telemetry pipe satisfies this.
type Sink interface {
	Enqueue(ev domain.LogEvent) bool
}

// Logger provides structured JSON logging.
type Logger struct {
	level   Level
	mu      sync.Mutex
	service string
	sink    Sink
}

var defaultLogger = &Logger{level: INFO}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetService sets the service name stamped on forwarded entries.
func SetService(name string) { defaultLogger.service = name }

// SetSink installs a forwarding sink. Pass nil to detach.
func SetSink(s Sink) { defaultLogger.sink = s }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	now := time.Now().UTC()
	entry := map[string]interface{}{
		"time":  now.Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	if l.service != "" {
		entry["service"] = l.service
	}

	// Parse key-value pairs from fields
	extra := make(map[string]any, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := sanitizeValue(key, fmt.Sprintf("%v", fields[i+1]))
		entry[key] = val
		extra[key] = val
	}

	// JSON output
	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	l.mu.Unlock()

	if l.sink != nil {
		ev := domain.LogEvent{
			Timestamp: &now,
			Service:   &domain.Service{Name: l.service},
			Log:       &domain.LogMeta{Level: levelNames[level]},
			Message:   msg,
		}
		if len(extra) > 0 {
			ev.Fields = extra
		}
		l.sink.Enqueue(ev)
	}
}
