package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/tether/internal/supervisor"
)

// LogRecord is one backend output line or lifecycle event as written by the
// headless shell.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts a supervisor event into a record. A level token in the
// message wins over the stream default, since many servers log everything to
// stderr.
func NewLogRecord(event supervisor.Event) LogRecord {
	level := inferLogLevel(event.Message)
	if level == "" {
		level = event.Level
	}
	if level == "" {
		level = "info"
	}
	source := event.Source
	if source == "" {
		source = supervisor.LogSourceSystem
	}
	record := LogRecord{
		Timestamp: event.Timestamp,
		Type:      string(event.Type),
		Level:     level,
		Message:   RedactSecrets(event.Message),
		Source:    source,
		Reason:    event.Reason,
		Trigger:   string(event.Trigger),
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|warning|info|debug)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn", "warning":
		return "warn"
	case "info":
		return "info"
	case "debug":
		return "debug"
	default:
		return ""
	}
}

// EncodeLogEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event supervisor.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}
