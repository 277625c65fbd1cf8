package cliutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Paintersrp/tether/internal/process"
	"github.com/Paintersrp/tether/internal/supervisor"
)

func encode(t *testing.T, event supervisor.Event) LogRecord {
	t.Helper()
	var out bytes.Buffer
	var errBuf bytes.Buffer
	EncodeLogEvent(json.NewEncoder(&out), &errBuf, event)
	if errBuf.Len() != 0 {
		t.Fatalf("unexpected stderr output: %s", errBuf.String())
	}
	var record LogRecord
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("failed to unmarshal log record: %v", err)
	}
	return record
}

func TestEncodeLogEventInfersLevel(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		level    string
		expected string
	}{
		{name: "errorToken", message: "[ERROR] failed to bind", expected: "error"},
		{name: "warningToken", message: "WARNING: reload enabled", level: "info", expected: "warn"},
		{name: "infoOnStderr", message: "INFO:     Application startup complete.", level: "warn", expected: "info"},
		{name: "streamDefault", message: "listening", level: "warn", expected: "warn"},
		{name: "noTokenDefaults", message: "server started", expected: "info"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := encode(t, supervisor.Event{
				Timestamp: time.Unix(0, 0),
				Type:      supervisor.EventTypeLog,
				Message:   tc.message,
				Level:     tc.level,
				Source:    process.LogSourceStderr,
			})
			if record.Level != tc.expected {
				t.Fatalf("expected level %q, got %q", tc.expected, record.Level)
			}
		})
	}
}

func TestEncodeLogEventLifecycle(t *testing.T) {
	record := encode(t, supervisor.Event{
		Type:    supervisor.EventTypeFailed,
		Message: "backend did not become ready",
		Reason:  supervisor.ReasonProbeTimeout,
		Err:     errors.New("connect: DB_PASSWORD=hunter2 rejected"),
	})
	if record.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be filled")
	}
	if record.Source != supervisor.LogSourceSystem {
		t.Fatalf("expected system source, got %q", record.Source)
	}
	if record.Type != "failed" || record.Reason != supervisor.ReasonProbeTimeout {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Error != "connect: DB_PASSWORD=[redacted] rejected" {
		t.Fatalf("error not redacted: %q", record.Error)
	}
}

func TestEncodeLogEventShutdownTrigger(t *testing.T) {
	record := encode(t, supervisor.Event{
		Type:    supervisor.EventTypeStopped,
		Message: "backend stopped",
		Reason:  supervisor.ReasonShutdown,
		Trigger: supervisor.TriggerSignal,
	})
	if record.Trigger != "signal" {
		t.Fatalf("expected signal trigger, got %q", record.Trigger)
	}
}

func TestEncodeLogEventNilEncoder(t *testing.T) {
	var errBuf bytes.Buffer
	EncodeLogEvent(nil, &errBuf, supervisor.Event{Message: "ignored"})
	if errBuf.Len() != 0 {
		t.Fatalf("unexpected output: %s", errBuf.String())
	}
}
