package supervisor

import (
	"time"

	"github.com/Paintersrp/tether/internal/process"
)

// EventType captures high level lifecycle notifications emitted by the
// supervisor.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeReady    EventType = "ready"
	EventTypeStopping EventType = "stopping"
	EventTypeStopped  EventType = "stopped"
	EventTypeLog      EventType = "log"
	EventTypeError    EventType = "error"
	EventTypeCrashed  EventType = "crashed"
	EventTypeFailed   EventType = "failed"
)

// LogSourceSystem marks events produced by the supervisor itself rather than
// the backend's output streams.
const LogSourceSystem = "system"

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	Trigger   Trigger
	Reason    string
}

const (
	ReasonInitialStart  = "initial_start"
	ReasonStartFailure  = "start_failure"
	ReasonProbeReady    = "probe_ready"
	ReasonProbeTimeout  = "probe_timeout"
	ReasonInstanceCrash = "instance_crash"
	ReasonShutdown      = "shutdown"
	ReasonStopFailed    = "stop_failed"
)

func (s *Supervisor) sendEvent(t EventType, message, reason string, err error) {
	s.sendTriggered(t, "", message, reason, err)
}

// sendTriggered emits a lifecycle event attributed to the shutdown trigger that
// caused it.
func (s *Supervisor) sendTriggered(t EventType, trigger Trigger, message, reason string, err error) {
	if s.sink == nil {
		return
	}
	level := "info"
	switch t {
	case EventTypeError, EventTypeFailed:
		level = "error"
	case EventTypeCrashed:
		level = "warn"
	}
	s.sink(Event{
		Timestamp: time.Now(),
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    LogSourceSystem,
		Err:       err,
		Trigger:   trigger,
		Reason:    reason,
	})
}

func (s *Supervisor) sendLog(entry process.LogEntry) {
	if s.sink == nil {
		return
	}
	level := entry.Level
	if level == "" {
		level = "info"
	}
	s.sink(Event{
		Timestamp: time.Now(),
		Type:      EventTypeLog,
		Message:   entry.Message,
		Level:     level,
		Source:    entry.Source,
	})
}
