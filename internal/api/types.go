package api

import (
	stdcontext "context"
	"time"
)

// ShutdownReport describes how the termination sequence ended.
type ShutdownReport struct {
	Trigger string `json:"trigger"`
	Stage   string `json:"stage"`
	Error   string `json:"error,omitempty"`
}

// StatusReport describes the backend as seen by the shell.
type StatusReport struct {
	State        string          `json:"state"`
	Ready        bool            `json:"ready"`
	PID          int             `json:"pid,omitempty"`
	Mode         string          `json:"mode"`
	BackendURL   string          `json:"backend_url"`
	FrontendURL  string          `json:"frontend_url"`
	ShuttingDown bool            `json:"shutting_down"`
	Shutdown     *ShutdownReport `json:"shutdown,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// QuitResult reports whether a quit request started the shutdown sequence.
type QuitResult struct {
	Accepted    bool      `json:"accepted"`
	RequestedAt time.Time `json:"requested_at"`
}

// Controller exposes shell operations required by the status server.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Quit(stdcontext.Context) (*QuitResult, error)
}
