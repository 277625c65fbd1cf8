// Package shell coordinates the presentation surfaces with the backend
// supervisor: the splash while the backend starts, the main surface once it is
// ready, and the routing of every close and quit request into shutdown.
package shell

import (
	"context"

	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/supervisor"
)

// Content is everything the main surface needs to render the frontend.
type Content struct {
	BackendURL  string
	FrontendURL string
	Mode        config.Mode
}

// Surface is a window managed by a Host.
type Surface interface {
	// ReadyToShow is closed once the surface has rendered and can be shown
	// without flashing.
	ReadyToShow() <-chan struct{}
	Show()
	// Close destroys the surface. It may be called more than once.
	Close()
}

// RequestKind identifies a close or quit request raised by the Host.
type RequestKind int

const (
	// RequestCloseMain is raised when the user closes the main window.
	RequestCloseMain RequestKind = iota
	// RequestAllClosed is raised when the last window has closed.
	RequestAllClosed
	// RequestQuit is raised when the application is asked to quit.
	RequestQuit
)

func (k RequestKind) String() string {
	switch k {
	case RequestCloseMain:
		return "close-main"
	case RequestAllClosed:
		return "all-closed"
	case RequestQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Trigger maps a request to the shutdown trigger it raises.
func (k RequestKind) Trigger() supervisor.Trigger {
	switch k {
	case RequestCloseMain:
		return supervisor.TriggerWindowClose
	case RequestAllClosed:
		return supervisor.TriggerAllClosed
	default:
		return supervisor.TriggerBeforeQuit
	}
}

// Host renders surfaces and runs the UI loop.
type Host interface {
	ShowSplash() Surface
	CreateMain(Content) Surface
	// Requests delivers close and quit requests raised by the user.
	Requests() <-chan RequestKind
	// Notify receives supervisor events. It must not block.
	Notify(supervisor.Event)
	// Run blocks running the UI loop until Exit is called or ctx ends.
	Run(ctx context.Context) error
	// Exit stops the UI loop.
	Exit()
}
