package shell

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/Paintersrp/tether/internal/cliutil"
	"github.com/Paintersrp/tether/internal/supervisor"
)

// Headless is a Host that renders nothing. Surfaces are ready immediately and
// their lifecycle is logged.
type Headless struct {
	logger   *slog.Logger
	requests chan RequestKind

	encMu  sync.Mutex
	enc    *json.Encoder
	stderr io.Writer

	exitOnce sync.Once
	exit     chan struct{}
}

// HeadlessOption configures a Headless host.
type HeadlessOption func(*Headless)

// WithEventOutput writes every notified event to w as one JSON record per
// line. Encoding failures are reported to stderr.
func WithEventOutput(w, stderr io.Writer) HeadlessOption {
	return func(h *Headless) {
		if w == nil {
			return
		}
		h.enc = json.NewEncoder(w)
		h.stderr = stderr
		if h.stderr == nil {
			h.stderr = io.Discard
		}
	}
}

// NewHeadless constructs a Headless host.
func NewHeadless(logger *slog.Logger, opts ...HeadlessOption) *Headless {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Headless{
		logger:   logger,
		requests: make(chan RequestKind, 4),
		exit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Headless) ShowSplash() Surface {
	h.logger.Info("splash shown")
	return newHeadlessSurface(h.logger, "splash")
}

func (h *Headless) CreateMain(content Content) Surface {
	h.logger.Info("main surface created", "backend_url", content.BackendURL, "frontend_url", content.FrontendURL, "mode", content.Mode)
	return newHeadlessSurface(h.logger, "main")
}

func (h *Headless) Requests() <-chan RequestKind {
	return h.requests
}

// Request raises kind as if the user had asked for it. It never blocks.
func (h *Headless) Request(kind RequestKind) {
	select {
	case h.requests <- kind:
	default:
		h.logger.Debug("dropping duplicate request", "request", kind)
	}
}

func (h *Headless) Notify(evt supervisor.Event) {
	if h.enc != nil {
		h.encMu.Lock()
		cliutil.EncodeLogEvent(h.enc, h.stderr, evt)
		h.encMu.Unlock()
	}
	if evt.Type == supervisor.EventTypeLog {
		return
	}
	h.logger.Debug("supervisor event", "type", evt.Type, "reason", evt.Reason, "message", evt.Message)
}

func (h *Headless) Run(ctx context.Context) error {
	select {
	case <-h.exit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Headless) Exit() {
	h.exitOnce.Do(func() { close(h.exit) })
}

type headlessSurface struct {
	logger *slog.Logger
	name   string
	ready  chan struct{}
	once   sync.Once
}

func newHeadlessSurface(logger *slog.Logger, name string) *headlessSurface {
	ready := make(chan struct{})
	close(ready)
	return &headlessSurface{logger: logger, name: name, ready: ready}
}

func (s *headlessSurface) ReadyToShow() <-chan struct{} {
	return s.ready
}

func (s *headlessSurface) Show() {
	s.logger.Info("surface shown", "surface", s.name)
}

func (s *headlessSurface) Close() {
	s.once.Do(func() {
		s.logger.Info("surface closed", "surface", s.name)
	})
}
