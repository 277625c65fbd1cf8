// Package tui implements the terminal shell host: a splash page while the
// backend starts and a main page with the backend endpoints and its live log.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/tether/internal/process"
	"github.com/Paintersrp/tether/internal/shell"
	"github.com/Paintersrp/tether/internal/supervisor"
)

const (
	splashPage          = "splash"
	mainPage            = "main"
	logsTitle           = "Backend log"
	defaultLogRetention = 500
)

// Option configures Host behaviour.
type Option func(*Host)

// WithMaxLogs sets the number of backend log lines retained.
func WithMaxLogs(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.maxLogs = n
		}
	}
}

// WithScreen renders to screen instead of the terminal.
func WithScreen(screen tcell.Screen) Option {
	return func(h *Host) {
		h.app.SetScreen(screen)
	}
}

// Host is a shell.Host backed by tview.
type Host struct {
	app    *tview.Application
	pages  *tview.Pages
	splash *tview.TextView
	header *tview.TextView
	logs   *tview.TextView

	events   chan supervisor.Event
	ops      chan func()
	requests chan shell.RequestKind

	maxLogs int

	mu       sync.Mutex
	lines    []string
	state    supervisor.EventType
	message  string
	content  shell.Content
	mainOpen bool

	stopOnce sync.Once
	done     chan struct{}

	// crashed holds a panic recovered from the pump; Run re-raises it.
	crashed atomic.Pointer[pumpPanic]
}

type pumpPanic struct {
	value any
}

// New constructs a Host configured with the supplied options.
func New(opts ...Option) *Host {
	app := tview.NewApplication()

	splash := tview.NewTextView().SetTextAlign(tview.AlignCenter).SetDynamicColors(true)
	splash.SetText("\n\n[::b]Starting backend[::-]\n\nwaiting for the server to become ready...")
	splash.SetBorder(true)

	header := tview.NewTextView().SetDynamicColors(true)
	header.SetBorder(true).SetTitle("tether")

	logs := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(logs, 0, 1, true)

	pages := tview.NewPages().
		AddPage(mainPage, flex, true, false).
		AddPage(splashPage, splash, true, true)

	h := &Host{
		app:      app,
		pages:    pages,
		splash:   splash,
		header:   header,
		logs:     logs,
		events:   make(chan supervisor.Event, 256),
		ops:      make(chan func(), 32),
		requests: make(chan shell.RequestKind, 4),
		maxLogs:  defaultLogRetention,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	app.SetRoot(pages, true)
	app.SetInputCapture(h.handleKey)
	return h
}

func (h *Host) ShowSplash() shell.Surface {
	s := newSurface(h, splashPage)
	close(s.ready)
	h.enqueue(func() { h.pages.SwitchToPage(splashPage) })
	return s
}

func (h *Host) CreateMain(content shell.Content) shell.Surface {
	s := newSurface(h, mainPage)
	h.mu.Lock()
	h.content = content
	h.mu.Unlock()
	h.enqueue(func() {
		h.mu.Lock()
		h.renderHeaderLocked()
		h.mu.Unlock()
		close(s.ready)
	})
	return s
}

func (h *Host) Requests() <-chan shell.RequestKind {
	return h.requests
}

// Notify queues evt for display. It blocks while the queue is full and
// returns immediately once the host has exited.
func (h *Host) Notify(evt supervisor.Event) {
	select {
	case h.events <- evt:
	case <-h.done:
	}
}

// Run starts the tview application and applies queued updates until Exit is
// called or ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	go h.pump(ctx)
	go func() {
		select {
		case <-ctx.Done():
			h.Exit()
		case <-h.done:
		}
	}()

	err := h.app.Run()
	h.Exit()
	if p := h.crashed.Load(); p != nil {
		panic(p.value)
	}
	return err
}

// Exit stops the application loop.
func (h *Host) Exit() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.app.Stop()
	})
}

func (h *Host) enqueue(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.done:
	}
}

// pump applies surface operations in order and batches events between them.
func (h *Host) pump(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.crashed.Store(&pumpPanic{value: r})
			h.Exit()
		}
	}()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case fn := <-h.ops:
			h.app.QueueUpdateDraw(fn)
		case evt := <-h.events:
			h.applyEvent(evt)
			h.app.QueueUpdateDraw(h.render)
		case <-ticker.C:
			h.app.QueueUpdateDraw(h.render)
		}
	}
}

func (h *Host) request(kind shell.RequestKind) {
	select {
	case h.requests <- kind:
	default:
	}
}

func (h *Host) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlW:
		h.mu.Lock()
		open := h.mainOpen
		h.mu.Unlock()
		if open {
			h.request(shell.RequestCloseMain)
		} else {
			h.request(shell.RequestAllClosed)
		}
		return nil
	case tcell.KeyCtrlQ, tcell.KeyCtrlC:
		h.request(shell.RequestQuit)
		return nil
	case tcell.KeyRune:
		if event.Rune() == 'q' || event.Rune() == 'Q' {
			h.request(shell.RequestQuit)
			return nil
		}
	}
	return event
}

func (h *Host) applyEvent(evt supervisor.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if evt.Type != supervisor.EventTypeLog {
		h.state = evt.Type
		h.message = formatEventMessage(evt)
		h.appendLineLocked(fmt.Sprintf("[yellow]%s %s[-]", evt.Timestamp.Format(time.TimeOnly), tview.Escape(h.message)))
		return
	}

	color := "white"
	switch evt.Level {
	case "warn":
		color = "orange"
	case "error":
		color = "red"
	}
	source := evt.Source
	if source == "" {
		source = process.LogSourceStdout
	}
	h.appendLineLocked(fmt.Sprintf("[%s]%s %s %s[-]", color, evt.Timestamp.Format(time.TimeOnly), source, tview.Escape(evt.Message)))
}

func (h *Host) appendLineLocked(line string) {
	h.lines = append(h.lines, line)
	if len(h.lines) > h.maxLogs {
		trim := len(h.lines) - h.maxLogs
		h.lines = append([]string(nil), h.lines[trim:]...)
	}
}

func (h *Host) render() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.renderHeaderLocked()
	h.logs.SetText(strings.Join(h.lines, "\n"))
	h.logs.ScrollToEnd()
}

func (h *Host) renderHeaderLocked() {
	state := "-"
	if h.state != "" {
		state = formatState(h.state)
	}
	message := truncate(h.message, 80)
	h.header.SetText(fmt.Sprintf(
		"[::b]Backend[::-]   %s\n[::b]Frontend[::-]  %s\n[::b]Mode[::-]      %s\n[::b]State[::-]     %s  %s",
		h.content.BackendURL, h.content.FrontendURL, h.content.Mode, state, tview.Escape(message),
	))
}

// truncate shortens s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

func formatEventMessage(evt supervisor.Event) string {
	message := evt.Message
	if evt.Err != nil {
		if message != "" {
			message = fmt.Sprintf("%s: %v", message, evt.Err)
		} else {
			message = evt.Err.Error()
		}
	}
	if evt.Reason != "" {
		message = fmt.Sprintf("%s (%s)", message, evt.Reason)
	}
	return message
}

func formatState(t supervisor.EventType) string {
	s := string(t)
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type surface struct {
	host  *Host
	page  string
	ready chan struct{}
	once  sync.Once
}

func newSurface(h *Host, page string) *surface {
	return &surface{host: h, page: page, ready: make(chan struct{})}
}

func (s *surface) ReadyToShow() <-chan struct{} {
	return s.ready
}

// Show brings the page to the front, filling the terminal.
func (s *surface) Show() {
	if s.page == mainPage {
		s.host.mu.Lock()
		s.host.mainOpen = true
		s.host.mu.Unlock()
	}
	s.host.enqueue(func() {
		s.host.pages.SwitchToPage(s.page)
		if s.page == mainPage {
			s.host.app.SetFocus(s.host.logs)
		}
	})
}

func (s *surface) Close() {
	s.once.Do(func() {
		if s.page == mainPage {
			s.host.mu.Lock()
			s.host.mainOpen = false
			s.host.mu.Unlock()
		}
		s.host.enqueue(func() { s.host.pages.HidePage(s.page) })
	})
}

var _ shell.Host = (*Host)(nil)
