package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/tether/internal/cliutil"
	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/launcher"
	"github.com/Paintersrp/tether/internal/probe"
	"github.com/Paintersrp/tether/internal/process"
	"github.com/Paintersrp/tether/internal/supervisor"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// journal records host and supervisor activity in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) index(entry string) int {
	for i, e := range j.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeSurface struct {
	name  string
	j     *journal
	ready chan struct{}
}

func (s *fakeSurface) ReadyToShow() <-chan struct{} { return s.ready }
func (s *fakeSurface) Show()                        { s.j.add("%s.show", s.name) }
func (s *fakeSurface) Close()                       { s.j.add("%s.close", s.name) }

type fakeHost struct {
	j         *journal
	requests  chan RequestKind
	exit      chan struct{}
	exitOnce  sync.Once
	content   Content
	mainReady chan struct{}
}

func newFakeHost(j *journal) *fakeHost {
	ready := make(chan struct{})
	close(ready)
	return &fakeHost{
		j:         j,
		requests:  make(chan RequestKind, 4),
		exit:      make(chan struct{}),
		mainReady: ready,
	}
}

func (h *fakeHost) ShowSplash() Surface {
	h.j.add("splash.open")
	ready := make(chan struct{})
	close(ready)
	return &fakeSurface{name: "splash", j: h.j, ready: ready}
}

func (h *fakeHost) CreateMain(content Content) Surface {
	h.j.add("main.create")
	h.content = content
	return &fakeSurface{name: "main", j: h.j, ready: h.mainReady}
}

func (h *fakeHost) Requests() <-chan RequestKind { return h.requests }
func (h *fakeHost) Notify(supervisor.Event)      {}

func (h *fakeHost) Run(ctx context.Context) error {
	select {
	case <-h.exit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHost) Exit() {
	h.exitOnce.Do(func() {
		h.j.add("host.exit")
		close(h.exit)
	})
}

type fakeSupervisor struct {
	j          *journal
	startErr   error
	healthyErr error
	// gate, when set, holds the termination sequence until closed.
	gate chan struct{}

	shutting atomic.Bool
	done     chan struct{}
	trigger  atomic.Value
	calls    atomic.Int32
}

func newFakeSupervisor(j *journal) *fakeSupervisor {
	return &fakeSupervisor{j: j, done: make(chan struct{})}
}

func (s *fakeSupervisor) Start(context.Context) error {
	s.j.add("sup.start")
	return s.startErr
}

func (s *fakeSupervisor) AwaitHealthy(ctx context.Context) error {
	if s.healthyErr != nil {
		return s.healthyErr
	}
	return nil
}

func (s *fakeSupervisor) Shutdown(trigger supervisor.Trigger) <-chan struct{} {
	s.calls.Add(1)
	if !s.shutting.CompareAndSwap(false, true) {
		return s.done
	}
	s.trigger.Store(trigger)
	s.j.add("sup.shutdown(%s)", trigger)
	go func() {
		if s.gate != nil {
			<-s.gate
		}
		s.j.add("sup.done")
		close(s.done)
	}()
	return s.done
}

func (s *fakeSupervisor) ShuttingDown() bool    { return s.shutting.Load() }
func (s *fakeSupervisor) Done() <-chan struct{} { return s.done }
func (s *fakeSupervisor) State() process.State  { return process.StateHealthy }
func (s *fakeSupervisor) PID() int              { return 4242 }

func (s *fakeSupervisor) Outcome() (supervisor.Outcome, bool) {
	select {
	case <-s.done:
		trigger, _ := s.trigger.Load().(supervisor.Trigger)
		return supervisor.Outcome{Trigger: trigger, Stage: supervisor.StageGraceful}, true
	default:
		return supervisor.Outcome{}, false
	}
}

func (s *fakeSupervisor) firstTrigger() supervisor.Trigger {
	trigger, _ := s.trigger.Load().(supervisor.Trigger)
	return trigger
}

type runResult struct {
	code int
	err  error
}

func runCoordinator(t *testing.T, coord *Coordinator) <-chan runResult {
	t.Helper()
	ch := make(chan runResult, 1)
	go func() {
		code, err := coord.Run(context.Background())
		ch <- runResult{code, err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not exit")
		return runResult{}
	}
}

func waitReady(t *testing.T, coord *Coordinator) {
	t.Helper()
	select {
	case <-coord.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("main surface never shown")
	}
}

func newTestCoordinator(t *testing.T, host Host, sup Supervisor) *Coordinator {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = config.ModeDevelopment
	coord, err := NewCoordinator(cfg, host, sup, quietLogger())
	require.NoError(t, err)
	return coord
}

func TestStartupShowsMainAfterReadiness(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	host.mainReady = make(chan struct{})
	sup := newFakeSupervisor(j)
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)

	require.Eventually(t, func() bool { return j.index("main.create") >= 0 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, -1, j.index("main.show"), "main must wait for ready-to-show")
	close(host.mainReady)
	waitReady(t, coord)

	require.Equal(t, []string{"splash.open", "sup.start", "main.create", "main.show", "splash.close"}, j.snapshot())
	require.Equal(t, "http://127.0.0.1:8000", host.content.BackendURL)
	require.Equal(t, "http://localhost:5173", host.content.FrontendURL)

	host.requests <- RequestCloseMain
	res := waitResult(t, result)
	require.NoError(t, res.err)
	require.Equal(t, 0, res.code)
	require.Equal(t, supervisor.TriggerWindowClose, sup.firstTrigger())
}

func TestMainWindowDestroyedOnlyAfterCleanup(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	sup.gate = make(chan struct{})
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)
	waitReady(t, coord)

	host.requests <- RequestCloseMain
	host.requests <- RequestCloseMain
	require.Eventually(t, func() bool { return sup.calls.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, -1, j.index("main.close"))
	require.Equal(t, -1, j.index("host.exit"))

	close(sup.gate)
	waitResult(t, result)

	require.Less(t, j.index("sup.done"), j.index("main.close"))
	require.Less(t, j.index("main.close"), j.index("host.exit"))
	shutdowns := 0
	for _, e := range j.snapshot() {
		if strings.HasPrefix(e, "sup.shutdown") {
			shutdowns++
		}
	}
	require.Equal(t, 1, shutdowns)
}

func TestQuitIsDeferredUntilCleanupCompletes(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	sup.gate = make(chan struct{})
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)
	waitReady(t, coord)

	res, err := coord.Quit(context.Background())
	require.NoError(t, err)
	require.True(t, res.Accepted)
	again, _ := coord.Quit(context.Background())
	require.False(t, again.Accepted)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, -1, j.index("host.exit"))

	close(sup.gate)
	out := waitResult(t, result)
	require.Equal(t, 0, out.code)
	require.Equal(t, supervisor.TriggerBeforeQuit, sup.firstTrigger())
}

func TestSpawnFailureExitsWithoutMainSurface(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	sup.startErr = &launcher.SpawnError{Path: "resources/backend", Err: launcher.ErrExecutableNotFound}
	coord := newTestCoordinator(t, host, sup)

	res := waitResult(t, runCoordinator(t, coord))

	require.Equal(t, 1, res.code)
	require.Equal(t, -1, j.index("main.create"))
	require.GreaterOrEqual(t, j.index("splash.close"), 0)
	require.Equal(t, supervisor.TriggerFatal, sup.firstTrigger())
}

// crashingHost panics out of its loop once the main surface has been created.
type crashingHost struct {
	*fakeHost
	created chan struct{}
	once    sync.Once
}

func (h *crashingHost) CreateMain(content Content) Surface {
	s := h.fakeHost.CreateMain(content)
	h.once.Do(func() { close(h.created) })
	return s
}

func (h *crashingHost) Run(ctx context.Context) error {
	select {
	case <-h.created:
	case <-ctx.Done():
		return ctx.Err()
	}
	panic("render failed")
}

func TestHostLoopPanicCleansUpAndExitsOne(t *testing.T) {
	j := &journal{}
	host := &crashingHost{fakeHost: newFakeHost(j), created: make(chan struct{})}
	sup := newFakeSupervisor(j)
	coord := newTestCoordinator(t, host, sup)

	res := waitResult(t, runCoordinator(t, coord))

	require.Equal(t, 1, res.code)
	require.ErrorContains(t, res.err, "render failed")
	require.Equal(t, supervisor.TriggerFatal, sup.firstTrigger())
	select {
	case <-sup.Done():
	default:
		t.Fatal("run returned before backend cleanup finished")
	}
}

func TestHealthTimeoutExitsWithoutMainSurface(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	sup.healthyErr = &probe.HealthTimeoutError{Attempts: 60}
	coord := newTestCoordinator(t, host, sup)

	res := waitResult(t, runCoordinator(t, coord))

	require.Equal(t, 1, res.code)
	require.Equal(t, -1, j.index("main.create"))
	require.Equal(t, supervisor.TriggerFatal, sup.firstTrigger())
}

func TestInterruptExitsCleanly(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)
	waitReady(t, coord)
	coord.Interrupt()
	coord.Interrupt()

	res := waitResult(t, result)
	require.Equal(t, 0, res.code)
	require.Equal(t, supervisor.TriggerSignal, sup.firstTrigger())
}

func TestFatalAfterSignalKeepsExitCode(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	sup.gate = make(chan struct{})
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)
	waitReady(t, coord)
	coord.Fatal(errors.New("unexpected"))
	coord.Interrupt()
	close(sup.gate)

	res := waitResult(t, result)
	require.Equal(t, 1, res.code)
	require.Equal(t, supervisor.TriggerFatal, sup.firstTrigger())
}

func TestPanicInRoutineTriggersFatalShutdown(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)
	waitReady(t, coord)
	go coord.guard(func() { panic("boom") })

	res := waitResult(t, result)
	require.Equal(t, 1, res.code)
	require.Equal(t, supervisor.TriggerFatal, sup.firstTrigger())
}

func TestStatusReport(t *testing.T) {
	j := &journal{}
	host := newFakeHost(j)
	sup := newFakeSupervisor(j)
	coord := newTestCoordinator(t, host, sup)

	result := runCoordinator(t, coord)
	waitReady(t, coord)

	report, err := coord.Status(context.Background())
	require.NoError(t, err)
	require.True(t, report.Ready)
	require.Equal(t, "healthy", report.State)
	require.Equal(t, 4242, report.PID)
	require.Equal(t, "development", report.Mode)
	require.Nil(t, report.Shutdown)

	coord.Interrupt()
	waitResult(t, result)

	report, err = coord.Status(context.Background())
	require.NoError(t, err)
	require.False(t, report.Ready)
	require.True(t, report.ShuttingDown)
	require.Equal(t, "signal", report.Shutdown.Trigger)
}

func TestFrontendURL(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeDevelopment
	got, err := FrontendURL(cfg)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:5173", got)

	cfg.Mode = config.ModePackaged
	cfg.UI.BuildIndex = filepath.Join(t.TempDir(), "build", "index.html")
	got, err = FrontendURL(cfg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "file:///"), got)
	require.True(t, strings.HasSuffix(got, "/build/index.html"), got)
}

func TestHeadlessHost(t *testing.T) {
	host := NewHeadless(quietLogger())
	splash := host.ShowSplash()
	select {
	case <-splash.ReadyToShow():
	default:
		t.Fatal("headless surfaces are ready immediately")
	}
	splash.Close()
	splash.Close()

	host.Request(RequestQuit)
	require.Equal(t, RequestQuit, <-host.Requests())

	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(context.Background()) }()
	host.Exit()
	host.Exit()
	require.NoError(t, <-errCh)
}

func TestHeadlessEventOutput(t *testing.T) {
	var out bytes.Buffer
	host := NewHeadless(quietLogger(), WithEventOutput(&out, nil))
	host.Notify(supervisor.Event{Type: supervisor.EventTypeLog, Message: "SECRET_KEY=abc", Source: "stdout", Level: "info"})
	host.Notify(supervisor.Event{Type: supervisor.EventTypeReady, Message: "backend ready", Reason: supervisor.ReasonProbeReady})

	dec := json.NewDecoder(&out)
	var first, second cliutil.LogRecord
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.Equal(t, "log", first.Type)
	require.Equal(t, "SECRET_KEY=[redacted]", first.Message)
	require.Equal(t, "ready", second.Type)
	require.Equal(t, supervisor.ReasonProbeReady, second.Reason)
}

func TestRequestKindTrigger(t *testing.T) {
	require.Equal(t, supervisor.TriggerWindowClose, RequestCloseMain.Trigger())
	require.Equal(t, supervisor.TriggerAllClosed, RequestAllClosed.Trigger())
	require.Equal(t, supervisor.TriggerBeforeQuit, RequestQuit.Trigger())
	require.Equal(t, "close-main", RequestCloseMain.String())
}
