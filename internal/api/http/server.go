package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/tether/internal/api"
	"github.com/Paintersrp/tether/internal/metrics"
)

const (
	defaultAddr            = "127.0.0.1:7663"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config controls construction of the status server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing shell status and quit controls.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if isNilController(cfg.Controller) {
		return nil, fmt.Errorf("controller is required (got %T)", cfg.Controller)
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

func isNilController(ctrl api.Controller) bool {
	if ctrl == nil {
		return true
	}
	v := reflect.ValueOf(ctrl)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Run starts serving until the provided context is cancelled.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	go func() {
		var err error
		if s.listener != nil {
			err = s.srv.Serve(s.listener)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	err := <-errCh
	close(stop)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("/api/v1/status", allow(http.MethodGet, s.handleStatus))
	mux.Handle("/api/v1/ready", allow(http.MethodGet, s.handleReady))
	mux.Handle("/api/v1/quit", allow(http.MethodPost, s.handleQuit))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

// allow rejects requests whose method is not method with a JSON 405.
func allow(method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{
				Code:    "method_not_allowed",
				Message: fmt.Sprintf("method %s not allowed", r.Method),
				Time:    time.Now().UTC(),
			})
			return
		}
		h(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleReady answers 200 once the main surface is up and 503 otherwise, so
// the presentation layer can poll it without parsing the full report.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	body := readyBody{State: "unknown"}
	if report != nil {
		body = readyBody{Ready: report.Ready, State: report.State, BackendURL: report.BackendURL}
	}
	status := http.StatusServiceUnavailable
	if body.Ready {
		status = http.StatusOK
	}
	writeJSON(w, status, body)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	result, err := s.ctrl.Quit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	body := quitBody{Quit: result}
	if report, statusErr := s.ctrl.Status(r.Context()); statusErr == nil {
		body.Status = report
	}
	writeJSON(w, http.StatusAccepted, body)
}

type readyBody struct {
	Ready      bool   `json:"ready"`
	State      string `json:"state"`
	BackendURL string `json:"backend_url,omitempty"`
}

type quitBody struct {
	Quit   *api.QuitResult   `json:"quit"`
	Status *api.StatusReport `json:"status,omitempty"`
}

type errorBody struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeJSON(w, status, errorBody{Code: code, Message: err.Error(), Time: time.Now().UTC()})
}

// StatusClientClosedRequest is the non-standard status used when the client
// went away before the controller answered.
const StatusClientClosedRequest = 499

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return StatusClientClosedRequest, "context_canceled"
	case errors.Is(err, stdcontext.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// If parsing failed, trust caller.
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
