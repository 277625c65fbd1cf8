package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxReadinessBody = 1 << 20

// ErrMarkerMissing reports a successful response that did not carry the
// readiness marker, which usually means another service owns the port.
var ErrMarkerMissing = errors.New("readiness marker missing from response")

// HTTPProber issues GET requests against the backend's readiness endpoint.
type HTTPProber struct {
	client *http.Client
	url    string
	marker string
}

// NewHTTPProber constructs a prober for url that requires marker in the JSON
// message field.
func NewHTTPProber(url, marker string) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{},
		url:    url,
		marker: marker,
	}
}

// URL returns the polled endpoint.
func (p *HTTPProber) URL() string {
	return p.url
}

func (p *HTTPProber) Probe(ctx context.Context) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("request: %w", err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()

	res := Result{Status: resp.StatusCode}
	body := io.LimitReader(resp.Body, maxReadinessBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, body)
		res.Err = fmt.Errorf("status=%d", resp.StatusCode)
		return res
	}

	var payload struct {
		Message *string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		res.Err = fmt.Errorf("decode readiness body: %w", err)
		return res
	}
	if payload.Message == nil || !strings.Contains(*payload.Message, p.marker) {
		res.Err = ErrMarkerMissing
		return res
	}
	res.Marker = true
	return res
}

var _ Prober = (*HTTPProber)(nil)
