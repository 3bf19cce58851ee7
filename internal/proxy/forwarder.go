package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/multifinance/gateway/internal/registry"
)

// Forward outcomes the gateway translates into envelope responses.
// ErrClientGone, ErrRequestTooLarge and ErrResponseTooLarge never count
// against the breaker; timeouts, unreachable downstreams, interrupted
// streams and any other forward error do.
var (
	ErrUpstreamTimeout     = errors.New("downstream request timed out")
	ErrUpstreamUnreachable = errors.New("downstream connection failed")
	ErrClientGone          = errors.New("client canceled the request")
	ErrRequestTooLarge     = errors.New("request body exceeds limit")
	ErrResponseTooLarge    = errors.New("response body exceeds limit")

	// ErrStreamInterrupted means the response status and headers were
	// already committed when the stream broke; the caller can only tear
	// the connection down.
	ErrStreamInterrupted = errors.New("response stream interrupted")
)

// Identity carries the per-request context propagated to downstreams.
type Identity struct {
	CorrelationID string
	UserID        string
	TenantID      string
	Roles         []string
}

// hop-by-hop headers are stripped in both directions.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config holds forwarder limits.
type Config struct {
	MaxRequestBody  int64
	MaxResponseBody int64
}

// Forwarder builds and executes downstream calls, streaming bodies in both
// directions. One shared client reuses connections across all forwards.
type Forwarder struct {
	client          *http.Client
	maxRequestBody  int64
	maxResponseBody int64
	log             zerolog.Logger
}

// NewForwarder creates a forwarder with a hardened shared transport.
func NewForwarder(cfg Config, log zerolog.Logger) *Forwarder {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Forwarder{
		client:          &http.Client{Transport: transport},
		maxRequestBody:  cfg.MaxRequestBody,
		maxResponseBody: cfg.MaxResponseBody,
		log:             log,
	}
}

// Forward proxies the inbound request to the resolved service and streams
// the downstream response back. The original path and query are preserved;
// the service's timeout bounds the whole call.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, svc *registry.Service, id Identity) error {
	ctx, cancel := context.WithTimeout(r.Context(), svc.Timeout)
	defer cancel()

	targetURL := svc.BaseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = http.MaxBytesReader(w, r.Body, f.maxRequestBody)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		return err
	}

	copyHeaders(req.Header, r.Header)
	req.Header.Set("X-Correlation-Id", id.CorrelationID)
	if id.UserID != "" {
		req.Header.Set("X-User-Id", id.UserID)
	}
	if id.TenantID != "" {
		req.Header.Set("X-Tenant-Id", id.TenantID)
	}
	if len(id.Roles) > 0 {
		req.Header.Set("X-User-Roles", strings.Join(id.Roles, ","))
	}

	f.log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("service", svc.Name).
		Str("correlation_id", id.CorrelationID).
		Msg("forwarding request")

	resp, err := f.client.Do(req)
	if err != nil {
		return f.classify(r, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > f.maxResponseBody {
		return ErrResponseTooLarge
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	limited := io.LimitReader(resp.Body, f.maxResponseBody+1)
	n, err := io.Copy(w, limited)
	if err != nil || n > f.maxResponseBody {
		return ErrStreamInterrupted
	}

	return nil
}

// classify maps a transport error onto the gateway's forward outcomes.
// Client-initiated cancellation is separated out so the breaker never
// counts it as a downstream failure.
func (f *Forwarder) classify(r *http.Request, err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return ErrRequestTooLarge
	}

	if r.Context().Err() == context.Canceled {
		return ErrClientGone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}

	return ErrUpstreamUnreachable
}

// copyHeaders copies all headers except hop-by-hop ones. The Host header
// is carried on the request struct, not the map, so it is never copied.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}
