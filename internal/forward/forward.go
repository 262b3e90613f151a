package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// DefaultTimeout bounds a single forwarding attempt, connect and read
// included.
const DefaultTimeout = 5 * time.Second

// hopHeaders are headers that must not be relayed in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Result is the backend response relayed to the caller: status,
// headers, and body exactly as the backend produced them, minus
// hop-by-hop headers.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder reissues inbound requests against a resolved backend URL.
// Each request gets exactly one attempt.
type Forwarder struct {
	client  *http.Client
	logger  observability.Logger
	timeout time.Duration
}

// Option is a functional option for the forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger for the forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for forwarding.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Forwarder) {
		f.timeout = timeout
	}
}

// NewForwarder creates a forwarder.
func NewForwarder(opts ...Option) *Forwarder {
	f := &Forwarder{
		logger:  observability.NopLogger(),
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = &http.Client{
			// Redirects are relayed to the caller, not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return f
}

// BuildTargetURL composes the absolute forwarding URL from a backend
// base and the request path, preserving the query string.
func BuildTargetURL(base, path, rawQuery string) string {
	target := base + "/" + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forward reissues the request against the target URL and returns the
// relayed response. Backend responses with status 400 and above are
// not relayed; they surface as a backend status error carrying the
// backend's code. Transport failures are classified into the gateway
// error taxonomy.
func (f *Forwarder) Forward(ctx context.Context, req *http.Request, targetURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, req.Method, targetURL, req.Body)
	if err != nil {
		return nil, util.WrapError(err, "failed to build forward request")
	}

	copyForwardHeaders(outReq, req)
	observability.InjectTraceContext(ctx, outReq)

	f.logger.Debug("forwarding request",
		observability.String("method", req.Method),
		observability.String("target", targetURL))

	resp, err := f.client.Do(outReq)
	if err != nil {
		return nil, classify(err, targetURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err, targetURL)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, util.NewBackendStatusError(targetURL, resp.StatusCode)
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

// copyForwardHeaders copies the inbound headers onto the outbound
// request, drops hop-by-hop headers, and sets the forwarded-for chain.
func copyForwardHeaders(outReq, req *http.Request) {
	for key, values := range req.Header {
		for _, value := range values {
			outReq.Header.Add(key, value)
		}
	}

	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	if req.TLS != nil {
		outReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		outReq.Header.Set("X-Forwarded-Proto", "http")
	}

	if req.Host != "" {
		outReq.Header.Set("X-Forwarded-Host", req.Host)
	}
}

// classify maps a transport error onto the gateway error taxonomy.
// Timeouts (connect or read) become gateway timeouts; refused and
// unreachable connections and mid-stream network failures mean the
// backend is unavailable; everything else from the transport is a bad
// gateway.
func classify(err error, target string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return util.NewTimeoutError(target, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return util.NewTimeoutError(target, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return util.NewUnavailableError(target, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return util.NewUnavailableError(target, err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return util.NewUnavailableError(target, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return util.NewBadGatewayError(target, err)
	}

	return util.WrapError(err, "forwarding to "+target+" failed")
}
