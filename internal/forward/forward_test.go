package forward

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

func TestBuildTargetURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     string
		path     string
		rawQuery string
		want     string
	}{
		{
			name: "static base",
			base: "http://backend-a",
			path: "api/static/ping",
			want: "http://backend-a/api/static/ping",
		},
		{
			name: "resolved address",
			base: "http://product-backend:8000",
			path: "api/products/uuid/3fa85f64-5717-4562-b3fc-2c963f66afa6/data",
			want: "http://product-backend:8000/api/products/uuid/3fa85f64-5717-4562-b3fc-2c963f66afa6/data",
		},
		{
			name:     "query preserved",
			base:     "http://backend-a",
			path:     "api/search",
			rawQuery: "q=utilities&limit=10",
			want:     "http://backend-a/api/search?q=utilities&limit=10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, BuildTargetURL(tt.base, tt.path, tt.rawQuery))
		})
	}
}

func TestForwarder_Forward(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotBody, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotCustom = r.Header.Get("X-Custom")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "backend-a")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"created":true}`))
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/things", strings.NewReader(`{"name":"thing"}`))
	req.Header.Set("X-Custom", "custom-value")

	f := NewForwarder()
	result, err := f.Forward(context.Background(), req, server.URL+"/api/things")

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, `{"created":true}`, string(result.Body))
	assert.Equal(t, "application/json", result.Header.Get("Content-Type"))
	assert.Equal(t, "backend-a", result.Header.Get("X-Backend"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/things", gotPath)
	assert.Equal(t, `{"name":"thing"}`, gotBody)
	assert.Equal(t, "custom-value", gotCustom)
}

func TestForwarder_Forward_SetsForwardedHeaders(t *testing.T) {
	t.Parallel()

	var gotForwardedFor, gotForwardedProto, gotForwardedHost string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForwardedFor = r.Header.Get("X-Forwarded-For")
		gotForwardedProto = r.Header.Get("X-Forwarded-Proto")
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/api/ping", nil)
	req.RemoteAddr = "10.1.2.3:55555"

	f := NewForwarder()
	_, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", gotForwardedFor)
	assert.Equal(t, "http", gotForwardedProto)
	assert.Equal(t, "proxy.example", gotForwardedHost)
}

func TestForwarder_Forward_AppendsForwardedForChain(t *testing.T) {
	t.Parallel()

	var gotForwardedFor string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForwardedFor = r.Header.Get("X-Forwarded-For")
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.RemoteAddr = "10.1.2.3:55555"
	req.Header.Set("X-Forwarded-For", "172.16.0.9")

	f := NewForwarder()
	_, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

	require.NoError(t, err)
	assert.Equal(t, "172.16.0.9, 10.1.2.3", gotForwardedFor)
}

func TestForwarder_Forward_StripsHopHeaders(t *testing.T) {
	t.Parallel()

	var gotConnection, gotKeepAlive string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Proxy-Connection")
		gotKeepAlive = r.Header.Get("Keep-Alive")
		w.Header().Set("Upgrade", "h2c")
		w.Header().Set("X-Kept", "yes")
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")

	f := NewForwarder()
	result, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

	require.NoError(t, err)
	assert.Empty(t, gotConnection)
	assert.Empty(t, gotKeepAlive)
	assert.Empty(t, result.Header.Get("Upgrade"))
	assert.Equal(t, "yes", result.Header.Get("X-Kept"))
}

func TestForwarder_Forward_RelaysRedirect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://elsewhere.example/moved")
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)

	f := NewForwarder()
	result, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, result.StatusCode)
	assert.Equal(t, "http://elsewhere.example/moved", result.Header.Get("Location"))
}

func TestForwarder_Forward_BackendErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{name: "backend 404", status: http.StatusNotFound},
		{name: "backend 422", status: http.StatusUnprocessableEntity},
		{name: "backend 500", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "backend says no", tt.status)
			}))
			defer server.Close()

			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)

			f := NewForwarder()
			result, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

			require.Error(t, err)
			assert.Nil(t, result)

			var statusErr *util.BackendStatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode())
			assert.Contains(t, statusErr.Target, server.URL)
		})
	}
}

func TestForwarder_Forward_ConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)

	f := NewForwarder()
	_, err := f.Forward(context.Background(), req, target+"/api/ping")

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrUnavailable))

	var unavailable *util.UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestForwarder_Forward_Timeout(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)

	f := NewForwarder(WithTimeout(50 * time.Millisecond))
	_, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrGatewayTimeout))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("backend never saw the request")
	}
}

func TestForwarder_Forward_TimeoutDuringBodyRead(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)

	f := NewForwarder(WithTimeout(50 * time.Millisecond))
	_, err := f.Forward(context.Background(), req, server.URL+"/api/ping")

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrGatewayTimeout))
}

func TestForwarder_Forward_InvalidTarget(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)

	f := NewForwarder()
	_, err := f.Forward(context.Background(), req, "http://missing port:8000/x")

	require.Error(t, err)
	assert.False(t, errors.Is(err, util.ErrGatewayTimeout))
	assert.False(t, errors.Is(err, util.ErrUnavailable))
}

func TestForwarder_WithOptions(t *testing.T) {
	t.Parallel()

	client := &http.Client{}
	f := NewForwarder(
		WithHTTPClient(client),
		WithTimeout(time.Second),
	)

	assert.Same(t, client, f.client)
	assert.Equal(t, time.Second, f.timeout)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: util.ErrGatewayTimeout,
		},
		{
			name: "connection refused",
			err:  syscall.ECONNREFUSED,
			want: util.ErrUnavailable,
		},
		{
			name: "connection reset",
			err:  syscall.ECONNRESET,
			want: util.ErrUnavailable,
		},
		{
			name: "unexpected EOF",
			err:  io.ErrUnexpectedEOF,
			want: util.ErrUnavailable,
		},
		{
			name: "other url error",
			err:  &url.Error{Op: "Get", URL: "http://b", Err: errors.New("strange failure")},
			want: util.ErrBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			classified := classify(tt.err, "http://backend")
			assert.True(t, errors.Is(classified, tt.want), "got %v", classified)
		})
	}
}

func TestClassify_UnclassifiedStaysInternal(t *testing.T) {
	t.Parallel()

	classified := classify(errors.New("mystery"), "http://backend")

	assert.False(t, errors.Is(classified, util.ErrGatewayTimeout))
	assert.False(t, errors.Is(classified, util.ErrUnavailable))
	assert.False(t, errors.Is(classified, util.ErrBadGateway))
	assert.Contains(t, classified.Error(), "mystery")
}
