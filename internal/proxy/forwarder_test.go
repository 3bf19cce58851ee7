package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multifinance/gateway/internal/registry"
)

func newTestForwarder() *Forwarder {
	return NewForwarder(Config{
		MaxRequestBody:  1024,
		MaxResponseBody: 4096,
	}, zerolog.Nop())
}

func testService(baseURL string) *registry.Service {
	return &registry.Service{
		Name:       "loan-service",
		BaseURL:    baseURL,
		PathPrefix: "/api/v1/loans",
		HealthPath: "/health",
		Timeout:    2 * time.Second,
	}
}

func TestForward(t *testing.T) {
	t.Run("should forward method, path, query and body", func(t *testing.T) {
		var gotMethod, gotPath, gotQuery, gotBody string
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"ok":true}`))
		}))
		t.Cleanup(stub.Close)

		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/v1/loans?limit=5", strings.NewReader(`{"amount":100}`))

		err := f.Forward(w, r, testService(stub.URL), Identity{CorrelationID: "abc-123"})
		require.NoError(t, err)

		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "/api/v1/loans", gotPath)
		assert.Equal(t, "limit=5", gotQuery)
		assert.Equal(t, `{"amount":100}`, gotBody)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, `{"ok":true}`, w.Body.String())
	})

	t.Run("should propagate identity headers", func(t *testing.T) {
		var got http.Header
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Clone()
		}))
		t.Cleanup(stub.Close)

		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)
		r.Header.Set("X-Custom", "kept")
		r.Header.Set("Connection", "keep-alive")

		err := f.Forward(w, r, testService(stub.URL), Identity{
			CorrelationID: "abc-123",
			UserID:        "u-1",
			TenantID:      "t-1",
			Roles:         []string{"user", "admin"},
		})
		require.NoError(t, err)

		assert.Equal(t, "abc-123", got.Get("X-Correlation-Id"))
		assert.Equal(t, "u-1", got.Get("X-User-Id"))
		assert.Equal(t, "t-1", got.Get("X-Tenant-Id"))
		assert.Equal(t, "user,admin", got.Get("X-User-Roles"))
		assert.Equal(t, "kept", got.Get("X-Custom"))
		assert.Empty(t, got.Get("Connection"))
	})

	t.Run("downstream 5xx passes through verbatim", func(t *testing.T) {
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"downstream exploded"}`))
		}))
		t.Cleanup(stub.Close)

		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)

		err := f.Forward(w, r, testService(stub.URL), Identity{CorrelationID: "abc"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, `{"error":"downstream exploded"}`, w.Body.String())
	})

	t.Run("should classify a deadline as upstream timeout", func(t *testing.T) {
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
		}))
		t.Cleanup(stub.Close)

		svc := testService(stub.URL)
		svc.Timeout = 50 * time.Millisecond

		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)

		err := f.Forward(w, r, svc, Identity{CorrelationID: "abc"})
		assert.ErrorIs(t, err, ErrUpstreamTimeout)
	})

	t.Run("should classify a refused connection as unreachable", func(t *testing.T) {
		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)

		err := f.Forward(w, r, testService("http://127.0.0.1:1"), Identity{CorrelationID: "abc"})
		assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	})

	t.Run("should classify client cancellation separately", func(t *testing.T) {
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}))
		t.Cleanup(stub.Close)

		ctx, cancel := context.WithCancel(context.Background())
		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil).WithContext(ctx)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := f.Forward(w, r, testService(stub.URL), Identity{CorrelationID: "abc"})
		assert.ErrorIs(t, err, ErrClientGone)
	})

	t.Run("should reject an oversized request body", func(t *testing.T) {
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(stub.Close)

		f := newTestForwarder()
		w := httptest.NewRecorder()
		big := strings.Repeat("x", 2048)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/loans", strings.NewReader(big))

		err := f.Forward(w, r, testService(stub.URL), Identity{CorrelationID: "abc"})
		assert.ErrorIs(t, err, ErrRequestTooLarge)
	})

	t.Run("should reject an oversized response before streaming", func(t *testing.T) {
		big := strings.Repeat("y", 8192)
		stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "8192")
			w.Write([]byte(big))
		}))
		t.Cleanup(stub.Close)

		f := newTestForwarder()
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)

		err := f.Forward(w, r, testService(stub.URL), Identity{CorrelationID: "abc"})
		assert.ErrorIs(t, err, ErrResponseTooLarge)
		// Nothing was committed to the client.
		assert.Empty(t, w.Body.String())
	})
}

func TestCopyHeaders(t *testing.T) {
	t.Run("strips hop-by-hop headers", func(t *testing.T) {
		src := http.Header{}
		src.Set("Connection", "keep-alive")
		src.Set("Transfer-Encoding", "chunked")
		src.Set("Upgrade", "websocket")
		src.Set("Content-Type", "application/json")
		src.Add("Accept", "application/json")
		src.Add("Accept", "text/plain")

		dst := http.Header{}
		copyHeaders(dst, src)

		assert.Empty(t, dst.Get("Connection"))
		assert.Empty(t, dst.Get("Transfer-Encoding"))
		assert.Empty(t, dst.Get("Upgrade"))
		assert.Equal(t, "application/json", dst.Get("Content-Type"))
		assert.Equal(t, []string{"application/json", "text/plain"}, dst.Values("Accept"))
	})
}
