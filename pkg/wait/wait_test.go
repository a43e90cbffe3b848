package wait

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type target struct {
	host  string
	ports map[string]string
}

func (t target) Host() string { return t.host }

func (t target) MappedPort(port string) (string, error) {
	p, ok := t.ports[port]
	if !ok {
		return "", errors.New("port not published")
	}
	return p, nil
}

func serve(t *testing.T, h http.HandlerFunc) target {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return target{host: host, ports: map[string]string{"3500": port}}
}

func TestHTTPStrategy_EventuallyReady(t *testing.T) {
	var hits atomic.Int32
	tgt := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/healthz", r.URL.Path)
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	s := ForHTTP("/v1.0/healthz").ForPort("3500").ForStatusCode(http.StatusNoContent).
		WithPollInterval(5 * time.Millisecond).WithTimeout(5 * time.Second)
	require.NoError(t, s.WaitUntilReady(context.Background(), tgt))
	assert.EqualValues(t, 3, hits.Load())
}

func TestHTTPStrategy_AnySuccessStatus(t *testing.T) {
	tgt := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, ForHTTP("/").ForPort("3500").WaitUntilReady(context.Background(), tgt))
}

func TestHTTPStrategy_Timeout(t *testing.T) {
	tgt := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	s := ForHTTP("/").ForPort("3500").WithPollInterval(5 * time.Millisecond).WithTimeout(50 * time.Millisecond)
	err := s.WaitUntilReady(context.Background(), tgt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPStrategy_Misconfigured(t *testing.T) {
	tgt := target{host: "localhost"}
	assert.Error(t, ForHTTP("/").WaitUntilReady(context.Background(), tgt))
	assert.Error(t, ForHTTP("/").ForPort("80").WaitUntilReady(context.Background(), tgt))
}

func TestHTTPStrategy_Immutable(t *testing.T) {
	base := ForHTTP("/health")
	withPort := base.ForPort("8080")
	assert.Equal(t, "", base.Port())
	assert.Equal(t, "8080", withPort.Port())
	assert.Equal(t, "/health", withPort.Path())
}

func TestPortStrategy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	tgt := target{host: "127.0.0.1", ports: map[string]string{"5432/tcp": port}}

	require.NoError(t, ForListeningPort("5432/tcp").WaitUntilReady(context.Background(), tgt))
}

func TestPortStrategy_Timeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())

	tgt := target{host: "127.0.0.1", ports: map[string]string{"5432/tcp": port}}
	err = ForListeningPort("5432/tcp").
		WithTimeout(50*time.Millisecond).
		WithPollInterval(5*time.Millisecond).
		WaitUntilReady(context.Background(), tgt)
	assert.Error(t, err)
}
