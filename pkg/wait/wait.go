// Package wait decides when a started container is ready to serve.
//
// Strategies are immutable values; every With method returns a copy. They are
// polled with a constant backoff until they succeed or their timeout expires.
package wait

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultTimeout      = time.Minute
	DefaultPollInterval = 100 * time.Millisecond
)

// Target is what a strategy probes.
type Target interface {
	// Host is the address published ports are reachable on.
	Host() string
	// MappedPort returns the host port published for a container port.
	MappedPort(port string) (string, error)
}

// Strategy blocks until target is ready.
type Strategy interface {
	WaitUntilReady(ctx context.Context, target Target) error
}

// poll runs probe until it returns nil, a non-retryable error, or timeout
// elapses.
func poll(ctx context.Context, timeout, interval time.Duration, probe func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last error
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		if err := probe(ctx); err != nil {
			last = err
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && last != nil {
		return fmt.Errorf("not ready after %s: %w", timeout, last)
	}
	return err
}

// HTTPStrategy waits for an HTTP endpoint to answer with the expected status.
type HTTPStrategy struct {
	path         string
	port         string
	method       string
	statusCode   int
	timeout      time.Duration
	pollInterval time.Duration
	client       *http.Client
}

var _ Strategy = HTTPStrategy{}

// ForHTTP waits for a GET of path to return a 2xx status.
func ForHTTP(path string) HTTPStrategy {
	return HTTPStrategy{
		path:         path,
		method:       http.MethodGet,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
}

func (s HTTPStrategy) ForPort(port string) HTTPStrategy {
	s.port = port
	return s
}

// ForStatusCode requires an exact status instead of any 2xx.
func (s HTTPStrategy) ForStatusCode(code int) HTTPStrategy {
	s.statusCode = code
	return s
}

func (s HTTPStrategy) WithMethod(method string) HTTPStrategy {
	s.method = method
	return s
}

func (s HTTPStrategy) WithTimeout(d time.Duration) HTTPStrategy {
	s.timeout = d
	return s
}

func (s HTTPStrategy) WithPollInterval(d time.Duration) HTTPStrategy {
	s.pollInterval = d
	return s
}

// WithClient replaces the HTTP client used for probes.
func (s HTTPStrategy) WithClient(c *http.Client) HTTPStrategy {
	s.client = c
	return s
}

// Port returns the container port probed.
func (s HTTPStrategy) Port() string {
	return s.port
}

// Path returns the probed request path.
func (s HTTPStrategy) Path() string {
	return s.path
}

// StatusCode returns the required status, or 0 for any 2xx.
func (s HTTPStrategy) StatusCode() int {
	return s.statusCode
}

func (s HTTPStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	if s.port == "" {
		return errors.New("http wait strategy: no port configured")
	}
	hostPort, err := target.MappedPort(s.port)
	if err != nil {
		return fmt.Errorf("http wait strategy: %w", err)
	}
	url := "http://" + net.JoinHostPort(target.Host(), hostPort) + s.path

	client := s.client
	if client == nil {
		client = &http.Client{Timeout: s.pollInterval + time.Second}
	}

	return poll(ctx, s.timeout, s.pollInterval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, s.method, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()

		if s.statusCode != 0 && resp.StatusCode != s.statusCode {
			return fmt.Errorf("%s %s: status %d, want %d", s.method, url, resp.StatusCode, s.statusCode)
		}
		if s.statusCode == 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			return fmt.Errorf("%s %s: status %d", s.method, url, resp.StatusCode)
		}
		return nil
	})
}

// PortStrategy waits until a published port accepts TCP connections.
type PortStrategy struct {
	port         string
	timeout      time.Duration
	pollInterval time.Duration
}

var _ Strategy = PortStrategy{}

func ForListeningPort(port string) PortStrategy {
	return PortStrategy{
		port:         port,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
}

func (s PortStrategy) WithTimeout(d time.Duration) PortStrategy {
	s.timeout = d
	return s
}

func (s PortStrategy) WithPollInterval(d time.Duration) PortStrategy {
	s.pollInterval = d
	return s
}

func (s PortStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	hostPort, err := target.MappedPort(s.port)
	if err != nil {
		return fmt.Errorf("port wait strategy: %w", err)
	}
	addr := net.JoinHostPort(target.Host(), hostPort)

	var d net.Dialer
	return poll(ctx, s.timeout, s.pollInterval, func(ctx context.Context) error {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}
