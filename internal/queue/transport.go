package queue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Response is one raw transport result. Bodies are fully read before the
// queue hands them to the codec.
type Response struct {
	StatusCode int
	MIME       string
	Body       []byte

	// RetryAfter carries a 429 Retry-After hint for the controller's retry
	// policy; zero when the server sent none.
	RetryAfter time.Duration
}

// Transport performs one network call. Implementations must honor ctx
// cancellation and deadlines.
type Transport interface {
	Do(ctx context.Context, url string) (*Response, error)
}

// TransportError is a network-level failure: connection errors, timeouts,
// and non-2xx statuses. Recoverable; the controller decides on retries.
type TransportError struct {
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// NotSupported reports whether the server answered 404, which Subsonic-family
// servers use for unimplemented features.
func (e *TransportError) NotSupported() bool { return e.StatusCode == http.StatusNotFound }

// Retryable reports whether retrying can plausibly succeed.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// HTTPTransport is the production Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps the given client; nil uses http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		MIME:       resp.Header.Get("Content-Type"),
		Body:       body,
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{StatusCode: resp.StatusCode, RetryAfter: out.RetryAfter}
	}
	return out, nil
}

// parseRetryAfter accepts both forms of the header: delay seconds or an HTTP
// date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
