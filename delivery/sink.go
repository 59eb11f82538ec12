package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultSinkTimeout bounds one upload
const DefaultSinkTimeout = 10 * time.Second

// Sink receives job bodies
type Sink interface {
	Deliver(ctx context.Context, body []byte) error
}

// StatusError is a non-2xx response under strict status checking
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("post %s: status %d", e.URL, e.Code)
}

// HTTPSink POSTs job bodies as JSON
type HTTPSink struct {
	url          string
	timeout      time.Duration
	strictStatus bool
	client       *fasthttp.Client
}

// NewHTTPSink creates a new HTTPSink.
// Without strictStatus any response counts as delivered.
func NewHTTPSink(url string, timeout time.Duration, strictStatus bool) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	s := &HTTPSink{
		url:          url,
		timeout:      timeout,
		strictStatus: strictStatus,
		client: &fasthttp.Client{
			Name:                "alprd",
			MaxIdleConnDuration: time.Minute,
		},
	}
	return s
}

// Deliver implements Sink
func (s *HTTPSink) Deliver(ctx context.Context, body []byte) error {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Accept", "application/json")
	req.Header.SetContentType("application/json")
	req.Header.Set("charsets", "utf-8")
	req.SetBody(body)

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	code := resp.StatusCode()
	if s.strictStatus && (code < 200 || code >= 300) {
		return &StatusError{URL: s.url, Code: code}
	}
	return nil
}
