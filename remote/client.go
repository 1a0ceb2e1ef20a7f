package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"board-sync/internal/consts"
)

const (
	tasksPath = "/api/tasks"
	lanesPath = "/api/swimlanes"
	ssePath   = "/api/sse/stream"

	maxResponseSize = 8 << 20 // 8 MiB
	maxErrorBody    = 4 << 10
)

// Client issues REST calls against the board server and opens its push stream.
// It keeps no board state and never retries.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client

	stream *http.Client
	logger *log.Logger
	tracer trace.Tracer
	newKey func() string
}

type Option func(*Client)

// WithHTTPClient replaces the client used for REST calls. Its transport is also
// used for the push stream, without the timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTP = h }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// New creates a Client for baseURL. bearer may be empty.
func New(baseURL, bearer string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  log.StandardLogger(),
		tracer:  otel.Tracer(tracerName),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stream = &http.Client{Transport: c.HTTP.Transport}
	return c
}

type request struct {
	method      string
	route       string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(method, route, path string, payload any) (request, error) {
	req := request{method: method, route: route, path: path}
	if payload == nil {
		return req, nil
	}
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return req, fmt.Errorf("encode %s %s: %w", method, route, err)
	}
	req.body = data
	req.contentType = "application/json"
	return req, nil
}

// do executes r and returns the response body of a 2xx response.
func (c *Client) do(ctx context.Context, r request) (body []byte, err error) {
	ctx, obs := c.observe(ctx, r.method, r.route)
	status := 0
	defer func() {
		obs.Finish(status, len(body), err)
	}()

	target := c.BaseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	var reader io.Reader
	if r.body != nil {
		reader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	if r.method != http.MethodGet {
		req.Header.Set(consts.IdempotencyHeader, c.newKey())
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if status < 200 || status >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: r.method, Route: r.route, StatusCode: status, Body: strings.TrimSpace(string(msg))}
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", r.method, r.route, err)
	}
	return body, nil
}

func idPath(prefix string, id fmt.Stringer, rest ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(id.String()))
	for _, part := range rest {
		b.WriteByte('/')
		b.WriteString(part)
	}
	return b.String()
}
