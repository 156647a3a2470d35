// Package client builds the requests the dashboard sends to the pipeline
// server and decodes every response into a result.Result, so transport and
// status failures arrive as data instead of errors to branch on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipedash/pkg/result"
)

// Response is the outcome of one remote operation.
type Response[T any] = result.Result[T, pipeline.ResponseError]

type options struct {
	httpClient     *http.Client
	dialer         *websocket.Dialer
	logger         *zap.Logger
	metrics        *Metrics
	networkMapPath string
	updatesPath    string
}

// Option configures a client.
type Option func(*options)

// WithHTTPClient replaces the default HTTP client. The default has no timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithDialer replaces the websocket dialer used for subscriptions.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNetworkMapPath overrides the resource fetched by GetNetworkMap.
func WithNetworkMapPath(p string) Option {
	return func(o *options) { o.networkMapPath = p }
}

// WithClusterUpdatesPath overrides the path of the cluster updates socket.
func WithClusterUpdatesPath(p string) Option {
	return func(o *options) { o.updatesPath = p }
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient:     &http.Client{},
		dialer:         websocket.DefaultDialer,
		logger:         zap.NewNop(),
		networkMapPath: DefaultNetworkMapPath,
		updatesPath:    DefaultClusterUpdatesPath,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// base is the shared request plumbing of every client.
type base struct {
	url     string
	http    *http.Client
	logger  *zap.Logger
	metrics *Metrics
}

func newBase(url string, o options) base {
	return base{
		url:     strings.TrimRight(url, "/"),
		http:    o.httpClient,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// URL returns the root every request path is appended to.
func (b *base) URL() string { return b.url }

type request struct {
	op     string
	method string
	path   string
	body   any
	// forceJSON sets the JSON content type even when there is no body.
	forceJSON bool
}

// fetch performs one round-trip and decodes a 2xx JSON body into T. Every
// failure mode is folded into the Err variant.
func fetch[T any](ctx context.Context, b *base, req request) Response[T] {
	start := time.Now()
	res, status := doFetch[T](ctx, b, req)
	outcome := "ok"
	if res.IsErr() {
		outcome = "error"
	}
	b.metrics.observe(req.op, outcome, time.Since(start))
	b.logger.Debug("pipeline request",
		zap.String("op", req.op),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func doFetch[T any](ctx context.Context, b *base, req request) (Response[T], int) {
	var body *bytes.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return result.Err[T](pipeline.ResponseError{Message: fmt.Sprintf("encode request: %v", err)}), 0
		}
		body = bytes.NewReader(data)
	}

	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, req.method, b.url+req.path, body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, req.method, b.url+req.path, nil)
	}
	if err != nil {
		return result.Err[T](pipeline.ResponseError{Message: fmt.Sprintf("build request: %v", err)}), 0
	}
	if body != nil || req.forceJSON {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return result.Err[T](pipeline.ResponseError{Message: err.Error()}), 0
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result.Err[T](pipeline.ResponseError{Message: statusText(resp), Code: resp.StatusCode}), resp.StatusCode
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return result.Err[T](pipeline.ResponseError{
			Message: fmt.Sprintf("malformed response: %v", err),
			Code:    resp.StatusCode,
		}), resp.StatusCode
	}
	return result.Ok[T, pipeline.ResponseError](out), resp.StatusCode
}

// statusText extracts the reason phrase from a response status line.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
