package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipedash/pkg/result"
)

const (
	// DefaultNetworkMapPath is the static network map resource. It stands in
	// for a real cluster endpoint until one exists.
	DefaultNetworkMapPath = "/mocks/networkMap.json"
	// DefaultClusterUpdatesPath is the socket streaming full cluster snapshots.
	DefaultClusterUpdatesPath = "/cluster-updates"
)

// errNotImplemented is returned by the cluster-level seams.
var errNotImplemented = pipeline.ResponseError{Message: "not implemented", Code: http.StatusNotImplemented}

// NetworkClient reads cluster state and opens the event streams.
type NetworkClient struct {
	base
	dialer         *websocket.Dialer
	networkMapPath string
	updatesPath    string
}

// NewNetworkClient targets the dashboard server at serverURL.
func NewNetworkClient(serverURL string, opts ...Option) *NetworkClient {
	o := buildOptions(opts)
	return &NetworkClient{
		base:           newBase(serverURL, o),
		dialer:         o.dialer,
		networkMapPath: o.networkMapPath,
		updatesPath:    o.updatesPath,
	}
}

// GetNetworkMap fetches the network map snapshot.
func (c *NetworkClient) GetNetworkMap(ctx context.Context) Response[pipeline.ClusterState] {
	return fetch[pipeline.ClusterState](ctx, &c.base, request{op: "network_map", method: http.MethodGet, path: c.networkMapPath})
}

// GetNetwork fetches the live manager state.
func (c *NetworkClient) GetNetwork(ctx context.Context) Response[pipeline.ClusterState] {
	return fetch[pipeline.ClusterState](ctx, &c.base, request{op: "network", method: http.MethodGet, path: "/network"})
}

// SubscribeToLogs streams the log feed of the manager at host:port. Each
// frame is passed to fn until the returned subscription is closed or ctx
// ends.
func (c *NetworkClient) SubscribeToLogs(ctx context.Context, host string, port int, fn func([]byte)) Response[*Subscription] {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: "/logs"}
	return c.subscribe(ctx, u.String(), fn)
}

// SubscribeToClusterUpdates streams full cluster snapshots from the server.
func (c *NetworkClient) SubscribeToClusterUpdates(ctx context.Context, fn func([]byte)) Response[*Subscription] {
	u, err := c.ClusterUpdatesURL()
	if err != nil {
		return result.Err[*Subscription](pipeline.ResponseError{Message: err.Error()})
	}
	return c.subscribe(ctx, u, fn)
}

// ClusterUpdatesURL derives the websocket address of the cluster updates
// stream from the server URL.
func (c *NetworkClient) ClusterUpdatesURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.updatesPath
	u.RawPath = ""
	return u.String(), nil
}

func (c *NetworkClient) subscribe(ctx context.Context, addr string, fn func([]byte)) Response[*Subscription] {
	conn, resp, err := c.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		c.logger.Warn("subscription dial failed", zap.String("url", addr), zap.Error(err))
		if resp != nil {
			_ = resp.Body.Close()
			return result.Err[*Subscription](pipeline.ResponseError{Message: statusText(resp), Code: resp.StatusCode})
		}
		return result.Err[*Subscription](pipeline.ResponseError{Message: err.Error()})
	}
	c.logger.Debug("subscription opened", zap.String("url", addr))
	return result.Ok[*Subscription, pipeline.ResponseError](newSubscription(ctx, conn, fn, c.logger.With(zap.String("url", addr))))
}

// CreatePipeline is reserved for a cluster-level pipeline API. It does not
// touch the network and always returns a 501 error.
func (c *NetworkClient) CreatePipeline(context.Context) Response[pipeline.Pipeline] {
	return result.Err[pipeline.Pipeline](errNotImplemented)
}

// DeletePipeline is reserved for a cluster-level pipeline API. It does not
// touch the network and always returns a 501 error.
func (c *NetworkClient) DeletePipeline(context.Context) Response[pipeline.Pipeline] {
	return result.Err[pipeline.Pipeline](errNotImplemented)
}
