package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

const (
	// DefaultPrefix is the path every pipeline server route lives under.
	DefaultPrefix = "/pipeline"
	// DefaultDescription is sent when a pipeline is created without one.
	DefaultDescription = "A pipeline"
)

// PipelineClient issues one request per pipeline server capability.
type PipelineClient struct {
	base
}

// NewPipelineClient targets serverURL+prefix. An empty prefix means
// DefaultPrefix.
func NewPipelineClient(serverURL, prefix string, opts ...Option) *PipelineClient {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PipelineClient{base: newBase(serverURL+prefix, buildOptions(opts))}
}

// segment percent-encodes an identifier as a single path segment, so a '/'
// inside it never introduces another segment.
func segment(id string) string {
	return url.PathEscape(id)
}

// edgeRequest is the body of add-edge and remove-edge.
type edgeRequest struct {
	Source pipeline.Node `json:"source"`
	Sink   pipeline.Node `json:"sink"`
	ID     string        `json:"id"`
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type importRequest struct {
	Config string `json:"config"`
}

// ListNodes returns every node template the server can place in a pipeline.
func (c *PipelineClient) ListNodes(ctx context.Context) Response[[]pipeline.Node] {
	return fetch[[]pipeline.Node](ctx, &c.base, request{op: "list_nodes", method: http.MethodGet, path: "/list-nodes"})
}

// ListPipelines returns every pipeline known to the server.
func (c *PipelineClient) ListPipelines(ctx context.Context) Response[[]pipeline.Pipeline] {
	return fetch[[]pipeline.Pipeline](ctx, &c.base, request{op: "list_pipelines", method: http.MethodGet, path: "/list"})
}

// GetPipeline fetches one pipeline by id.
func (c *PipelineClient) GetPipeline(ctx context.Context, id string) Response[pipeline.Pipeline] {
	return fetch[pipeline.Pipeline](ctx, &c.base, request{
		op:     "get_pipeline",
		method: http.MethodGet,
		path:   "/get/" + segment(id),
	})
}

// RemovePipeline deletes a pipeline and returns it as it was.
func (c *PipelineClient) RemovePipeline(ctx context.Context, id string) Response[pipeline.Pipeline] {
	return fetch[pipeline.Pipeline](ctx, &c.base, request{
		op:        "remove_pipeline",
		method:    http.MethodDelete,
		path:      "/remove/" + segment(id),
		forceJSON: true,
	})
}

// AddEdge connects src to sink inside a pipeline. Callers are expected to
// gate the call with pipeline.CanLink first.
func (c *PipelineClient) AddEdge(ctx context.Context, pipelineID string, src, sink pipeline.Node, edgeID string) Response[pipeline.Edge] {
	return fetch[pipeline.Edge](ctx, &c.base, request{
		op:     "add_edge",
		method: http.MethodPost,
		path:   "/add-edge/" + segment(pipelineID),
		body:   edgeRequest{Source: src, Sink: sink, ID: edgeID},
	})
}

// RemoveEdge disconnects src from sink inside a pipeline.
func (c *PipelineClient) RemoveEdge(ctx context.Context, pipelineID string, src, sink pipeline.Node, edgeID string) Response[pipeline.Edge] {
	return fetch[pipeline.Edge](ctx, &c.base, request{
		op:     "remove_edge",
		method: http.MethodPost,
		path:   "/remove-edge/" + segment(pipelineID),
		body:   edgeRequest{Source: src, Sink: sink, ID: edgeID},
	})
}

// AddNode places a node in a pipeline.
func (c *PipelineClient) AddNode(ctx context.Context, pipelineID string, node pipeline.Node) Response[pipeline.Node] {
	return fetch[pipeline.Node](ctx, &c.base, request{
		op:     "add_node",
		method: http.MethodPost,
		path:   "/add-node/" + segment(pipelineID),
		body:   node,
	})
}

// RemoveNode removes a node from a pipeline.
func (c *PipelineClient) RemoveNode(ctx context.Context, pipelineID string, node pipeline.Node) Response[pipeline.Node] {
	return fetch[pipeline.Node](ctx, &c.base, request{
		op:     "remove_node",
		method: http.MethodPost,
		path:   "/remove-node/" + segment(pipelineID),
		body:   node,
	})
}

// CreatePipeline creates an empty pipeline. An empty description is replaced
// by DefaultDescription.
func (c *PipelineClient) CreatePipeline(ctx context.Context, name, description string) Response[pipeline.Pipeline] {
	if description == "" {
		description = DefaultDescription
	}
	return fetch[pipeline.Pipeline](ctx, &c.base, request{
		op:     "create_pipeline",
		method: http.MethodPut,
		path:   "/create",
		body:   createRequest{Name: name, Description: description},
	})
}

// ImportPipeline creates a pipeline from an opaque configuration blob. It
// shares the create endpoint; the server tells the two apart by payload shape.
func (c *PipelineClient) ImportPipeline(ctx context.Context, config string) Response[pipeline.Pipeline] {
	return fetch[pipeline.Pipeline](ctx, &c.base, request{
		op:     "import_pipeline",
		method: http.MethodPut,
		path:   "/create",
		body:   importRequest{Config: config},
	})
}

// ListPlugins returns the installable node plugins.
func (c *PipelineClient) ListPlugins(ctx context.Context) Response[[]pipeline.NodesPlugin] {
	return fetch[[]pipeline.NodesPlugin](ctx, &c.base, request{op: "list_plugins", method: http.MethodGet, path: "/plugins"})
}

// InstallPlugin installs a plugin and returns the node templates it added.
func (c *PipelineClient) InstallPlugin(ctx context.Context, name string) Response[[]pipeline.Node] {
	return fetch[[]pipeline.Node](ctx, &c.base, request{
		op:     "install_plugin",
		method: http.MethodPost,
		path:   "/install-plugin/" + segment(name),
	})
}

// NodeSourceCode fetches the source of a node template, addressed by
// registry name and package as query parameters.
func (c *PipelineClient) NodeSourceCode(ctx context.Context, node pipeline.Node) Response[string] {
	q := url.Values{}
	q.Set("registry_name", node.RegistryName)
	q.Set("package", node.Package)
	return fetch[string](ctx, &c.base, request{
		op:     "node_source_code",
		method: http.MethodGet,
		path:   "/node/source-code/?" + q.Encode(),
	})
}
