package pipeline

import (
	"encoding/json"
	"fmt"
)

// NodeType identifies the role a node plays in the data flow.
type NodeType string

const (
	NodeTypeSource NodeType = "SOURCE"
	NodeTypeStep   NodeType = "STEP"
	NodeTypeSink   NodeType = "SINK"
)

// Known reports whether t is one of the defined node types.
func (t NodeType) Known() bool {
	switch t {
	case NodeTypeSource, NodeTypeStep, NodeTypeSink:
		return true
	}
	return false
}

// Node is a single vertex of a pipeline, or a template offered by the
// server's node registry.
type Node struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         NodeType `json:"type"`
	RegistryName string   `json:"registry_name"`
	Package      string   `json:"package"`
}

// Edge is a directed connection from a source node to a sink node, both
// referenced by id.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Sink   string `json:"sink"`
}

// Pipeline is the client's view of a server-side pipeline graph.
type Pipeline struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
}

// Node returns the node with the given id.
func (p *Pipeline) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge returns the edge with the given id.
func (p *Pipeline) Edge(id string) (Edge, bool) {
	for _, e := range p.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func (p *Pipeline) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges arriving at nodeID.
func (p *Pipeline) IncomingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.Sink == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Degree counts the edges touching nodeID in either direction.
func (p *Pipeline) Degree(nodeID string) int {
	n := 0
	for _, e := range p.Edges {
		if e.Source == nodeID || e.Sink == nodeID {
			n++
		}
	}
	return n
}

// Retype changes a node's type. A node that already participates in an edge
// keeps its type, since the existing edges were validated against it.
func (p *Pipeline) Retype(nodeID string, t NodeType) error {
	if !t.Known() {
		return fmt.Errorf("retype %q: %w: %q", nodeID, ErrUnknownNodeType, t)
	}
	for i := range p.Nodes {
		if p.Nodes[i].ID != nodeID {
			continue
		}
		if p.Nodes[i].Type == t {
			return nil
		}
		if p.Degree(nodeID) > 0 {
			return fmt.Errorf("retype %q: %w", nodeID, ErrNodeLinked)
		}
		p.Nodes[i].Type = t
		return nil
	}
	return fmt.Errorf("retype %q: %w", nodeID, ErrUnknownNode)
}

// ResponseError is the uniform error payload of every remote operation.
type ResponseError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e ResponseError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// ClusterState is an opaque snapshot of node and link health. It is passed
// through verbatim and never interpreted.
type ClusterState json.RawMessage

// MarshalJSON emits the snapshot as received.
func (s ClusterState) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

// UnmarshalJSON keeps a private copy of the raw snapshot.
func (s *ClusterState) UnmarshalJSON(data []byte) error {
	if s == nil {
		return fmt.Errorf("pipeline.ClusterState: UnmarshalJSON on nil pointer")
	}
	*s = append((*s)[:0], data...)
	return nil
}

// NodesPlugin is an installable extension contributing node templates.
type NodesPlugin struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Installed   bool   `json:"installed"`
}
