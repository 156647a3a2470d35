package devserver

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

var (
	// ErrPipelineNotFound is returned for an unknown pipeline id.
	ErrPipelineNotFound = errors.New("pipeline not found")
	// ErrEdgeNotFound is returned when removing an edge that does not exist.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrDuplicatePipeline is returned when a pipeline id is already taken.
	ErrDuplicatePipeline = errors.New("pipeline id already in use")
	// ErrDuplicateEdge is returned when an edge id is already taken.
	ErrDuplicateEdge = errors.New("edge id already in use")
	// ErrInvalidImport is returned for an import config that cannot be built.
	ErrInvalidImport = errors.New("invalid import config")
)

// Store holds pipelines in memory, in creation order.
type Store struct {
	catalog *Catalog

	mu        sync.RWMutex
	order     []string
	pipelines map[string]*pipeline.Pipeline
}

// NewStore returns an empty store resolving templates through catalog.
func NewStore(catalog *Catalog) *Store {
	return &Store{
		catalog:   catalog,
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

// clone deep-copies p so callers never alias the stored slices.
func clone(p *pipeline.Pipeline) pipeline.Pipeline {
	out := *p
	out.Nodes = append([]pipeline.Node{}, p.Nodes...)
	out.Edges = append([]pipeline.Edge{}, p.Edges...)
	return out
}

// List returns every pipeline in creation order.
func (s *Store) List() []pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Pipeline, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.pipelines[id]))
	}
	return out
}

// Get returns one pipeline.
func (s *Store) Get(id string) (pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(id)
	if err != nil {
		return pipeline.Pipeline{}, err
	}
	return clone(p), nil
}

func (s *Store) lookup(id string) (*pipeline.Pipeline, error) {
	p, ok := s.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotFound, id)
	}
	return p, nil
}

func (s *Store) insert(p *pipeline.Pipeline) {
	s.pipelines[p.ID] = p
	s.order = append(s.order, p.ID)
}

// Create adds an empty pipeline under a fresh id.
func (s *Store) Create(name, description string) pipeline.Pipeline {
	p, _ := s.CreateWithID(uuid.NewString(), name, description)
	return p
}

// CreateWithID adds an empty pipeline under a caller-chosen id. The id is
// stored verbatim, so it may hold any character a URL can carry escaped.
func (s *Store) CreateWithID(id, name, description string) (pipeline.Pipeline, error) {
	if id == "" {
		return pipeline.Pipeline{}, errors.New("empty pipeline id")
	}
	p := &pipeline.Pipeline{
		ID:          id,
		Name:        name,
		Description: description,
		Nodes:       []pipeline.Node{},
		Edges:       []pipeline.Edge{},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; ok {
		return pipeline.Pipeline{}, fmt.Errorf("%w: %q", ErrDuplicatePipeline, id)
	}
	s.insert(p)
	return clone(p), nil
}

// Import builds a pipeline from an import config. Every node must name a
// known template and the resulting graph must lint clean.
func (s *Store) Import(cfg *pipeline.ImportConfig) (pipeline.Pipeline, error) {
	p := &pipeline.Pipeline{
		ID:          uuid.NewString(),
		Name:        "imported",
		Description: fmt.Sprintf("Imported with %d nodes and %d edges", len(cfg.Nodes), len(cfg.Adj)),
		Nodes:       []pipeline.Node{},
		Edges:       []pipeline.Edge{},
	}
	ids := make(map[string]string, len(cfg.Nodes))
	for _, name := range cfg.Nodes {
		if _, dup := ids[name]; dup {
			return pipeline.Pipeline{}, fmt.Errorf("%w: node %q listed twice", ErrInvalidImport, name)
		}
		tmpl, err := s.catalog.Template(name)
		if err != nil {
			return pipeline.Pipeline{}, fmt.Errorf("%w: %w", ErrInvalidImport, err)
		}
		tmpl.ID = uuid.NewString()
		ids[name] = tmpl.ID
		p.Nodes = append(p.Nodes, tmpl)
	}
	for _, pair := range cfg.Adj {
		src, ok1 := ids[pair[0]]
		dst, ok2 := ids[pair[1]]
		if !ok1 || !ok2 {
			return pipeline.Pipeline{}, fmt.Errorf("%w: edge %s -> %s references an unlisted node", ErrInvalidImport, pair[0], pair[1])
		}
		p.Edges = append(p.Edges, pipeline.Edge{ID: uuid.NewString(), Source: src, Sink: dst})
	}
	if err := pipeline.ValidateErr(p); err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(p)
	return clone(p), nil
}

// Remove deletes a pipeline and returns it as it was.
func (s *Store) Remove(id string) (pipeline.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookup(id)
	if err != nil {
		return pipeline.Pipeline{}, err
	}
	delete(s.pipelines, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
	return clone(p), nil
}

// AddNode places a node in a pipeline. A node without an id gets a fresh
// one; a node without a type takes its template's type. Adding a node whose
// id is already present updates it, and its type only changes while it has
// no edges.
func (s *Store) AddNode(pipelineID string, n pipeline.Node) (pipeline.Node, error) {
	if n.Type == "" || n.Package == "" {
		tmpl, err := s.catalog.Template(n.RegistryName)
		if err != nil {
			return pipeline.Node{}, err
		}
		if n.Type == "" {
			n.Type = tmpl.Type
		}
		if n.Package == "" {
			n.Package = tmpl.Package
		}
	}
	if !n.Type.Known() {
		return pipeline.Node{}, fmt.Errorf("add node: %w: %q", pipeline.ErrUnknownNodeType, n.Type)
	}
	if n.Name == "" {
		n.Name = n.RegistryName
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookup(pipelineID)
	if err != nil {
		return pipeline.Node{}, err
	}
	for i := range p.Nodes {
		if p.Nodes[i].ID != n.ID {
			continue
		}
		if err := p.Retype(n.ID, n.Type); err != nil {
			return pipeline.Node{}, err
		}
		p.Nodes[i] = n
		return n, nil
	}
	p.Nodes = append(p.Nodes, n)
	return n, nil
}

// RemoveNode removes a node and every edge touching it.
func (s *Store) RemoveNode(pipelineID string, n pipeline.Node) (pipeline.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookup(pipelineID)
	if err != nil {
		return pipeline.Node{}, err
	}
	stored, ok := p.Node(n.ID)
	if !ok {
		return pipeline.Node{}, fmt.Errorf("remove node: %w: %q", pipeline.ErrUnknownNode, n.ID)
	}
	p.Nodes = slices.DeleteFunc(p.Nodes, func(x pipeline.Node) bool { return x.ID == n.ID })
	p.Edges = slices.DeleteFunc(p.Edges, func(e pipeline.Edge) bool { return e.Source == n.ID || e.Sink == n.ID })
	return stored, nil
}

// AddEdge connects two nodes of a pipeline. Types are checked against the
// stored nodes, not the ones supplied in the request.
func (s *Store) AddEdge(pipelineID string, src, sink pipeline.Node, edgeID string) (pipeline.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookup(pipelineID)
	if err != nil {
		return pipeline.Edge{}, err
	}
	from, ok := p.Node(src.ID)
	if !ok {
		return pipeline.Edge{}, fmt.Errorf("add edge: %w: %q", pipeline.ErrUnknownNode, src.ID)
	}
	to, ok := p.Node(sink.ID)
	if !ok {
		return pipeline.Edge{}, fmt.Errorf("add edge: %w: %q", pipeline.ErrUnknownNode, sink.ID)
	}
	if err := pipeline.CheckLink(from, to); err != nil {
		return pipeline.Edge{}, err
	}
	if edgeID == "" {
		edgeID = uuid.NewString()
	}
	if _, taken := p.Edge(edgeID); taken {
		return pipeline.Edge{}, fmt.Errorf("%w: %q", ErrDuplicateEdge, edgeID)
	}
	e := pipeline.Edge{ID: edgeID, Source: from.ID, Sink: to.ID}
	p.Edges = append(p.Edges, e)
	return e, nil
}

// RemoveEdge disconnects two nodes. With an edge id only that edge is
// removed; without one the first edge between the endpoints is.
func (s *Store) RemoveEdge(pipelineID string, src, sink pipeline.Node, edgeID string) (pipeline.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookup(pipelineID)
	if err != nil {
		return pipeline.Edge{}, err
	}
	idx := slices.IndexFunc(p.Edges, func(e pipeline.Edge) bool {
		if edgeID != "" {
			return e.ID == edgeID
		}
		return e.Source == src.ID && e.Sink == sink.ID
	})
	if idx < 0 {
		return pipeline.Edge{}, fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, src.ID, sink.ID)
	}
	e := p.Edges[idx]
	p.Edges = slices.Delete(p.Edges, idx, idx+1)
	return e, nil
}
