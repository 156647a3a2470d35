package pipeline

import (
	"fmt"
	"sort"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// ParseDOT reads a Graphviz digraph describing a pipeline and returns the
// matching import config. A node's registry name is its `registry_name`
// attribute, or its id when the attribute is absent. An optional `worker`
// attribute assigns the node to a worker, and a graph-level `logdir`
// attribute sets the manager log directory.
//
//	digraph demo {
//	    logdir="runs"
//	    cam  [registry_name=Webcam, worker=w1]
//	    ShowWindow [worker=w1]
//	    cam -> ShowWindow
//	}
func ParseDOT(src string) (*ImportConfig, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	names := make(map[string]string, len(collector.order))
	seen := make(map[string]string, len(collector.order))
	nodes := make([]string, 0, len(collector.order))
	for _, id := range collector.order {
		name := collector.nodes[id]["registry_name"]
		if name == "" {
			name = id
		}
		if other, dup := seen[name]; dup {
			return nil, fmt.Errorf("dot nodes %q and %q both use registry name %q", other, id, name)
		}
		seen[name] = id
		names[id] = name
		nodes = append(nodes, name)
	}
	adj := make([][2]string, 0, len(collector.edges))
	for _, e := range collector.edges {
		adj = append(adj, [2]string{names[e[0]], names[e[1]]})
	}

	cfg := &ImportConfig{
		Nodes:         nodes,
		Adj:           adj,
		ManagerConfig: ManagerConfig{Logdir: collector.graphAttrs["logdir"]},
		Mappings:      map[string][]string{},
	}
	if cfg.ManagerConfig.Logdir == "" {
		cfg.ManagerConfig.Logdir = "logs"
	}

	for _, id := range collector.order {
		worker := collector.nodes[id]["worker"]
		if worker == "" {
			continue
		}
		cfg.Mappings[worker] = append(cfg.Mappings[worker], names[id])
	}
	workers := make([]string, 0, len(cfg.Mappings))
	for w := range cfg.Mappings {
		workers = append(workers, w)
	}
	sort.Strings(workers)
	for _, w := range workers {
		cfg.Workers = append(cfg.Workers, WorkerConfig{Name: w})
	}

	return cfg, nil
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name       string
	order      []string
	nodes      map[string]map[string]string // id → attrs
	edges      [][2]string
	graphAttrs map[string]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		nodes:      make(map[string]map[string]string),
		graphAttrs: make(map[string]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	from, to := unquote(src), unquote(dst)
	// Edge statements may introduce nodes that were never declared.
	for _, id := range []string{from, to} {
		if _, ok := c.nodes[id]; !ok {
			c.nodes[id] = map[string]string{}
			c.order = append(c.order, id)
		}
	}
	c.edges = append(c.edges, [2]string{from, to})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, field, value string) error {
	c.graphAttrs[field] = unquote(value)
	return nil
}

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
