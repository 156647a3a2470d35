package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

// Text collects elements and prints them as an aligned summary.
type Text struct {
	Recorder
	Title string
}

var _ GraphRenderer = (*Text)(nil)

// flowOrder returns node ids breadth-first from every SOURCE node, in
// recorded order; unreachable nodes follow sorted by id.
func (t *Text) flowOrder() []string {
	out := map[string][]string{}
	for _, e := range t.Edges {
		out[e.Source] = append(out[e.Source], e.Target)
	}

	visited := map[string]bool{}
	var order, queue []string
	for _, n := range t.Nodes {
		if n.Type == pipeline.NodeTypeSource {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		order = append(order, cur)
		for _, next := range out[cur] {
			if !visited[next] {
				queue = append(queue, next)
			}
		}
	}

	var rest []string
	for _, n := range t.Nodes {
		if !visited[n.ID] {
			rest = append(rest, n.ID)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// truncate shortens s to maxLen runes, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// WriteTo prints the summary.
func (t *Text) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.String())
	return int64(n), err
}

func (t *Text) String() string {
	var sb strings.Builder

	for _, m := range t.Markers {
		fmt.Fprintf(&sb, "error: %s\n", m.Message)
	}
	if len(t.Nodes) == 0 && len(t.Markers) > 0 {
		return sb.String()
	}

	if t.Title != "" {
		fmt.Fprintf(&sb, "Pipeline: %s  (%d nodes, %d edges)\n", t.Title, len(t.Nodes), len(t.Edges))
	}

	maxIDLen := 4
	for _, n := range t.Nodes {
		maxIDLen = max(maxIDLen, len(n.ID))
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, id := range t.flowOrder() {
		n, _ := t.Node(id)
		label := truncate(n.Label, 40)
		if n.RegistryName != "" && n.RegistryName != n.Label {
			label += " (" + n.RegistryName + ")"
		}
		fmt.Fprintf(&sb, "  %-*s  %-6s  %s\n", maxIDLen, n.ID, string(n.Type), label)
	}

	if len(t.Edges) == 0 {
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nEdges:\n")
	maxFromLen := 4
	for _, e := range t.Edges {
		maxFromLen = max(maxFromLen, len(e.Source))
	}
	for _, e := range t.Edges {
		fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxFromLen, e.Source, e.Target)
	}
	return sb.String()
}
