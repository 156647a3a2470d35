// Package render turns pipeline server responses into renderable elements.
//
// Projections never look at transport details: they take a finished
// result.Result and feed a GraphRenderer, or build list items, and they
// handle the error branch the same way every time.
package render

import (
	"slices"
	"sort"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipedash/pkg/result"
)

// Element colors.
const (
	ColorPipelineNode = "green"
	ColorTemplate     = "gray"
	ColorError        = "red"
)

// ErrorItemID is the id of the single list item produced for a failed
// pipeline listing.
const ErrorItemID = "error"

// NodeElement is a drawable box for one node. Type and RegistryName are
// carried so link validity can be recovered from the element alone.
type NodeElement struct {
	ID           string
	Label        string
	Type         pipeline.NodeType
	RegistryName string
	Color        string
}

// EdgeElement is a drawable connector between two node elements.
type EdgeElement struct {
	ID     string
	Source string
	Target string
}

// ErrorMarker is the single element drawn in place of a graph that could
// not be loaded.
type ErrorMarker struct {
	Message string
	Color   string
}

// GraphRenderer is the drawing surface projections write to.
type GraphRenderer interface {
	AddNode(NodeElement)
	AddEdge(EdgeElement)
	AddErrorMarker(ErrorMarker)
}

// ListItem is one row of the pipeline picker.
type ListItem struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Active bool   `json:"active"`
}

func nodeElement(n pipeline.Node, color string) NodeElement {
	return NodeElement{
		ID:           n.ID,
		Label:        n.Name,
		Type:         n.Type,
		RegistryName: n.RegistryName,
		Color:        color,
	}
}

func errorMarker(e pipeline.ResponseError) ErrorMarker {
	return ErrorMarker{Message: e.Message, Color: ColorError}
}

// ProjectPipeline draws a pipeline: every node, then every edge whose two
// endpoints are present. On error it draws one error marker and nothing else.
func ProjectPipeline(r result.Result[pipeline.Pipeline, pipeline.ResponseError], g GraphRenderer) {
	result.Match(r,
		func(p pipeline.Pipeline) struct{} {
			present := make(map[string]bool, len(p.Nodes))
			for _, n := range p.Nodes {
				g.AddNode(nodeElement(n, ColorPipelineNode))
				present[n.ID] = true
			}
			for _, e := range p.Edges {
				if !present[e.Source] || !present[e.Sink] {
					continue
				}
				g.AddEdge(EdgeElement{ID: e.ID, Source: e.Source, Target: e.Sink})
			}
			return struct{}{}
		},
		func(e pipeline.ResponseError) struct{} {
			g.AddErrorMarker(errorMarker(e))
			return struct{}{}
		},
	)
}

// ProjectNodeTemplates draws the template palette sorted by name. Equal
// names keep their input order and the input slice is left untouched.
func ProjectNodeTemplates(r result.Result[[]pipeline.Node, pipeline.ResponseError], g GraphRenderer) {
	result.Match(r,
		func(nodes []pipeline.Node) struct{} {
			sorted := slices.Clone(nodes)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
			for _, n := range sorted {
				g.AddNode(nodeElement(n, ColorTemplate))
			}
			return struct{}{}
		},
		func(e pipeline.ResponseError) struct{} {
			g.AddErrorMarker(errorMarker(e))
			return struct{}{}
		},
	)
}

// PipelineListItems builds picker rows, newest first. With an active
// pipeline only the row with its id is active; without one the first row
// is. A failed listing yields a single inactive row carrying the message.
func PipelineListItems(r result.Result[[]pipeline.Pipeline, pipeline.ResponseError], active *pipeline.Pipeline) []ListItem {
	return result.Match(r,
		func(ps []pipeline.Pipeline) []ListItem {
			items := make([]ListItem, 0, len(ps))
			matched := false
			for i := len(ps) - 1; i >= 0; i-- {
				p := ps[i]
				on := len(items) == 0
				if active != nil {
					on = !matched && p.ID == active.ID
					matched = matched || on
				}
				items = append(items, ListItem{ID: p.ID, Text: p.Name, Active: on})
			}
			return items
		},
		func(e pipeline.ResponseError) []ListItem {
			return []ListItem{{ID: ErrorItemID, Text: e.Message}}
		},
	)
}

// LinkAllowed reports whether a connector may be drawn from src to tgt.
func LinkAllowed(src, tgt NodeElement) bool {
	return pipeline.IsValidLink(src.Type, tgt.Type)
}
