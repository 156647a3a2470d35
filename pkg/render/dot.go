package render

import (
	"fmt"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// DOT renders elements into a Graphviz digraph. The first failure is kept
// and reported by Err; later calls are ignored.
type DOT struct {
	g      *gographviz.Graph
	err    error
	errors int
}

var _ GraphRenderer = (*DOT)(nil)

// NewDOT starts an empty digraph with the given name.
func NewDOT(name string) *DOT {
	if name == "" {
		name = "pipeline"
	}
	d := &DOT{g: gographviz.NewGraph()}
	d.try(d.g.SetName(dotQuote(name)))
	d.try(d.g.SetDir(true))
	d.try(d.g.AddAttr(d.g.Name, "rankdir", "LR"))
	return d
}

func (d *DOT) try(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func (d *DOT) box(id, label, fill string) {
	if d.err != nil {
		return
	}
	d.try(d.g.AddNode(d.g.Name, dotQuote(id), map[string]string{
		"label":     dotQuote(label),
		"shape":     "box",
		"style":     dotQuote("rounded,filled"),
		"fillcolor": fill,
		"fontcolor": "white",
	}))
}

func (d *DOT) AddNode(n NodeElement) {
	label := n.Label
	if n.Type != "" {
		label = fmt.Sprintf("%s\n%s", n.Label, n.Type)
	}
	d.box(n.ID, label, n.Color)
}

func (d *DOT) AddEdge(e EdgeElement) {
	if d.err != nil {
		return
	}
	attrs := map[string]string{}
	if e.ID != "" {
		attrs["id"] = dotQuote(e.ID)
	}
	d.try(d.g.AddEdge(dotQuote(e.Source), dotQuote(e.Target), true, attrs))
}

// AddErrorMarker draws the message as a box. Several markers get distinct
// ids.
func (d *DOT) AddErrorMarker(m ErrorMarker) {
	d.errors++
	id := ErrorItemID
	if d.errors > 1 {
		id = fmt.Sprintf("%s%d", ErrorItemID, d.errors)
	}
	d.box(id, m.Message, m.Color)
}

// Err reports the first failure to add an element.
func (d *DOT) Err() error { return d.err }

// String returns the digraph source.
func (d *DOT) String() string { return d.g.String() }

// dotQuote returns s as a quoted DOT string.
func dotQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}
