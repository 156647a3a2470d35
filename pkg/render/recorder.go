package render

// Recorder is a GraphRenderer that keeps every element in call order.
type Recorder struct {
	Nodes   []NodeElement
	Edges   []EdgeElement
	Markers []ErrorMarker
}

var _ GraphRenderer = (*Recorder)(nil)

func (r *Recorder) AddNode(n NodeElement)        { r.Nodes = append(r.Nodes, n) }
func (r *Recorder) AddEdge(e EdgeElement)        { r.Edges = append(r.Edges, e) }
func (r *Recorder) AddErrorMarker(m ErrorMarker) { r.Markers = append(r.Markers, m) }

// Len counts all recorded elements.
func (r *Recorder) Len() int { return len(r.Nodes) + len(r.Edges) + len(r.Markers) }

// Node returns the recorded node element with the given id.
func (r *Recorder) Node(id string) (NodeElement, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeElement{}, false
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.Nodes, r.Edges, r.Markers = nil, nil, nil
}
