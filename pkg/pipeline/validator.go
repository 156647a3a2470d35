package pipeline

import (
	"fmt"
	"strings"
)

// LintError describes a structural problem in a pipeline.
type LintError struct {
	NodeID  string
	EdgeID  string
	Message string
}

func (e LintError) Error() string {
	switch {
	case e.EdgeID != "":
		return fmt.Sprintf("edge %q: %s", e.EdgeID, e.Message)
	case e.NodeID != "":
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// Validate checks a pipeline for structural correctness.
// Returns all discovered errors (not just the first).
func Validate(p *Pipeline) []LintError {
	var errs []LintError

	nodes := make(map[string]Node, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			errs = append(errs, LintError{Message: fmt.Sprintf("node %q has an empty id", n.Name)})
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			errs = append(errs, LintError{NodeID: n.ID, Message: "duplicate node id"})
			continue
		}
		nodes[n.ID] = n
		if !n.Type.Known() {
			errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)})
		}
	}

	seenEdges := make(map[string]bool, len(p.Edges))
	for _, e := range p.Edges {
		if e.ID != "" {
			if seenEdges[e.ID] {
				errs = append(errs, LintError{EdgeID: e.ID, Message: "duplicate edge id"})
			}
			seenEdges[e.ID] = true
		}

		// All edge endpoints must reference existing nodes
		src, srcOK := nodes[e.Source]
		if !srcOK {
			errs = append(errs, LintError{EdgeID: e.ID, Message: fmt.Sprintf("references unknown source node %q", e.Source)})
		}
		sink, sinkOK := nodes[e.Sink]
		if !sinkOK {
			errs = append(errs, LintError{EdgeID: e.ID, Message: fmt.Sprintf("references unknown sink node %q", e.Sink)})
		}
		if srcOK && sinkOK && !CanLink(src, sink) {
			errs = append(errs, LintError{
				EdgeID:  e.ID,
				Message: fmt.Sprintf("%s -> %s is not an allowed connection", src.Type, sink.Type),
			})
		}
	}

	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error message listing all lint errors.
func ValidateErr(p *Pipeline) error {
	errs := Validate(p)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("pipeline validation failed:\n  %s", strings.Join(msgs, "\n  "))
}
