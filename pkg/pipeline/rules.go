package pipeline

import "fmt"

// LinkRule is one allowed (source type, target type) pair.
type LinkRule struct {
	Source NodeType
	Target NodeType
}

// linkRules is the closed table of allowed connections. Anything not listed,
// including STEP→STEP and every edge leaving a SINK, is rejected.
var linkRules = []LinkRule{
	{Source: NodeTypeSource, Target: NodeTypeStep},
	{Source: NodeTypeStep, Target: NodeTypeSink},
	{Source: NodeTypeSource, Target: NodeTypeSink},
}

// LinkRules returns a copy of the allowed connection table, in order.
func LinkRules() []LinkRule {
	out := make([]LinkRule, len(linkRules))
	copy(out, linkRules)
	return out
}

// IsValidLink reports whether an edge from a src-typed node to a tgt-typed
// node is allowed. Matching is by exact equality against the table.
func IsValidLink(src, tgt NodeType) bool {
	for _, r := range linkRules {
		if r.Source == src && r.Target == tgt {
			return true
		}
	}
	return false
}

// CanLink is IsValidLink applied to two nodes.
func CanLink(src, sink Node) bool {
	return IsValidLink(src.Type, sink.Type)
}

// CheckLink returns ErrInvalidLink, annotated with both node types, when the
// connection is not allowed.
func CheckLink(src, sink Node) error {
	if CanLink(src, sink) {
		return nil
	}
	return fmt.Errorf("%s (%s) -> %s (%s): %w", src.ID, src.Type, sink.ID, sink.Type, ErrInvalidLink)
}
