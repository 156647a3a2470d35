package pipeline

import "errors"

var (
	// ErrUnknownNode is returned when a node id is not part of a pipeline.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownNodeType is returned for a type tag outside SOURCE/STEP/SINK.
	ErrUnknownNodeType = errors.New("unknown node type")
	// ErrNodeLinked is returned when retyping a node that has edges.
	ErrNodeLinked = errors.New("node type is fixed while it has edges")
	// ErrInvalidLink is returned for a connection the validity rules reject.
	ErrInvalidLink = errors.New("link not allowed between these node types")
)
