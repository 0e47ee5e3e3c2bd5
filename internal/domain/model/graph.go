package model

// GraphNode is one node of a standard backend's execution graph. Inputs may
// reference other nodes as ["<node id>", <output index>] pairs, matching the
// node-graph wire format.
type GraphNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// ExecutionGraph is the backend-specific rendering of a GenerationRequest.
// It is opaque to the scheduler: only the execution client for the matching
// backend kind interprets it. Exactly one of Nodes or Payload is populated.
type ExecutionGraph struct {
	BackendKind BackendKind
	Family      string
	Nodes       map[string]GraphNode
	Payload     map[string]any
}
