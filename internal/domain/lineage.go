package domain

import "time"

// EdgeType classifies how data flows along a lineage edge.
type EdgeType string

// Lineage edge types.
const (
	EdgeTransformed EdgeType = "TRANSFORMED"
	EdgeView        EdgeType = "VIEW"
	EdgeCopied      EdgeType = "COPIED"
)

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeTransformed, EdgeView, EdgeCopied:
		return true
	}
	return false
}

// NodeKind distinguishes datasets from jobs in the lineage graph.
type NodeKind string

// Lineage node kinds.
const (
	NodeDataset NodeKind = "DATASET"
	NodeJob     NodeKind = "JOB"
)

// LineageEdge is a directed "data flows from upstream to downstream" relation.
type LineageEdge struct {
	ID             string    `json:"id,omitempty"`
	UpstreamID     string    `json:"upstreamId"`
	DownstreamID   string    `json:"downstreamId"`
	EdgeType       EdgeType  `json:"edgeType"`
	DownstreamKind NodeKind  `json:"downstreamKind,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Validate checks the edge is well formed.
func (e LineageEdge) Validate() error {
	if e.UpstreamID == "" || e.DownstreamID == "" {
		return ErrValidation("lineage edge requires upstream and downstream ids")
	}
	if e.UpstreamID == e.DownstreamID {
		return ErrValidation("lineage edge %q must not point to itself", e.UpstreamID)
	}
	if !e.EdgeType.Valid() {
		return ErrValidation("invalid edge type %q", e.EdgeType)
	}
	switch e.DownstreamKind {
	case "", NodeDataset, NodeJob:
	default:
		return ErrValidation("invalid node kind %q", e.DownstreamKind)
	}
	return nil
}

// ImpactEntry is one downstream node reached from a changed dataset.
type ImpactEntry struct {
	AffectedDatasetID string   `json:"affectedDatasetId"`
	Kind              NodeKind `json:"kind"`
	Distance          int      `json:"distance"`
	Path              []string `json:"path"`
	EdgeType          EdgeType `json:"edgeType"`
	InheritedSeverity Severity `json:"inheritedSeverity"`
}

// ImpactLevel buckets an impact score.
type ImpactLevel string

// Impact levels.
const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// ImpactSummary aggregates an impact analysis.
type ImpactSummary struct {
	Total       int         `json:"total"`
	Datasets    int         `json:"datasets"`
	Jobs        int         `json:"jobs"`
	MaxDistance int         `json:"maxDistance"`
	Score       int         `json:"score"`
	Level       ImpactLevel `json:"level"`
}

// LineageCycle records an edge that closes a cycle during traversal.
type LineageCycle struct {
	From string `json:"from"`
	To   string `json:"to"`
}
