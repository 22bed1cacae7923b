package model

import (
	"time"

	"github.com/google/uuid"
)

// QueryOptions configures one retrieval call. Zero values fall back to the
// collection configuration.
type QueryOptions struct {
	VectorTopK int `json:"vector_top_k,omitempty"`
	GraphTopK  int `json:"graph_top_k,omitempty"`
	MaxHops    int `json:"max_hops,omitempty"`
	// HybridWeight overrides the collection's vector weight when set. A
	// pointer distinguishes an explicit zero (pure graph weighting) from
	// unset.
	HybridWeight        *float64 `json:"hybrid_weight,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
	TopN                int      `json:"top_n,omitempty"`
	// RelationTypes restricts graph traversal to the given edge types.
	RelationTypes []RelationType `json:"relation_types,omitempty"`
	// GraphTimeout bounds the graph branch; on expiry the query proceeds
	// vector-only and the bundle is flagged degraded.
	GraphTimeout time.Duration `json:"graph_timeout,omitempty"`
}

// ApplyDefaults fills unset options from the collection configuration.
func (o *QueryOptions) ApplyDefaults(cfg *CollectionConfig) {
	if o.VectorTopK <= 0 {
		o.VectorTopK = cfg.VectorTopK
	}
	if o.GraphTopK <= 0 {
		o.GraphTopK = cfg.GraphTopK
	}
	if o.MaxHops <= 0 {
		o.MaxHops = cfg.GraphMaxHops
	}
	if o.HybridWeight == nil {
		weight := cfg.HybridWeight
		o.HybridWeight = &weight
	}
	if o.TopN <= 0 {
		o.TopN = o.VectorTopK
	}
	if o.GraphTimeout <= 0 {
		o.GraphTimeout = 2 * time.Second
	}
}

// Float64 returns a pointer to v, for optional QueryOptions fields.
func Float64(v float64) *float64 {
	return &v
}

// RetrievalMethod records which branch produced a result chunk.
type RetrievalMethod string

const (
	RetrievalMethodVector RetrievalMethod = "vector"
	RetrievalMethodGraph  RetrievalMethod = "graph"
	RetrievalMethodHybrid RetrievalMethod = "hybrid"
)

// RetrievedChunk is one ranked result with its score components.
type RetrievedChunk struct {
	Chunk           *Chunk          `json:"chunk"`
	Score           float64         `json:"score"`
	VectorScore     float64         `json:"vector_score"`
	GraphScore      float64         `json:"graph_score"`
	GraphDistance   int             `json:"graph_distance,omitempty"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`
	// Path through the entity graph that justified a graph-sourced
	// inclusion; nil for vector-only results.
	Path *EntityPath `json:"path,omitempty"`
}

// ContextBundle is the ranked, explainable result of one hybrid query.
// A bundle with no chunks is a valid no-matches response, not an error.
type ContextBundle struct {
	Chunks []*RetrievedChunk `json:"chunks"`
	// Entities and Relationships provide the graph context that justified
	// graph-sourced inclusions.
	Entities      []*Entity       `json:"entities,omitempty"`
	Relationships []*Relationship `json:"relationships,omitempty"`
	// Degraded is set when the graph branch failed or timed out and the
	// bundle was produced from the vector branch alone.
	Degraded bool `json:"degraded"`
	// Provider names the embedding provider that serviced the query.
	Provider string `json:"provider,omitempty"`
}

// ChunkIDs returns the chunk ids of the bundle in rank order.
func (b *ContextBundle) ChunkIDs() []int64 {
	ids := make([]int64, len(b.Chunks))
	for i, c := range b.Chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}

// EntityRef is a matched entity used as a traversal start point.
type EntityRef struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"entity_type"`
	Confidence float64    `json:"confidence"`
}
