package model

import (
	"time"

	"github.com/google/uuid"
)

// RelationType is the fixed set of directed relationship categories.
type RelationType string

const (
	RelationRelatedTo RelationType = "related_to"
	RelationPartOf    RelationType = "part_of"
	RelationCreatedBy RelationType = "created_by"
	RelationUsedBy    RelationType = "used_by"
	RelationLocatedIn RelationType = "located_in"
	RelationWorksFor  RelationType = "works_for"
	RelationMentions  RelationType = "mentions"
	RelationRefs      RelationType = "references"
	RelationDependsOn RelationType = "depends_on"
	RelationSimilarTo RelationType = "similar_to"
)

// Relationship is a typed, directed edge between two entities. The triple
// (source, target, type) is unique per collection; duplicate extractions merge
// by maximum confidence. Different types between the same pair stay distinct.
type Relationship struct {
	ID             uuid.UUID    `json:"id"`
	CollectionID   int64        `json:"collection_id"`
	SourceEntityID uuid.UUID    `json:"source_entity_id"`
	TargetEntityID uuid.UUID    `json:"target_entity_id"`
	Type           RelationType `json:"relation_type"`
	Confidence     float64      `json:"confidence"`
	EvidenceChunks []int64      `json:"evidence_chunks,omitempty"`
	Metadata       Metadata     `json:"metadata,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EntityPath is one traversal path through the entity graph, used to explain
// why a graph-sourced chunk was included in a result bundle.
type EntityPath struct {
	EntityIDs []uuid.UUID `json:"entity_ids"`
	Hops      int         `json:"hops"`
}
