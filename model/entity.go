package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType is the fixed set of entity categories the extractors produce.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeLocation     EntityType = "location"
	EntityTypeConcept      EntityType = "concept"
	EntityTypeProduct      EntityType = "product"
	EntityTypeEvent        EntityType = "event"
	EntityTypeDate         EntityType = "date"
	EntityTypeTechnology   EntityType = "technology"
	EntityTypeProcess      EntityType = "process"
	EntityTypeCustom       EntityType = "custom"
)

// Entity is a de-duplicated, typed representation of a named thing. Entities
// are unique per collection on (normalized name, type); merging keeps the
// maximum confidence and the union of evidence chunks.
type Entity struct {
	ID             uuid.UUID  `json:"id"`
	CollectionID   int64      `json:"collection_id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Type           EntityType `json:"entity_type"`
	Confidence     float64    `json:"confidence"`
	EvidenceChunks []int64    `json:"evidence_chunks,omitempty"`
	Metadata       Metadata   `json:"metadata,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// determiners stripped during name normalization.
var determiners = map[string]bool{"the": true, "a": true, "an": true}

// NormalizeEntityName case-folds, strips leading determiners and collapses
// whitespace so that "The  Acme Corp" and "acme corp" share a dedup key.
func NormalizeEntityName(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	for len(fields) > 0 && determiners[fields[0]] {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}
