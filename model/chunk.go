package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk represents a contiguous span of source text plus its embedding.
// Chunks of one source are totally ordered by Ordinal (zero-based) and are
// immutable after creation.
type Chunk struct {
	ID        int64     `json:"id"`
	SourceID  int64     `json:"source_id"`
	SourceRID uuid.UUID `json:"source_rid"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	StartPos  int       `json:"start_pos"`
	EndPos    int       `json:"end_pos"`
	Embedding []float32 `json:"embedding,omitempty"`
	// Advisory quality metadata; low-quality chunks are still indexed but
	// may be down-weighted at retrieval time.
	Coherence    float64   `json:"coherence"`
	Completeness float64   `json:"completeness"`
	TokenCount   int       `json:"token_count"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	// Result fields, populated by retrieval only
	Similarity float64 `json:"similarity,omitempty"`
}

// QualityScore combines the advisory quality signals for ranking tie-breaks.
func (c *Chunk) QualityScore() float64 {
	return (c.Coherence + c.Completeness) / 2
}
