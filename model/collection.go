package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ChunkStrategy selects how a source document is split into chunks.
type ChunkStrategy string

const (
	ChunkStrategyFixedSize     ChunkStrategy = "fixed_size"
	ChunkStrategySentence      ChunkStrategy = "sentence"
	ChunkStrategyParagraph     ChunkStrategy = "paragraph"
	ChunkStrategySemantic      ChunkStrategy = "semantic"
	ChunkStrategySlidingWindow ChunkStrategy = "sliding_window"
)

// CollectionConfig holds the per-collection processing and retrieval
// configuration. It is validated on collection creation and immutable once
// sources exist, unless an explicit reindex is run.
type CollectionConfig struct {
	ChunkStrategy       ChunkStrategy `json:"chunk_strategy" validate:"required,oneof=fixed_size sentence paragraph semantic sliding_window"`
	ChunkSize           int           `json:"chunk_size" validate:"required,gt=0"`
	ChunkOverlap        int           `json:"chunk_overlap" validate:"gte=0"`
	EmbeddingModel      string        `json:"embedding_model" validate:"required"`
	SimilarityThreshold float64       `json:"similarity_threshold" validate:"gte=0,lte=1"`
	ConfidenceThreshold float64       `json:"confidence_threshold" validate:"gte=0,lte=1"`
	GraphMaxHops        int           `json:"graph_max_hops" validate:"gte=0"`
	HybridWeight        float64       `json:"hybrid_weight" validate:"gte=0,lte=1"`
	VectorTopK          int           `json:"vector_top_k" validate:"gt=0"`
	GraphTopK           int           `json:"graph_top_k" validate:"gt=0"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Value implements the driver.Valuer interface for database storage
func (c CollectionConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for database retrieval
func (c *CollectionConfig) Scan(value interface{}) error {
	if value == nil {
		*c = CollectionConfig{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("error in byte assertion: %w", errors.New("type assertion to []byte failed"))
	}

	return json.Unmarshal(b, c)
}

// Validate checks the configuration and returns ErrConfig (wrapped) on the
// first violation. Cross-field rules that struct tags cannot express are
// checked explicitly.
func (c *CollectionConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)", ErrConfig, c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// RequiresReindex reports whether switching to the new configuration changes
// chunk boundaries or embeddings, which invalidates the indexed data.
func (c *CollectionConfig) RequiresReindex(next *CollectionConfig) bool {
	return c.ChunkStrategy != next.ChunkStrategy ||
		c.ChunkSize != next.ChunkSize ||
		c.ChunkOverlap != next.ChunkOverlap ||
		c.EmbeddingModel != next.EmbeddingModel
}

// DefaultCollectionConfig returns a sensible default configuration
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		ChunkStrategy:       ChunkStrategySentence,
		ChunkSize:           500,
		ChunkOverlap:        50,
		EmbeddingModel:      "local/all-MiniLM-L6-v2",
		SimilarityThreshold: 0.85,
		ConfidenceThreshold: 0.5,
		GraphMaxHops:        2,
		HybridWeight:        0.7,
		VectorTopK:          10,
		GraphTopK:           10,
	}
}

// Collection is a named, versioned container of sources, chunks, entities and
// relationships with its own configuration.
type Collection struct {
	ID        int64            `json:"id"`
	RID       uuid.UUID        `json:"rid"`
	Name      string           `json:"name"`
	Owner     string           `json:"owner,omitempty"`
	Config    CollectionConfig `json:"config"`
	Metadata  Metadata         `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
