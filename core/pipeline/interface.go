package pipeline

import (
	"context"

	"github.com/graphein/graphein/model"
)

// ChunkFunc splits source text into ordered chunks. Ordinals are zero-based
// and the chunks cover the full input in order.
type ChunkFunc func(text string) ([]*model.Chunk, error)

// Provider generates embeddings for a batch of texts. The result preserves
// input order and has exactly one vector per input text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// EntityMention is a raw entity occurrence in one chunk, before merging.
type EntityMention struct {
	Name       string
	Type       model.EntityType
	Confidence float64
	Start      int
	End        int
}

// RelationMention is a raw relationship occurrence between two entity
// mentions, referenced by name. Entity IDs are resolved during merging.
type RelationMention struct {
	SourceName string
	SourceType model.EntityType
	TargetName string
	TargetType model.EntityType
	Type       model.RelationType
	Confidence float64
}

// EntityExtractFunc extracts entity mentions from chunk text.
type EntityExtractFunc func(text string) ([]EntityMention, error)

// RelationExtractFunc extracts relationship mentions from chunk text, given
// the entity mentions already found in it.
type RelationExtractFunc func(text string, mentions []EntityMention) ([]RelationMention, error)

// Pipeline bundles the per-collection processing functions.
type Pipeline struct {
	Chunker           ChunkFunc
	Embedder          Provider
	EntityExtractor   EntityExtractFunc
	RelationExtractor RelationExtractFunc
}

// NewPipeline creates a processing pipeline from a collection configuration.
// The embedder is resolved from the registry by the configured model id.
func NewPipeline(config *model.CollectionConfig, registry *Registry) (*Pipeline, error) {
	embedder, err := registry.Resolve(config.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	chunker, err := NewChunker(config, embedder)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Chunker:           chunker,
		Embedder:          embedder,
		EntityExtractor:   PatternEntityExtractor(),
		RelationExtractor: CombinedRelationExtractor(),
	}, nil
}

// SetEntityExtractor replaces the entity extraction function
func (p *Pipeline) SetEntityExtractor(extractor EntityExtractFunc) {
	p.EntityExtractor = extractor
}

// SetRelationExtractor replaces the relation extraction function
func (p *Pipeline) SetRelationExtractor(extractor RelationExtractFunc) {
	p.RelationExtractor = extractor
}
