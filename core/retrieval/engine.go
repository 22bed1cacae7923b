package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/graphein/graphein/core/graph"
	"github.com/graphein/graphein/core/pipeline"
	"github.com/graphein/graphein/model"
	"golang.org/x/sync/errgroup"
)

// queryConfidenceThreshold accepts weaker mentions at query time than during
// ingestion, because a false start entity costs little here.
const queryConfidenceThreshold = 0.3

// maxQueryEntities caps the number of traversal start entities per query.
const maxQueryEntities = 5

// VectorStore is the vector branch of retrieval.
type VectorStore interface {
	SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, collectionRID uuid.UUID) ([]*model.Chunk, error)
	SelectChunksByIDs(ids []int64) ([]*model.Chunk, error)
}

// EntityStore matches query mentions against stored entities.
type EntityStore interface {
	SelectEntityByNormalizedName(collectionID int64, normalizedName string, entityType model.EntityType) (*model.Entity, error)
	SearchEntities(collectionID int64, term string, limit int) ([]*model.Entity, error)
}

// Engine combines vector similarity search with entity graph expansion into
// ranked, explainable context bundles.
type Engine struct {
	vectors   VectorStore
	entities  EntityStore
	graph     graph.GraphStore
	embedder  pipeline.Provider
	extractor pipeline.EntityExtractFunc
	logger    *slog.Logger
}

// NewEngine creates a retrieval engine
func NewEngine(vectors VectorStore, entities EntityStore, graphStore graph.GraphStore, embedder pipeline.Provider, extractor pipeline.EntityExtractFunc, logger *slog.Logger) *Engine {
	return &Engine{
		vectors:   vectors,
		entities:  entities,
		graph:     graphStore,
		embedder:  embedder,
		extractor: extractor,
		logger:    logger,
	}
}

// graphHit is one chunk surfaced by the graph branch.
type graphHit struct {
	score    float64
	distance int
	path     *model.EntityPath
}

// graphContext is the result of the graph branch of one query.
type graphContext struct {
	hits          map[int64]*graphHit
	chunks        []*model.Chunk
	entities      []*model.Entity
	relationships []*model.Relationship
}

// Query runs a hybrid retrieval for a natural language query. The vector and
// graph branches run concurrently; the graph branch is bounded by its own
// timeout and degrades to vector-only on failure. A vector branch failure
// fails the query with ErrRetrievalUnavailable.
func (e *Engine) Query(ctx context.Context, text string, collection *model.Collection, opts *model.QueryOptions) (*model.ContextBundle, error) {
	if opts == nil {
		opts = &model.QueryOptions{}
	}
	opts.ApplyDefaults(&collection.Config)

	embeddings, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrRetrievalUnavailable, err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: expected one query embedding, got %d", model.ErrRetrievalUnavailable, len(embeddings))
	}

	var vectorChunks []*model.Chunk
	var graphResult *graphContext
	degraded := false

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		chunks, err := e.vectors.SelectChunksBySimilarity(embeddings[0], opts.VectorTopK, opts.SimilarityThreshold, collection.RID)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrRetrievalUnavailable, err)
		}
		vectorChunks = chunks
		return nil
	})

	group.Go(func() error {
		graphCtx, cancel := context.WithTimeout(groupCtx, opts.GraphTimeout)
		defer cancel()

		result, err := e.graphRetrieve(graphCtx, text, collection, opts)
		if err != nil {
			e.logger.Warn("Graph branch degraded to vector-only", "collection", collection.RID, "error", err)
			degraded = true
			return nil
		}
		graphResult = result
		return nil
	})

	err = group.Wait()
	if err != nil {
		return nil, err
	}
	if graphResult == nil {
		graphResult = &graphContext{hits: map[int64]*graphHit{}}
	}

	bundle := e.merge(vectorChunks, graphResult, opts)
	bundle.Degraded = degraded
	bundle.Provider = e.providerName()

	return bundle, nil
}

// providerName reports which embedding provider serviced the query.
func (e *Engine) providerName() string {
	if failover, ok := e.embedder.(interface{ LastProvider() string }); ok {
		if last := failover.LastProvider(); last != "" {
			return last
		}
	}
	return e.embedder.ModelID()
}

// graphRetrieve extracts entities from the query text, matches them against
// the collection's entity graph and expands outwards. Evidence chunks of
// visited entities are scored by entity confidence decayed per hop.
func (e *Engine) graphRetrieve(ctx context.Context, text string, collection *model.Collection, opts *model.QueryOptions) (*graphContext, error) {
	mentions, err := e.extractor(text)
	if err != nil {
		return nil, err
	}

	matched, err := e.matchEntities(ctx, collection.ID, mentions)
	if err != nil {
		return nil, err
	}

	result := &graphContext{hits: map[int64]*graphHit{}}
	if len(matched) == 0 {
		return result, nil
	}

	visited := map[uuid.UUID]*model.Entity{}
	for _, start := range matched {
		traversal, err := graph.BFS(ctx, e.graph, start.ID, opts.MaxHops, opts.RelationTypes)
		if err != nil {
			return nil, err
		}

		for _, step := range traversal {
			entity := step.Entity
			if _, seen := visited[entity.ID]; !seen {
				visited[entity.ID] = entity
				result.entities = append(result.entities, entity)
			}

			score := entity.Confidence / float64(1+step.Distance)
			for _, chunkID := range entity.EvidenceChunks {
				hit, ok := result.hits[chunkID]
				if !ok || score > hit.score {
					result.hits[chunkID] = &graphHit{
						score:    score,
						distance: step.Distance,
						path:     &model.EntityPath{EntityIDs: step.Path, Hops: step.Distance},
					}
				}
			}
		}
	}

	result.relationships, err = e.connectingRelationships(ctx, visited, opts.RelationTypes)
	if err != nil {
		return nil, err
	}

	err = e.loadGraphChunks(ctx, result, opts.GraphTopK)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// matchEntities resolves query mentions to stored entities, trying the exact
// dedup key first and a substring search second.
func (e *Engine) matchEntities(ctx context.Context, collectionID int64, mentions []pipeline.EntityMention) ([]*model.Entity, error) {
	var matched []*model.Entity
	seen := map[uuid.UUID]bool{}
	names := map[string]bool{}

	for _, mention := range mentions {
		if mention.Confidence < queryConfidenceThreshold {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		normalized := model.NormalizeEntityName(mention.Name)
		if normalized == "" || names[normalized] {
			continue
		}
		names[normalized] = true

		entity, err := e.entities.SelectEntityByNormalizedName(collectionID, normalized, "")
		switch {
		case err == nil:
			if !seen[entity.ID] {
				seen[entity.ID] = true
				matched = append(matched, entity)
			}
		case errors.Is(err, sql.ErrNoRows):
			candidates, err := e.entities.SearchEntities(collectionID, normalized, 3)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
			}
			for _, candidate := range candidates {
				if !seen[candidate.ID] {
					seen[candidate.ID] = true
					matched = append(matched, candidate)
				}
			}
		default:
			return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}

		if len(matched) >= maxQueryEntities {
			break
		}
	}

	if len(matched) > maxQueryEntities {
		matched = matched[:maxQueryEntities]
	}
	return matched, nil
}

// connectingRelationships collects the relationships between visited
// entities for the bundle's graph context.
func (e *Engine) connectingRelationships(ctx context.Context, visited map[uuid.UUID]*model.Entity, relationTypes []model.RelationType) ([]*model.Relationship, error) {
	var connecting []*model.Relationship
	seen := map[uuid.UUID]bool{}

	for entityID := range visited {
		relationships, err := e.graph.GetRelationships(ctx, entityID, relationTypes)
		if err != nil {
			return nil, err
		}
		for _, relationship := range relationships {
			if seen[relationship.ID] {
				continue
			}
			_, sourceVisited := visited[relationship.SourceEntityID]
			_, targetVisited := visited[relationship.TargetEntityID]
			if sourceVisited && targetVisited {
				seen[relationship.ID] = true
				connecting = append(connecting, relationship)
			}
		}
	}

	return connecting, nil
}

// loadGraphChunks keeps the best-scored graph hits and loads their chunks.
func (e *Engine) loadGraphChunks(ctx context.Context, result *graphContext, graphTopK int) error {
	if len(result.hits) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ids := make([]int64, 0, len(result.hits))
	for id := range result.hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if result.hits[ids[i]].score != result.hits[ids[j]].score {
			return result.hits[ids[i]].score > result.hits[ids[j]].score
		}
		return ids[i] < ids[j]
	})

	if len(ids) > graphTopK {
		for _, dropped := range ids[graphTopK:] {
			delete(result.hits, dropped)
		}
		ids = ids[:graphTopK]
	}

	chunks, err := e.vectors.SelectChunksByIDs(ids)
	if err != nil {
		return err
	}
	result.chunks = chunks
	return nil
}

// merge combines the two branches into one ranked result set. Scores are
// min-max normalized per branch within the result set, then combined as
// weight*vector + (1-weight)*graph. A chunk surfaced by both branches gets
// one entry with both components.
func (e *Engine) merge(vectorChunks []*model.Chunk, graphResult *graphContext, opts *model.QueryOptions) *model.ContextBundle {
	weight := *opts.HybridWeight
	vectorNorm := normalizeVectorScores(vectorChunks)
	graphNorm := normalizeGraphScores(graphResult.hits)

	merged := map[int64]*model.RetrievedChunk{}
	var order []int64

	for _, chunk := range vectorChunks {
		merged[chunk.ID] = &model.RetrievedChunk{
			Chunk:           chunk,
			VectorScore:     chunk.Similarity,
			Score:           weight * vectorNorm[chunk.ID],
			RetrievalMethod: model.RetrievalMethodVector,
		}
		order = append(order, chunk.ID)
	}

	for _, chunk := range graphResult.chunks {
		hit, ok := graphResult.hits[chunk.ID]
		if !ok {
			continue
		}

		existing, both := merged[chunk.ID]
		if both {
			existing.GraphScore = hit.score
			existing.GraphDistance = hit.distance
			existing.Path = hit.path
			existing.Score += (1 - weight) * graphNorm[chunk.ID]
			existing.RetrievalMethod = model.RetrievalMethodHybrid
			continue
		}

		merged[chunk.ID] = &model.RetrievedChunk{
			Chunk:           chunk,
			GraphScore:      hit.score,
			GraphDistance:   hit.distance,
			Path:            hit.path,
			Score:           (1 - weight) * graphNorm[chunk.ID],
			RetrievalMethod: model.RetrievalMethodGraph,
		}
		order = append(order, chunk.ID)
	}

	results := make([]*model.RetrievedChunk, 0, len(order))
	for _, id := range order {
		results = append(results, merged[id])
	}

	// Rank by score, tie-break by chunk quality, then recency
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		qualityI, qualityJ := results[i].Chunk.QualityScore(), results[j].Chunk.QualityScore()
		if qualityI != qualityJ {
			return qualityI > qualityJ
		}
		return results[i].Chunk.CreatedAt.After(results[j].Chunk.CreatedAt)
	})

	if len(results) > opts.TopN {
		results = results[:opts.TopN]
	}

	return &model.ContextBundle{
		Chunks:        results,
		Entities:      graphResult.entities,
		Relationships: graphResult.relationships,
	}
}

// normalizeVectorScores min-max normalizes the similarities of the vector
// branch. A single result normalizes to one.
func normalizeVectorScores(chunks []*model.Chunk) map[int64]float64 {
	normalized := map[int64]float64{}
	if len(chunks) == 0 {
		return normalized
	}

	minScore, maxScore := chunks[0].Similarity, chunks[0].Similarity
	for _, chunk := range chunks {
		if chunk.Similarity < minScore {
			minScore = chunk.Similarity
		}
		if chunk.Similarity > maxScore {
			maxScore = chunk.Similarity
		}
	}

	for _, chunk := range chunks {
		if maxScore > minScore {
			normalized[chunk.ID] = (chunk.Similarity - minScore) / (maxScore - minScore)
		} else {
			normalized[chunk.ID] = 1
		}
	}
	return normalized
}

// normalizeGraphScores min-max normalizes the graph branch scores.
func normalizeGraphScores(hits map[int64]*graphHit) map[int64]float64 {
	normalized := map[int64]float64{}
	if len(hits) == 0 {
		return normalized
	}

	first := true
	var minScore, maxScore float64
	for _, hit := range hits {
		if first {
			minScore, maxScore = hit.score, hit.score
			first = false
			continue
		}
		if hit.score < minScore {
			minScore = hit.score
		}
		if hit.score > maxScore {
			maxScore = hit.score
		}
	}

	for id, hit := range hits {
		if maxScore > minScore {
			normalized[id] = (hit.score - minScore) / (maxScore - minScore)
		} else {
			normalized[id] = 1
		}
	}
	return normalized
}

// EntityCentric retrieves the evidence chunks of one entity, optionally
// fanning out over the graph. Fan-out chunks are scored by the owning
// entity's confidence decayed per hop.
func (e *Engine) EntityCentric(ctx context.Context, entityID uuid.UUID, maxHops, topK int) ([]*model.RetrievedChunk, error) {
	traversal, err := graph.BFS(ctx, e.graph, entityID, maxHops, nil)
	if err != nil {
		return nil, err
	}

	hits := map[int64]*graphHit{}
	for _, step := range traversal {
		score := 1.0
		if step.Distance > 0 {
			score = step.Entity.Confidence / float64(1+step.Distance)
		}
		for _, chunkID := range step.Entity.EvidenceChunks {
			hit, ok := hits[chunkID]
			if !ok || score > hit.score {
				hits[chunkID] = &graphHit{
					score:    score,
					distance: step.Distance,
					path:     &model.EntityPath{EntityIDs: step.Path, Hops: step.Distance},
				}
			}
		}
	}
	if len(hits) == 0 {
		return []*model.RetrievedChunk{}, nil
	}

	ids := make([]int64, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	chunks, err := e.vectors.SelectChunksByIDs(ids)
	if err != nil {
		return nil, err
	}

	results := make([]*model.RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		hit := hits[chunk.ID]
		results = append(results, &model.RetrievedChunk{
			Chunk:           chunk,
			Score:           hit.score,
			GraphScore:      hit.score,
			GraphDistance:   hit.distance,
			Path:            hit.path,
			RetrievalMethod: model.RetrievalMethodGraph,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}
