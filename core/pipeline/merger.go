package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/graphein/graphein/database"
	"github.com/graphein/graphein/model"
)

// MergeBatch is the extraction result of one chunk, handed to the merger for
// deduplication and persistence.
type MergeBatch struct {
	CollectionID        int64
	ChunkID             int64
	ConfidenceThreshold float64
	SimilarityThreshold float64
	Mentions            []EntityMention
	Relations           []RelationMention
}

type mergeRequest struct {
	batch MergeBatch
	done  chan error
}

// Merger deduplicates entity and relationship mentions and persists them.
// Merges are serialized per collection through a single-writer worker, so two
// sources of the same collection never race on the same entity.
type Merger struct {
	entities      database.EntitiesDBHandlerFunctions
	relationships database.RelationshipsDBHandlerFunctions

	mu      sync.Mutex
	workers map[int64]chan mergeRequest
	wg      sync.WaitGroup
	closed  bool
}

// NewMerger creates a merger on top of the entity and relationship handlers
func NewMerger(entities database.EntitiesDBHandlerFunctions, relationships database.RelationshipsDBHandlerFunctions) *Merger {
	return &Merger{
		entities:      entities,
		relationships: relationships,
		workers:       map[int64]chan mergeRequest{},
	}
}

// Merge submits a batch to the collection's merge worker and waits for it.
func (m *Merger) Merge(ctx context.Context, batch MergeBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	worker, err := m.worker(batch.CollectionID)
	if err != nil {
		return err
	}

	request := mergeRequest{batch: batch, done: make(chan error, 1)}
	select {
	case worker <- request:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-request.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all merge workers after their queued batches are done.
func (m *Merger) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, worker := range m.workers {
		close(worker)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// worker returns the merge channel of a collection, starting it on first use.
func (m *Merger) worker(collectionID int64) (chan mergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("merger is closed")
	}

	worker, ok := m.workers[collectionID]
	if !ok {
		worker = make(chan mergeRequest, 16)
		m.workers[collectionID] = worker
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for request := range worker {
				request.done <- m.mergeBatch(request.batch)
			}
		}()
	}

	return worker, nil
}

// mergedMention is an in-batch deduplicated mention with its resolved entity.
type mergedMention struct {
	name       string
	normalized string
	entityType model.EntityType
	confidence float64
}

// mergeBatch deduplicates a batch in memory and upserts the survivors.
// Cross-batch merging happens in the upsert itself.
func (m *Merger) mergeBatch(batch MergeBatch) error {
	merged := dedupeMentions(batch.Mentions, batch.ConfidenceThreshold, batch.SimilarityThreshold)

	entitiesByKey := map[string]*model.Entity{}
	entitiesByName := map[string]*model.Entity{}

	for _, mention := range merged {
		entity := &model.Entity{
			CollectionID:   batch.CollectionID,
			Name:           mention.name,
			NormalizedName: mention.normalized,
			Type:           mention.entityType,
			Confidence:     mention.confidence,
			EvidenceChunks: []int64{batch.ChunkID},
			Metadata:       model.Metadata{},
		}

		err := m.entities.UpsertEntity(entity)
		if err != nil {
			return err
		}

		entitiesByKey[mention.normalized+"|"+string(mention.entityType)] = entity
		entitiesByName[mention.normalized] = entity
	}

	for _, relation := range batch.Relations {
		if relation.Confidence < batch.ConfidenceThreshold {
			continue
		}

		source := m.resolveEntity(batch.CollectionID, relation.SourceName, relation.SourceType, entitiesByKey, entitiesByName)
		target := m.resolveEntity(batch.CollectionID, relation.TargetName, relation.TargetType, entitiesByKey, entitiesByName)
		if source == nil || target == nil || source.ID == target.ID {
			continue
		}

		relationship := &model.Relationship{
			CollectionID:   batch.CollectionID,
			SourceEntityID: source.ID,
			TargetEntityID: target.ID,
			Type:           relation.Type,
			Confidence:     relation.Confidence,
			EvidenceChunks: []int64{batch.ChunkID},
			Metadata:       model.Metadata{},
		}

		err := m.relationships.UpsertRelationship(relationship)
		if err != nil {
			return err
		}
	}

	return nil
}

// resolveEntity finds the entity a relation endpoint refers to, first in the
// current batch, then in the store.
func (m *Merger) resolveEntity(collectionID int64, name string, entityType model.EntityType, byKey, byName map[string]*model.Entity) *model.Entity {
	normalized := model.NormalizeEntityName(name)
	if normalized == "" {
		return nil
	}

	if entity, ok := byKey[normalized+"|"+string(entityType)]; ok {
		return entity
	}
	if entity, ok := byName[normalized]; ok {
		return entity
	}

	entity, err := m.entities.SelectEntityByNormalizedName(collectionID, normalized, entityType)
	if err != nil {
		entity, err = m.entities.SelectEntityByNormalizedName(collectionID, normalized, "")
		if err != nil {
			return nil
		}
	}
	return entity
}

// dedupeMentions drops mentions below the confidence threshold and merges the
// rest by normalized name and type. Mentions of the same type whose name
// similarity reaches the threshold also merge. Merging keeps the maximum
// confidence and the name of the most confident mention.
func dedupeMentions(mentions []EntityMention, confidenceThreshold, similarityThreshold float64) []*mergedMention {
	var merged []*mergedMention

	for _, mention := range mentions {
		if mention.Confidence < confidenceThreshold {
			continue
		}
		normalized := model.NormalizeEntityName(mention.Name)
		if normalized == "" {
			continue
		}

		var match *mergedMention
		for _, candidate := range merged {
			if candidate.entityType != mention.Type {
				continue
			}
			if candidate.normalized == normalized || nameSimilarity(candidate.normalized, normalized) >= similarityThreshold {
				match = candidate
				break
			}
		}

		if match == nil {
			merged = append(merged, &mergedMention{
				name:       strings.TrimSpace(mention.Name),
				normalized: normalized,
				entityType: mention.Type,
				confidence: mention.Confidence,
			})
			continue
		}

		if mention.Confidence > match.confidence {
			match.confidence = mention.Confidence
			match.name = strings.TrimSpace(mention.Name)
			match.normalized = normalized
		}
	}

	return merged
}

// nameSimilarity is the Jaccard similarity of the word sets of two normalized
// names.
func nameSimilarity(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	setA := map[string]bool{}
	for _, word := range wordsA {
		setA[word] = true
	}

	union := len(setA)
	intersection := 0
	seenB := map[string]bool{}
	for _, word := range wordsB {
		if seenB[word] {
			continue
		}
		seenB[word] = true
		if setA[word] {
			intersection++
		} else {
			union++
		}
	}

	return float64(intersection) / float64(union)
}
