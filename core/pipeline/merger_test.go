package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/graphein/graphein/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergerEntities(t *testing.T) {
	ctx := context.Background()

	t.Run("merges duplicate mentions within a batch", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "kubernetes", Type: model.EntityTypeTechnology, Confidence: 0.6},
				{Name: "Kubernetes", Type: model.EntityTypeTechnology, Confidence: 0.9},
			},
		})
		require.NoError(t, err, "expected no error merging")

		all := entities.all()
		require.Len(t, all, 1, "expected one merged entity")
		assert.Equal(t, "Kubernetes", all[0].Name, "expected the name of the most confident mention")
		assert.Equal(t, 0.9, all[0].Confidence, "expected the maximum confidence")
		assert.Equal(t, []int64{10}, all[0].EvidenceChunks, "expected the chunk as evidence")
	})

	t.Run("merges similar names of the same type", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.6,
			Mentions: []EntityMention{
				{Name: "Acme Corp", Type: model.EntityTypeOrganization, Confidence: 0.85},
				{Name: "Acme Corp Inc", Type: model.EntityTypeOrganization, Confidence: 0.7},
			},
		})
		require.NoError(t, err, "expected no error merging")
		assert.Len(t, entities.all(), 1, "expected similar names merged")
	})

	t.Run("keeps similar names apart above the threshold", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.9,
			Mentions: []EntityMention{
				{Name: "Acme Corp", Type: model.EntityTypeOrganization, Confidence: 0.85},
				{Name: "Acme Corp Inc", Type: model.EntityTypeOrganization, Confidence: 0.7},
			},
		})
		require.NoError(t, err, "expected no error merging")
		assert.Len(t, entities.all(), 2, "expected two entities below the similarity threshold")
	})

	t.Run("keeps same name different type apart", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Mercury", Type: model.EntityTypeConcept, Confidence: 0.7},
				{Name: "Mercury", Type: model.EntityTypeProduct, Confidence: 0.7},
			},
		})
		require.NoError(t, err, "expected no error merging")
		assert.Len(t, entities.all(), 2, "expected distinct entities per type")
	})

	t.Run("drops mentions below the confidence threshold", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Weak Guess", Type: model.EntityTypeConcept, Confidence: 0.2},
				{Name: "Solid Find", Type: model.EntityTypeConcept, Confidence: 0.8},
			},
		})
		require.NoError(t, err, "expected no error merging")

		all := entities.all()
		require.Len(t, all, 1, "expected only the confident mention")
		assert.Equal(t, "Solid Find", all[0].Name, "expected the confident mention kept")
	})

	t.Run("unions evidence across batches", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		for _, chunkID := range []int64{10, 11} {
			err := merger.Merge(ctx, MergeBatch{
				CollectionID:        1,
				ChunkID:             chunkID,
				ConfidenceThreshold: 0.5,
				SimilarityThreshold: 0.85,
				Mentions: []EntityMention{
					{Name: "Kubernetes", Type: model.EntityTypeTechnology, Confidence: 0.8},
				},
			})
			require.NoError(t, err, "expected no error merging chunk %d", chunkID)
		}

		entity := entities.find("kubernetes", model.EntityTypeTechnology)
		require.NotNil(t, entity, "expected the entity in the store")
		assert.ElementsMatch(t, []int64{10, 11}, entity.EvidenceChunks, "expected evidence from both chunks")
	})
}

func TestMergerRelationships(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves relation endpoints from the batch", func(t *testing.T) {
		entities := newFakeEntityStore()
		relationships := newFakeRelationshipStore()
		merger := NewMerger(entities, relationships)
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Alice", Type: model.EntityTypePerson, Confidence: 0.9},
				{Name: "Acme Corp", Type: model.EntityTypeOrganization, Confidence: 0.9},
			},
			Relations: []RelationMention{
				{SourceName: "Alice", SourceType: model.EntityTypePerson, TargetName: "Acme Corp", TargetType: model.EntityTypeOrganization, Type: model.RelationWorksFor, Confidence: 0.72},
			},
		})
		require.NoError(t, err, "expected no error merging")

		all := relationships.all()
		require.Len(t, all, 1, "expected one relationship")

		alice := entities.find("alice", model.EntityTypePerson)
		acme := entities.find("acme corp", model.EntityTypeOrganization)
		require.NotNil(t, alice, "expected alice in the store")
		require.NotNil(t, acme, "expected acme in the store")

		assert.Equal(t, alice.ID, all[0].SourceEntityID, "expected alice as source")
		assert.Equal(t, acme.ID, all[0].TargetEntityID, "expected acme as target")
		assert.Equal(t, []int64{10}, all[0].EvidenceChunks, "expected the chunk as evidence")
	})

	t.Run("resolves endpoints persisted by earlier batches", func(t *testing.T) {
		entities := newFakeEntityStore()
		relationships := newFakeRelationshipStore()
		merger := NewMerger(entities, relationships)
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Acme Corp", Type: model.EntityTypeOrganization, Confidence: 0.9},
			},
		})
		require.NoError(t, err, "expected no error merging the first batch")

		err = merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             11,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Alice", Type: model.EntityTypePerson, Confidence: 0.9},
			},
			Relations: []RelationMention{
				{SourceName: "Alice", SourceType: model.EntityTypePerson, TargetName: "Acme Corp", TargetType: model.EntityTypeOrganization, Type: model.RelationWorksFor, Confidence: 0.72},
			},
		})
		require.NoError(t, err, "expected no error merging the second batch")

		assert.Len(t, relationships.all(), 1, "expected the relationship resolved against the store")
	})

	t.Run("skips relations with unresolvable endpoints", func(t *testing.T) {
		entities := newFakeEntityStore()
		relationships := newFakeRelationshipStore()
		merger := NewMerger(entities, relationships)
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Alice", Type: model.EntityTypePerson, Confidence: 0.9},
			},
			Relations: []RelationMention{
				{SourceName: "Alice", SourceType: model.EntityTypePerson, TargetName: "Nowhere Known", TargetType: model.EntityTypeOrganization, Type: model.RelationWorksFor, Confidence: 0.72},
			},
		})
		require.NoError(t, err, "expected no error merging")
		assert.Empty(t, relationships.all(), "expected the unresolvable relation skipped")
	})

	t.Run("drops relations below the confidence threshold", func(t *testing.T) {
		entities := newFakeEntityStore()
		relationships := newFakeRelationshipStore()
		merger := NewMerger(entities, relationships)
		defer merger.Close()

		err := merger.Merge(ctx, MergeBatch{
			CollectionID:        1,
			ChunkID:             10,
			ConfidenceThreshold: 0.5,
			SimilarityThreshold: 0.85,
			Mentions: []EntityMention{
				{Name: "Redis", Type: model.EntityTypeTechnology, Confidence: 0.85},
				{Name: "Kafka", Type: model.EntityTypeTechnology, Confidence: 0.85},
			},
			Relations: []RelationMention{
				{SourceName: "Redis", SourceType: model.EntityTypeTechnology, TargetName: "Kafka", TargetType: model.EntityTypeTechnology, Type: model.RelationRelatedTo, Confidence: 0.3},
			},
		})
		require.NoError(t, err, "expected no error merging")
		assert.Empty(t, relationships.all(), "expected the weak relation dropped")
	})

	t.Run("merges duplicate triples across batches", func(t *testing.T) {
		entities := newFakeEntityStore()
		relationships := newFakeRelationshipStore()
		merger := NewMerger(entities, relationships)
		defer merger.Close()

		for _, batch := range []struct {
			chunkID    int64
			confidence float64
		}{{10, 0.6}, {11, 0.8}} {
			err := merger.Merge(ctx, MergeBatch{
				CollectionID:        1,
				ChunkID:             batch.chunkID,
				ConfidenceThreshold: 0.5,
				SimilarityThreshold: 0.85,
				Mentions: []EntityMention{
					{Name: "Grafana", Type: model.EntityTypeTechnology, Confidence: 0.85},
					{Name: "Prometheus", Type: model.EntityTypeTechnology, Confidence: 0.85},
				},
				Relations: []RelationMention{
					{SourceName: "Grafana", SourceType: model.EntityTypeTechnology, TargetName: "Prometheus", TargetType: model.EntityTypeTechnology, Type: model.RelationDependsOn, Confidence: batch.confidence},
				},
			})
			require.NoError(t, err, "expected no error merging chunk %d", batch.chunkID)
		}

		all := relationships.all()
		require.Len(t, all, 1, "expected one merged relationship")
		assert.Equal(t, 0.8, all[0].Confidence, "expected the maximum confidence")
		assert.ElementsMatch(t, []int64{10, 11}, all[0].EvidenceChunks, "expected evidence from both chunks")
	})
}

func TestMergerWorkers(t *testing.T) {
	t.Run("serializes batches per collection under concurrency", func(t *testing.T) {
		entities := newFakeEntityStore()
		merger := NewMerger(entities, newFakeRelationshipStore())
		defer merger.Close()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			chunkID := int64(i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := merger.Merge(context.Background(), MergeBatch{
					CollectionID:        1,
					ChunkID:             chunkID,
					ConfidenceThreshold: 0.5,
					SimilarityThreshold: 0.85,
					Mentions: []EntityMention{
						{Name: "Kubernetes", Type: model.EntityTypeTechnology, Confidence: 0.8},
					},
				})
				assert.NoError(t, err, "expected no error merging")
			}()
		}
		wg.Wait()

		entity := entities.find("kubernetes", model.EntityTypeTechnology)
		require.NotNil(t, entity, "expected the entity in the store")
		assert.Len(t, entity.EvidenceChunks, 16, "expected every chunk recorded exactly once")
	})

	t.Run("rejects batches after close", func(t *testing.T) {
		merger := NewMerger(newFakeEntityStore(), newFakeRelationshipStore())
		merger.Close()

		err := merger.Merge(context.Background(), MergeBatch{CollectionID: 1})
		assert.Error(t, err, "expected error after close")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		merger := NewMerger(newFakeEntityStore(), newFakeRelationshipStore())
		defer merger.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := merger.Merge(ctx, MergeBatch{CollectionID: 1})
		assert.Error(t, err, "expected error for cancelled context")
	})
}
