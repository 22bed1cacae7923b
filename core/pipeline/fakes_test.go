package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/graphein/graphein/model"
)

// fakeProvider is a deterministic in-memory embedding provider.
type fakeProvider struct {
	id        string
	embedFunc func(text string) []float32
	err       error

	mu    sync.Mutex
	calls int
}

func newFakeProvider(id string, embedFunc func(text string) []float32) *fakeProvider {
	return &fakeProvider{id: id, embedFunc: embedFunc}
}

func (p *fakeProvider) ModelID() string {
	return p.id
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = p.embedFunc(text)
	}
	return embeddings, nil
}

// constantEmbedder embeds every text as the same vector.
func constantEmbedder(vector []float32) func(string) []float32 {
	return func(string) []float32 {
		return vector
	}
}

// fakeEntityStore emulates the entity handler merge semantics in memory.
type fakeEntityStore struct {
	mu       sync.Mutex
	entities map[string]*model.Entity
	upserts  int
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{entities: map[string]*model.Entity{}}
}

func entityKey(collectionID int64, normalizedName string, entityType model.EntityType) string {
	return fmt.Sprintf("%d|%s|%s", collectionID, normalizedName, entityType)
}

func (s *fakeEntityStore) UpsertEntity(entity *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++

	key := entityKey(entity.CollectionID, entity.NormalizedName, entity.Type)
	existing, ok := s.entities[key]
	if !ok {
		stored := *entity
		stored.ID = uuid.New()
		s.entities[key] = &stored
		*entity = stored
		return nil
	}

	if entity.Confidence > existing.Confidence {
		existing.Confidence = entity.Confidence
		existing.Name = entity.Name
	}
	evidence := map[int64]bool{}
	for _, id := range existing.EvidenceChunks {
		evidence[id] = true
	}
	for _, id := range entity.EvidenceChunks {
		if !evidence[id] {
			existing.EvidenceChunks = append(existing.EvidenceChunks, id)
			evidence[id] = true
		}
	}

	*entity = *existing
	return nil
}

func (s *fakeEntityStore) SelectEntity(id uuid.UUID) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entity := range s.entities {
		if entity.ID == id {
			found := *entity
			return &found, nil
		}
	}
	return nil, fmt.Errorf("entity %s not found", id)
}

func (s *fakeEntityStore) SelectEntityByNormalizedName(collectionID int64, normalizedName string, entityType model.EntityType) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entity := range s.entities {
		if entity.CollectionID != collectionID || entity.NormalizedName != normalizedName {
			continue
		}
		if entityType != "" && entity.Type != entityType {
			continue
		}
		found := *entity
		return &found, nil
	}
	return nil, fmt.Errorf("entity %s not found", normalizedName)
}

func (s *fakeEntityStore) SearchEntities(collectionID int64, term string, limit int) ([]*model.Entity, error) {
	return nil, nil
}

func (s *fakeEntityStore) SelectEntitiesByType(collectionID int64, entityType model.EntityType, limit int) ([]*model.Entity, error) {
	return nil, nil
}

func (s *fakeEntityStore) DeleteEntity(id uuid.UUID) error {
	return nil
}

func (s *fakeEntityStore) PruneEntities(collectionID int64) (int64, error) {
	return 0, nil
}

func (s *fakeEntityStore) all() []*model.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entities []*model.Entity
	for _, entity := range s.entities {
		found := *entity
		entities = append(entities, &found)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].NormalizedName < entities[j].NormalizedName })
	return entities
}

func (s *fakeEntityStore) find(normalizedName string, entityType model.EntityType) *model.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entity := range s.entities {
		if entity.NormalizedName == normalizedName && entity.Type == entityType {
			found := *entity
			return &found
		}
	}
	return nil
}

// fakeRelationshipStore emulates the relationship handler merge semantics.
type fakeRelationshipStore struct {
	mu            sync.Mutex
	relationships map[string]*model.Relationship
}

func newFakeRelationshipStore() *fakeRelationshipStore {
	return &fakeRelationshipStore{relationships: map[string]*model.Relationship{}}
}

func (s *fakeRelationshipStore) UpsertRelationship(relationship *model.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%s", relationship.SourceEntityID, relationship.TargetEntityID, relationship.Type)
	existing, ok := s.relationships[key]
	if !ok {
		stored := *relationship
		stored.ID = uuid.New()
		s.relationships[key] = &stored
		*relationship = stored
		return nil
	}

	if relationship.Confidence > existing.Confidence {
		existing.Confidence = relationship.Confidence
	}
	evidence := map[int64]bool{}
	for _, id := range existing.EvidenceChunks {
		evidence[id] = true
	}
	for _, id := range relationship.EvidenceChunks {
		if !evidence[id] {
			existing.EvidenceChunks = append(existing.EvidenceChunks, id)
			evidence[id] = true
		}
	}

	*relationship = *existing
	return nil
}

func (s *fakeRelationshipStore) SelectRelationship(id uuid.UUID) (*model.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, relationship := range s.relationships {
		if relationship.ID == id {
			found := *relationship
			return &found, nil
		}
	}
	return nil, fmt.Errorf("relationship %s not found", id)
}

func (s *fakeRelationshipStore) SelectRelationshipsFromEntity(entityID uuid.UUID) ([]*model.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relationships []*model.Relationship
	for _, relationship := range s.relationships {
		if relationship.SourceEntityID == entityID {
			found := *relationship
			relationships = append(relationships, &found)
		}
	}
	return relationships, nil
}

func (s *fakeRelationshipStore) SelectRelationshipsToEntity(entityID uuid.UUID) ([]*model.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relationships []*model.Relationship
	for _, relationship := range s.relationships {
		if relationship.TargetEntityID == entityID {
			found := *relationship
			relationships = append(relationships, &found)
		}
	}
	return relationships, nil
}

func (s *fakeRelationshipStore) SelectRelationshipsConnected(entityID uuid.UUID) ([]*model.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relationships []*model.Relationship
	for _, relationship := range s.relationships {
		if relationship.SourceEntityID == entityID || relationship.TargetEntityID == entityID {
			found := *relationship
			relationships = append(relationships, &found)
		}
	}
	return relationships, nil
}

func (s *fakeRelationshipStore) DeleteRelationship(id uuid.UUID) error {
	return nil
}

func (s *fakeRelationshipStore) all() []*model.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relationships []*model.Relationship
	for _, relationship := range s.relationships {
		found := *relationship
		relationships = append(relationships, &found)
	}
	return relationships
}

// fakeSourceStore records status transitions in order.
type fakeSourceStore struct {
	mu          sync.Mutex
	nextID      int64
	sources     map[uuid.UUID]*model.Source
	transitions []model.SourceStatus
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{sources: map[uuid.UUID]*model.Source{}}
}

func (s *fakeSourceStore) InsertSource(source *model.Source) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sources {
		if existing.CollectionID == source.CollectionID && existing.ContentHash == source.ContentHash {
			*source = *existing
			return false, nil
		}
	}

	s.nextID++
	source.ID = s.nextID
	source.RID = uuid.New()
	source.Status = model.SourceStatusPending
	stored := *source
	s.sources[source.RID] = &stored
	return true, nil
}

func (s *fakeSourceStore) SelectSource(rid uuid.UUID) (*model.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.sources[rid]
	if !ok {
		return nil, fmt.Errorf("source %s not found", rid)
	}
	found := *source
	return &found, nil
}

func (s *fakeSourceStore) SelectSourcesByCollection(collectionRID uuid.UUID) ([]*model.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []*model.Source
	for _, source := range s.sources {
		if source.CollectionRID == collectionRID {
			found := *source
			sources = append(sources, &found)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

func (s *fakeSourceStore) UpdateSourceStatus(rid uuid.UUID, status model.SourceStatus, failedStage model.SourceStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.sources[rid]
	if !ok {
		return fmt.Errorf("source %s not found", rid)
	}

	source.Status = status
	source.FailedStage = failedStage
	source.Error = errMsg
	s.transitions = append(s.transitions, status)
	return nil
}

func (s *fakeSourceStore) DeleteSource(rid uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, rid)
	return nil
}

func (s *fakeSourceStore) statusTransitions() []model.SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SourceStatus{}, s.transitions...)
}

// fakeChunkStore stores chunks keyed (source, ordinal) with sequential ids.
type fakeChunkStore struct {
	mu      sync.Mutex
	nextID  int64
	chunks  map[string]*model.Chunk
	deletes int
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: map[string]*model.Chunk{}}
}

func (s *fakeChunkStore) UpsertChunk(chunk *model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%d", chunk.SourceRID, chunk.Ordinal)
	existing, ok := s.chunks[key]
	if ok {
		chunk.ID = existing.ID
	} else {
		s.nextID++
		chunk.ID = s.nextID
	}

	stored := *chunk
	s.chunks[key] = &stored
	return nil
}

func (s *fakeChunkStore) SelectChunk(id int64) (*model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range s.chunks {
		if chunk.ID == id {
			found := *chunk
			return &found, nil
		}
	}
	return nil, fmt.Errorf("chunk %d not found", id)
}

func (s *fakeChunkStore) SelectChunksBySource(sourceRID uuid.UUID) ([]*model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chunks []*model.Chunk
	for _, chunk := range s.chunks {
		if chunk.SourceRID == sourceRID {
			found := *chunk
			chunks = append(chunks, &found)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })
	return chunks, nil
}

func (s *fakeChunkStore) SelectChunksByIDs(ids []int64) ([]*model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chunks []*model.Chunk
	for _, id := range ids {
		for _, chunk := range s.chunks {
			if chunk.ID == id {
				found := *chunk
				chunks = append(chunks, &found)
				break
			}
		}
	}
	return chunks, nil
}

func (s *fakeChunkStore) SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, collectionRID uuid.UUID) ([]*model.Chunk, error) {
	return nil, nil
}

func (s *fakeChunkStore) DeleteChunksBySource(sourceRID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes++
	for key, chunk := range s.chunks {
		if chunk.SourceRID == sourceRID {
			delete(s.chunks, key)
		}
	}
	return nil
}
