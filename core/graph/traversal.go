package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/graphein/graphein/database"
	"github.com/graphein/graphein/model"
)

// GraphStore defines the entity graph operations traversal needs.
type GraphStore interface {
	GetEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	GetRelationships(ctx context.Context, entityID uuid.UUID, relationTypes []model.RelationType) ([]*model.Relationship, error)
}

// StoreAdapter exposes the entity and relationship handlers as a GraphStore.
// Relationships are expanded in both directions; the type filter is applied
// here.
type StoreAdapter struct {
	Entities      database.EntitiesDBHandlerFunctions
	Relationships database.RelationshipsDBHandlerFunctions
}

// GetEntity retrieves an entity by ID
func (a *StoreAdapter) GetEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.Entities.SelectEntity(id)
}

// GetRelationships retrieves the relationships touching an entity, optionally
// filtered by relation type.
func (a *StoreAdapter) GetRelationships(ctx context.Context, entityID uuid.UUID, relationTypes []model.RelationType) ([]*model.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	relationships, err := a.Relationships.SelectRelationshipsConnected(entityID)
	if err != nil {
		return nil, err
	}
	if len(relationTypes) == 0 {
		return relationships, nil
	}

	allowed := map[model.RelationType]bool{}
	for _, relationType := range relationTypes {
		allowed[relationType] = true
	}

	var filtered []*model.Relationship
	for _, relationship := range relationships {
		if allowed[relationship.Type] {
			filtered = append(filtered, relationship)
		}
	}
	return filtered, nil
}

// TraversalResult contains an entity and its distance from the start entity.
type TraversalResult struct {
	Entity   *model.Entity
	Distance int
	// Path from the start entity to this entity
	Path []uuid.UUID
}

// neighbor returns the opposite endpoint of a relationship, or uuid.Nil when
// the entity is not an endpoint.
func neighbor(relationship *model.Relationship, entityID uuid.UUID) uuid.UUID {
	if relationship.SourceEntityID == entityID {
		return relationship.TargetEntityID
	}
	if relationship.TargetEntityID == entityID {
		return relationship.SourceEntityID
	}
	return uuid.Nil
}

// BFS performs breadth-first search from a start entity. Relationships are
// followed in both directions; every entity is visited at most once, so
// traversal terminates on cyclic graphs.
func BFS(ctx context.Context, store GraphStore, startID uuid.UUID, maxHops int, relationTypes []model.RelationType) ([]*TraversalResult, error) {
	startEntity, err := store.GetEntity(ctx, startID)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{startID: true}
	queue := []TraversalResult{{
		Entity:   startEntity,
		Distance: 0,
		Path:     []uuid.UUID{startID},
	}}

	var results []*TraversalResult
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		results = append(results, &current)

		if current.Distance >= maxHops {
			continue
		}

		relationships, err := store.GetRelationships(ctx, current.Entity.ID, relationTypes)
		if err != nil {
			return nil, err
		}

		for _, relationship := range relationships {
			targetID := neighbor(relationship, current.Entity.ID)
			if targetID == uuid.Nil || visited[targetID] {
				continue
			}

			targetEntity, err := store.GetEntity(ctx, targetID)
			if err != nil {
				// Skip dangling endpoints
				continue
			}

			visited[targetID] = true

			newPath := make([]uuid.UUID, len(current.Path))
			copy(newPath, current.Path)
			newPath = append(newPath, targetID)

			queue = append(queue, TraversalResult{
				Entity:   targetEntity,
				Distance: current.Distance + 1,
				Path:     newPath,
			})
		}
	}

	return results, nil
}

// DFS performs depth-first search from a start entity
func DFS(ctx context.Context, store GraphStore, startID uuid.UUID, maxHops int, relationTypes []model.RelationType) ([]*TraversalResult, error) {
	startEntity, err := store.GetEntity(ctx, startID)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{}
	var results []*TraversalResult
	dfsRecursive(ctx, store, startEntity, 0, maxHops, []uuid.UUID{startID}, relationTypes, visited, &results)

	return results, nil
}

func dfsRecursive(
	ctx context.Context,
	store GraphStore,
	current *model.Entity,
	distance int,
	maxHops int,
	path []uuid.UUID,
	relationTypes []model.RelationType,
	visited map[uuid.UUID]bool,
	results *[]*TraversalResult,
) {
	visited[current.ID] = true

	pathCopy := make([]uuid.UUID, len(path))
	copy(pathCopy, path)
	*results = append(*results, &TraversalResult{
		Entity:   current,
		Distance: distance,
		Path:     pathCopy,
	})

	if distance >= maxHops {
		return
	}

	relationships, err := store.GetRelationships(ctx, current.ID, relationTypes)
	if err != nil {
		return
	}

	for _, relationship := range relationships {
		targetID := neighbor(relationship, current.ID)
		if targetID == uuid.Nil || visited[targetID] {
			continue
		}

		targetEntity, err := store.GetEntity(ctx, targetID)
		if err != nil {
			continue
		}

		newPath := make([]uuid.UUID, len(path))
		copy(newPath, path)
		newPath = append(newPath, targetID)

		dfsRecursive(ctx, store, targetEntity, distance+1, maxHops, newPath, relationTypes, visited, results)
	}
}

// ShortestPath finds the minimal-hop path between two entities, bounded by
// maxHops. It returns nil when no path exists within the bound.
func ShortestPath(ctx context.Context, store GraphStore, fromID, toID uuid.UUID, maxHops int) ([]uuid.UUID, error) {
	if fromID == toID {
		return []uuid.UUID{fromID}, nil
	}

	results, err := BFS(ctx, store, fromID, maxHops, nil)
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		if result.Entity.ID == toID {
			return result.Path, nil
		}
	}

	return nil, nil
}

// GetNeighbors retrieves the immediate neighbors of an entity
func GetNeighbors(ctx context.Context, store GraphStore, entityID uuid.UUID, relationTypes []model.RelationType) ([]*model.Entity, error) {
	results, err := BFS(ctx, store, entityID, 1, relationTypes)
	if err != nil {
		return nil, err
	}

	neighbors := make([]*model.Entity, 0, len(results)-1)
	for i := 1; i < len(results); i++ {
		neighbors = append(neighbors, results[i].Entity)
	}

	return neighbors, nil
}
