package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	"github.com/graphein/graphein/sql"
	"github.com/lib/pq"
)

// EntitiesDBHandlerFunctions defines the interface for Entities database operations.
type EntitiesDBHandlerFunctions interface {
	UpsertEntity(entity *model.Entity) error
	SelectEntity(id uuid.UUID) (*model.Entity, error)
	SelectEntityByNormalizedName(collectionID int64, normalizedName string, entityType model.EntityType) (*model.Entity, error)
	SearchEntities(collectionID int64, term string, limit int) ([]*model.Entity, error)
	SelectEntitiesByType(collectionID int64, entityType model.EntityType, limit int) ([]*model.Entity, error)
	DeleteEntity(id uuid.UUID) error
	PruneEntities(collectionID int64) (int64, error)
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db *helper.Database
}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db: db,
	}

	err := sql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities();`)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// UpsertEntity inserts an entity or merges it into the existing entity with
// the same (collection, normalized name, type) key. Merging keeps the maximum
// confidence, the name of the higher-confidence mention and the union of
// evidence chunks.
func (h *EntitiesDBHandler) UpsertEntity(entity *model.Entity) error {
	return withRetry("upsert entity", func() error {
		row := h.db.Instance.QueryRow(
			`SELECT * FROM upsert_entity($1, $2, $3, $4, $5, $6, $7)`,
			entity.CollectionID,
			entity.Name,
			entity.NormalizedName,
			string(entity.Type),
			entity.Confidence,
			pq.Array(entity.EvidenceChunks),
			entity.Metadata,
		)

		return row.Scan(
			&entity.ID,
			&entity.CollectionID,
			&entity.Name,
			&entity.NormalizedName,
			&entity.Type,
			&entity.Confidence,
			pq.Array(&entity.EvidenceChunks),
			&entity.Metadata,
			&entity.CreatedAt,
		)
	})
}

// SelectEntity retrieves an entity by ID
func (h *EntitiesDBHandler) SelectEntity(id uuid.UUID) (*model.Entity, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_entity($1)`,
		id,
	)

	entity := &model.Entity{}
	err := row.Scan(
		&entity.ID,
		&entity.CollectionID,
		&entity.Name,
		&entity.NormalizedName,
		&entity.Type,
		&entity.Confidence,
		pq.Array(&entity.EvidenceChunks),
		&entity.Metadata,
		&entity.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SelectEntityByNormalizedName retrieves an entity by its dedup key. An empty
// entity type matches any type.
func (h *EntitiesDBHandler) SelectEntityByNormalizedName(collectionID int64, normalizedName string, entityType model.EntityType) (*model.Entity, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_entity_by_normalized_name($1, $2, $3)`,
		collectionID,
		normalizedName,
		string(entityType),
	)

	entity := &model.Entity{}
	err := row.Scan(
		&entity.ID,
		&entity.CollectionID,
		&entity.Name,
		&entity.NormalizedName,
		&entity.Type,
		&entity.Confidence,
		pq.Array(&entity.EvidenceChunks),
		&entity.Metadata,
		&entity.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SearchEntities finds entities whose normalized name contains the term,
// ordered by confidence descending.
func (h *EntitiesDBHandler) SearchEntities(collectionID int64, term string, limit int) ([]*model.Entity, error) {
	var entities []*model.Entity
	err := withRetry("search entities", func() error {
		rows, err := h.db.Instance.Query(
			`SELECT * FROM search_entities($1, $2, $3)`,
			collectionID,
			term,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		entities = nil
		for rows.Next() {
			entity := &model.Entity{}
			err := rows.Scan(
				&entity.ID,
				&entity.CollectionID,
				&entity.Name,
				&entity.NormalizedName,
				&entity.Type,
				&entity.Confidence,
				pq.Array(&entity.EvidenceChunks),
				&entity.Metadata,
				&entity.CreatedAt,
			)
			if err != nil {
				return err
			}

			entities = append(entities, entity)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

// SelectEntitiesByType retrieves entities of one type ordered by confidence
func (h *EntitiesDBHandler) SelectEntitiesByType(collectionID int64, entityType model.EntityType, limit int) ([]*model.Entity, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entities_by_type($1, $2, $3)`,
		collectionID,
		string(entityType),
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		err := rows.Scan(
			&entity.ID,
			&entity.CollectionID,
			&entity.Name,
			&entity.NormalizedName,
			&entity.Type,
			&entity.Confidence,
			pq.Array(&entity.EvidenceChunks),
			&entity.Metadata,
			&entity.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}

// DeleteEntity deletes an entity by ID, cascading to its relationships
func (h *EntitiesDBHandler) DeleteEntity(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_entity($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// PruneEntities removes entities of a collection that have no chunk evidence
// and no remaining relationships. It returns the number of pruned entities.
func (h *EntitiesDBHandler) PruneEntities(collectionID int64) (int64, error) {
	var pruned int64
	err := h.db.Instance.QueryRow(
		`SELECT prune_entities($1)`,
		collectionID,
	).Scan(&pruned)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return pruned, nil
}
