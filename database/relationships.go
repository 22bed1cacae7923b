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

// RelationshipsDBHandlerFunctions defines the interface for Relationships database operations.
type RelationshipsDBHandlerFunctions interface {
	UpsertRelationship(relationship *model.Relationship) error
	SelectRelationship(id uuid.UUID) (*model.Relationship, error)
	SelectRelationshipsFromEntity(entityID uuid.UUID) ([]*model.Relationship, error)
	SelectRelationshipsToEntity(entityID uuid.UUID) ([]*model.Relationship, error)
	SelectRelationshipsConnected(entityID uuid.UUID) ([]*model.Relationship, error)
	DeleteRelationship(id uuid.UUID) error
}

// RelationshipsDBHandler handles relationship-related database operations
type RelationshipsDBHandler struct {
	db *helper.Database
}

// NewRelationshipsDBHandler creates a new relationships database handler.
// It initializes the database connection and loads relationship-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewRelationshipsDBHandler(db *helper.Database, force bool) (*RelationshipsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	relationshipsDbHandler := &RelationshipsDBHandler{
		db: db,
	}

	err := sql.LoadRelationshipsSql(relationshipsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relationships sql", err)
	}

	err = relationshipsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationshipsDBHandler")

	return relationshipsDbHandler, nil
}

// CreateTable creates the 'relationships' table in the database.
// If the table already exists, it does not create it again.
func (h *RelationshipsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relationships();`)
	if err != nil {
		log.Panicf("error initializing relationships table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table relationships")

	return nil
}

// UpsertRelationship inserts a relationship or merges it into the existing
// relationship with the same (source, target, type) triple. Merging keeps the
// maximum confidence and the union of evidence chunks.
func (h *RelationshipsDBHandler) UpsertRelationship(relationship *model.Relationship) error {
	return withRetry("upsert relationship", func() error {
		row := h.db.Instance.QueryRow(
			`SELECT * FROM upsert_relationship($1, $2, $3, $4, $5, $6, $7)`,
			relationship.CollectionID,
			relationship.SourceEntityID,
			relationship.TargetEntityID,
			string(relationship.Type),
			relationship.Confidence,
			pq.Array(relationship.EvidenceChunks),
			relationship.Metadata,
		)

		return row.Scan(
			&relationship.ID,
			&relationship.CollectionID,
			&relationship.SourceEntityID,
			&relationship.TargetEntityID,
			&relationship.Type,
			&relationship.Confidence,
			pq.Array(&relationship.EvidenceChunks),
			&relationship.Metadata,
			&relationship.CreatedAt,
		)
	})
}

// SelectRelationship retrieves a relationship by ID
func (h *RelationshipsDBHandler) SelectRelationship(id uuid.UUID) (*model.Relationship, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_relationship($1)`,
		id,
	)

	relationship := &model.Relationship{}
	err := row.Scan(
		&relationship.ID,
		&relationship.CollectionID,
		&relationship.SourceEntityID,
		&relationship.TargetEntityID,
		&relationship.Type,
		&relationship.Confidence,
		pq.Array(&relationship.EvidenceChunks),
		&relationship.Metadata,
		&relationship.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return relationship, nil
}

// SelectRelationshipsFromEntity retrieves outgoing relationships of an entity
func (h *RelationshipsDBHandler) SelectRelationshipsFromEntity(entityID uuid.UUID) ([]*model.Relationship, error) {
	return h.selectRelationships(`SELECT * FROM select_relationships_from_entity($1)`, entityID)
}

// SelectRelationshipsToEntity retrieves incoming relationships of an entity
func (h *RelationshipsDBHandler) SelectRelationshipsToEntity(entityID uuid.UUID) ([]*model.Relationship, error) {
	return h.selectRelationships(`SELECT * FROM select_relationships_to_entity($1)`, entityID)
}

// SelectRelationshipsConnected retrieves all relationships touching an entity
// in either direction, used by graph traversal.
func (h *RelationshipsDBHandler) SelectRelationshipsConnected(entityID uuid.UUID) ([]*model.Relationship, error) {
	return h.selectRelationships(`SELECT * FROM select_relationships_connected($1)`, entityID)
}

func (h *RelationshipsDBHandler) selectRelationships(query string, entityID uuid.UUID) ([]*model.Relationship, error) {
	var relationships []*model.Relationship
	err := withRetry("select relationships", func() error {
		rows, err := h.db.Instance.Query(query, entityID)
		if err != nil {
			return err
		}
		defer rows.Close()

		relationships = nil
		for rows.Next() {
			relationship := &model.Relationship{}
			err := rows.Scan(
				&relationship.ID,
				&relationship.CollectionID,
				&relationship.SourceEntityID,
				&relationship.TargetEntityID,
				&relationship.Type,
				&relationship.Confidence,
				pq.Array(&relationship.EvidenceChunks),
				&relationship.Metadata,
				&relationship.CreatedAt,
			)
			if err != nil {
				return err
			}

			relationships = append(relationships, relationship)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return relationships, nil
}

// DeleteRelationship deletes a relationship by ID
func (h *RelationshipsDBHandler) DeleteRelationship(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_relationship($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
