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
)

// CollectionsDBHandlerFunctions defines the interface for Collections database operations.
type CollectionsDBHandlerFunctions interface {
	InsertCollection(collection *model.Collection) error
	SelectCollection(rid uuid.UUID) (*model.Collection, error)
	SelectCollectionByName(name string) (*model.Collection, error)
	SelectAllCollections(limit int) ([]*model.Collection, error)
	UpdateCollectionConfig(collection *model.Collection) error
	SelectCollectionSourceCount(rid uuid.UUID) (int64, error)
	DeleteCollection(rid uuid.UUID) error
}

// CollectionsDBHandler handles collection-related database operations
type CollectionsDBHandler struct {
	db *helper.Database
}

// NewCollectionsDBHandler creates a new collections database handler.
// It initializes the database connection and loads collection-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewCollectionsDBHandler(db *helper.Database, force bool) (*CollectionsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	collectionsDbHandler := &CollectionsDBHandler{
		db: db,
	}

	err := sql.LoadCollectionsSql(collectionsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load collections sql", err)
	}

	err = collectionsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized CollectionsDBHandler")

	return collectionsDbHandler, nil
}

// CreateTable creates the 'collections' table in the database.
// If the table already exists, it does not create it again.
func (h *CollectionsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_collections();`)
	if err != nil {
		log.Panicf("error initializing collections table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table collections")

	return nil
}

// InsertCollection inserts a new collection
func (h *CollectionsDBHandler) InsertCollection(collection *model.Collection) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_collection($1, $2, $3, $4)`,
		collection.Name,
		collection.Owner,
		collection.Config,
		collection.Metadata,
	)

	err := row.Scan(
		&collection.ID,
		&collection.RID,
		&collection.Name,
		&collection.Owner,
		&collection.Config,
		&collection.Metadata,
		&collection.CreatedAt,
		&collection.UpdatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectCollection retrieves a collection by RID
func (h *CollectionsDBHandler) SelectCollection(rid uuid.UUID) (*model.Collection, error) {
	collection := &model.Collection{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_collection($1)`,
		rid,
	)

	err := row.Scan(
		&collection.ID,
		&collection.RID,
		&collection.Name,
		&collection.Owner,
		&collection.Config,
		&collection.Metadata,
		&collection.CreatedAt,
		&collection.UpdatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return collection, nil
}

// SelectCollectionByName retrieves a collection by its unique name
func (h *CollectionsDBHandler) SelectCollectionByName(name string) (*model.Collection, error) {
	collection := &model.Collection{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_collection_by_name($1)`,
		name,
	)

	err := row.Scan(
		&collection.ID,
		&collection.RID,
		&collection.Name,
		&collection.Owner,
		&collection.Config,
		&collection.Metadata,
		&collection.CreatedAt,
		&collection.UpdatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return collection, nil
}

// SelectAllCollections retrieves all collections ordered by creation time
func (h *CollectionsDBHandler) SelectAllCollections(limit int) ([]*model.Collection, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_all_collections($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var collections []*model.Collection
	for rows.Next() {
		collection := &model.Collection{}
		err := rows.Scan(
			&collection.ID,
			&collection.RID,
			&collection.Name,
			&collection.Owner,
			&collection.Config,
			&collection.Metadata,
			&collection.CreatedAt,
			&collection.UpdatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		collections = append(collections, collection)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return collections, nil
}

// UpdateCollectionConfig updates the configuration of a collection
func (h *CollectionsDBHandler) UpdateCollectionConfig(collection *model.Collection) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM update_collection_config($1, $2)`,
		collection.RID,
		collection.Config,
	)

	err := row.Scan(
		&collection.ID,
		&collection.RID,
		&collection.Name,
		&collection.Owner,
		&collection.Config,
		&collection.Metadata,
		&collection.CreatedAt,
		&collection.UpdatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectCollectionSourceCount returns the number of sources in a collection
func (h *CollectionsDBHandler) SelectCollectionSourceCount(rid uuid.UUID) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(
		`SELECT select_collection_source_count($1)`,
		rid,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// DeleteCollection deletes a collection by RID, cascading to all its sources,
// chunks, entities and relationships
func (h *CollectionsDBHandler) DeleteCollection(rid uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_collection($1)`,
		rid,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
