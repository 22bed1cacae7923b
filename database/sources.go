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

// SourcesDBHandlerFunctions defines the interface for Sources database operations.
type SourcesDBHandlerFunctions interface {
	InsertSource(source *model.Source) (bool, error)
	SelectSource(rid uuid.UUID) (*model.Source, error)
	SelectSourcesByCollection(collectionRID uuid.UUID) ([]*model.Source, error)
	UpdateSourceStatus(rid uuid.UUID, status model.SourceStatus, failedStage model.SourceStatus, errMsg string) error
	DeleteSource(rid uuid.UUID) error
}

// SourcesDBHandler handles source-related database operations
type SourcesDBHandler struct {
	db *helper.Database
}

// NewSourcesDBHandler creates a new sources database handler.
// It initializes the database connection and loads source-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewSourcesDBHandler(db *helper.Database, force bool) (*SourcesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	sourcesDbHandler := &SourcesDBHandler{
		db: db,
	}

	err := sql.LoadSourcesSql(sourcesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load sources sql", err)
	}

	err = sourcesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized SourcesDBHandler")

	return sourcesDbHandler, nil
}

// CreateTable creates the 'sources' table in the database.
// If the table already exists, it does not create it again.
func (h *SourcesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_sources();`)
	if err != nil {
		log.Panicf("error initializing sources table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table sources")

	return nil
}

// InsertSource inserts a new source. When a source with the same content hash
// already exists in the collection the existing row is returned and the
// returned bool is false, making re-uploads of identical content a no-op.
func (h *SourcesDBHandler) InsertSource(source *model.Source) (bool, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_source($1, $2, $3, $4, $5)`,
		source.CollectionID,
		source.Title,
		source.Origin,
		source.ContentHash,
		source.Metadata,
	)

	var inserted bool
	err := row.Scan(
		&source.ID,
		&source.RID,
		&source.CollectionID,
		&source.CollectionRID,
		&source.Title,
		&source.Origin,
		&source.ContentHash,
		&source.Status,
		&source.FailedStage,
		&source.Error,
		&source.Metadata,
		&source.CreatedAt,
		&source.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return inserted, nil
}

// SelectSource retrieves a source by RID
func (h *SourcesDBHandler) SelectSource(rid uuid.UUID) (*model.Source, error) {
	source := &model.Source{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_source($1)`,
		rid,
	)

	err := row.Scan(
		&source.ID,
		&source.RID,
		&source.CollectionID,
		&source.CollectionRID,
		&source.Title,
		&source.Origin,
		&source.ContentHash,
		&source.Status,
		&source.FailedStage,
		&source.Error,
		&source.Metadata,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return source, nil
}

// SelectSourcesByCollection retrieves all sources of a collection in insertion order
func (h *SourcesDBHandler) SelectSourcesByCollection(collectionRID uuid.UUID) ([]*model.Source, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_sources_by_collection($1)`,
		collectionRID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source := &model.Source{}
		err := rows.Scan(
			&source.ID,
			&source.RID,
			&source.CollectionID,
			&source.CollectionRID,
			&source.Title,
			&source.Origin,
			&source.ContentHash,
			&source.Status,
			&source.FailedStage,
			&source.Error,
			&source.Metadata,
			&source.CreatedAt,
			&source.UpdatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		sources = append(sources, source)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return sources, nil
}

// UpdateSourceStatus transitions a source to a new processing status. The
// failed stage and error message are only meaningful for the failed status and
// should be empty otherwise.
func (h *SourcesDBHandler) UpdateSourceStatus(rid uuid.UUID, status model.SourceStatus, failedStage model.SourceStatus, errMsg string) error {
	return withRetry("update source status", func() error {
		_, err := h.db.Instance.Exec(
			`SELECT update_source_status($1, $2, $3, $4)`,
			rid,
			string(status),
			string(failedStage),
			errMsg,
		)
		return err
	})
}

// DeleteSource deletes a source by RID, cascading to its chunks
func (h *SourcesDBHandler) DeleteSource(rid uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_source($1)`,
		rid,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
