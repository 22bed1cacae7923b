package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	loadSql "github.com/graphein/graphein/sql"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	UpsertChunk(chunk *model.Chunk) error
	SelectChunk(id int64) (*model.Chunk, error)
	SelectChunksBySource(sourceRID uuid.UUID) ([]*model.Chunk, error)
	SelectChunksByIDs(ids []int64) ([]*model.Chunk, error)
	SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, collectionRID uuid.UUID) ([]*model.Chunk, error)
	DeleteChunksBySource(sourceRID uuid.UUID) error
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db *helper.Database
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	chunksDbHandler := &ChunksDBHandler{
		db: db,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates the vector index on the embedding column.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// UpsertChunk inserts a chunk or replaces the existing chunk with the same
// (source, ordinal) key, which makes reindexing idempotent.
func (h *ChunksDBHandler) UpsertChunk(chunk *model.Chunk) error {
	return withRetry("upsert chunk", func() error {
		row := h.db.Instance.QueryRow(
			`SELECT * FROM upsert_chunk($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			chunk.SourceID,
			chunk.Ordinal,
			chunk.Content,
			chunk.StartPos,
			chunk.EndPos,
			pq.Array(chunk.Embedding),
			chunk.Coherence,
			chunk.Completeness,
			chunk.TokenCount,
			chunk.Metadata,
		)

		return row.Scan(
			&chunk.ID,
			&chunk.SourceID,
			&chunk.SourceRID,
			&chunk.Ordinal,
			&chunk.Content,
			&chunk.StartPos,
			&chunk.EndPos,
			pq.Array(&chunk.Embedding),
			&chunk.Coherence,
			&chunk.Completeness,
			&chunk.TokenCount,
			&chunk.Metadata,
			&chunk.CreatedAt,
		)
	})
}

// SelectChunk retrieves a chunk by ID
func (h *ChunksDBHandler) SelectChunk(id int64) (*model.Chunk, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_chunk($1)`,
		id,
	)

	chunk := &model.Chunk{}
	err := row.Scan(
		&chunk.ID,
		&chunk.SourceID,
		&chunk.SourceRID,
		&chunk.Ordinal,
		&chunk.Content,
		&chunk.StartPos,
		&chunk.EndPos,
		pq.Array(&chunk.Embedding),
		&chunk.Coherence,
		&chunk.Completeness,
		&chunk.TokenCount,
		&chunk.Metadata,
		&chunk.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return chunk, nil
}

// SelectChunksBySource retrieves all chunks of a source ordered by ordinal
func (h *ChunksDBHandler) SelectChunksBySource(sourceRID uuid.UUID) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_chunks_by_source($1)`,
		sourceRID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(
			&chunk.ID,
			&chunk.SourceID,
			&chunk.SourceRID,
			&chunk.Ordinal,
			&chunk.Content,
			&chunk.StartPos,
			&chunk.EndPos,
			pq.Array(&chunk.Embedding),
			&chunk.Coherence,
			&chunk.Completeness,
			&chunk.TokenCount,
			&chunk.Metadata,
			&chunk.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// SelectChunksByIDs retrieves chunks by their IDs, used to resolve evidence
// chunk references from the entity graph.
func (h *ChunksDBHandler) SelectChunksByIDs(ids []int64) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := withRetry("select chunks by ids", func() error {
		rows, err := h.db.Instance.Query(
			`SELECT * FROM select_chunks_by_ids($1)`,
			pq.Array(ids),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		chunks = nil
		for rows.Next() {
			chunk := &model.Chunk{}
			err := rows.Scan(
				&chunk.ID,
				&chunk.SourceID,
				&chunk.SourceRID,
				&chunk.Ordinal,
				&chunk.Content,
				&chunk.StartPos,
				&chunk.EndPos,
				pq.Array(&chunk.Embedding),
				&chunk.Coherence,
				&chunk.Completeness,
				&chunk.TokenCount,
				&chunk.Metadata,
				&chunk.CreatedAt,
			)
			if err != nil {
				return err
			}

			chunks = append(chunks, chunk)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

// SelectChunksBySimilarity performs cosine similarity search scoped to one
// collection. Results come back ordered by similarity descending with the
// similarity populated on each chunk.
func (h *ChunksDBHandler) SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, collectionRID uuid.UUID) ([]*model.Chunk, error) {
	embeddingVector := pgvector.NewVector(embedding)

	var results []*model.Chunk
	err := withRetry("select chunks by similarity", func() error {
		rows, err := h.db.Instance.Query(
			`SELECT * FROM select_chunks_by_similarity($1, $2, $3, $4)`,
			embeddingVector,
			limit,
			threshold,
			collectionRID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		results = nil
		for rows.Next() {
			chunk := &model.Chunk{}
			err := rows.Scan(
				&chunk.ID,
				&chunk.SourceID,
				&chunk.SourceRID,
				&chunk.Ordinal,
				&chunk.Content,
				&chunk.StartPos,
				&chunk.EndPos,
				pq.Array(&chunk.Embedding),
				&chunk.Coherence,
				&chunk.Completeness,
				&chunk.TokenCount,
				&chunk.Metadata,
				&chunk.CreatedAt,
				&chunk.Similarity,
			)
			if err != nil {
				return err
			}

			results = append(results, chunk)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// DeleteChunksBySource deletes all chunks of a source, used before reindexing
func (h *ChunksDBHandler) DeleteChunksBySource(sourceRID uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_chunks_by_source($1)`,
		sourceRID,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
