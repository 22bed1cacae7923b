package graphein

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/graphein/graphein/core/graph"
	"github.com/graphein/graphein/core/pipeline"
	"github.com/graphein/graphein/core/retrieval"
	"github.com/graphein/graphein/database"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	loadSql "github.com/graphein/graphein/sql"
)

// defaultIngestConcurrency bounds how many sources are processed at once.
const defaultIngestConcurrency = 4

// Graphein provides a unified interface to the collection manager, the
// ingestion pipeline and the retrieval engine
type Graphein struct {
	DB            *helper.Database
	Collections   *database.CollectionsDBHandler
	Sources       *database.SourcesDBHandler
	Chunks        *database.ChunksDBHandler
	Entities      *database.EntitiesDBHandler
	Relationships *database.RelationshipsDBHandler
	// Registry resolves embedding model ids to providers; custom providers
	// can be registered before the first collection uses them.
	Registry *pipeline.Registry
	Merger   *pipeline.Merger
	Ingestor *pipeline.Ingestor
	// Graph exposes the entity graph for traversal
	Graph *graph.StoreAdapter
	// Logging
	log *slog.Logger
}

// NewGraphein creates a new Graphein instance with all handlers initialized.
// The embedding dimension must match the embedding models used by the
// collections stored in this database.
func NewGraphein(config *helper.DatabaseConfiguration, embeddingDim int) (*Graphein, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("graphein", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers in dependency order (collections first, sources and
	// chunks reference them). force=false to not reload existing functions.
	collections, err := database.NewCollectionsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create collections handler", err)
	}

	sources, err := database.NewSourcesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create sources handler", err)
	}

	chunks, err := database.NewChunksDBHandler(db, embeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}

	entities, err := database.NewEntitiesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create entities handler", err)
	}

	relationships, err := database.NewRelationshipsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create relationships handler", err)
	}

	merger := pipeline.NewMerger(entities, relationships)

	return &Graphein{
		DB:            db,
		Collections:   collections,
		Sources:       sources,
		Chunks:        chunks,
		Entities:      entities,
		Relationships: relationships,
		Registry:      pipeline.NewRegistry(),
		Merger:        merger,
		Ingestor:      pipeline.NewIngestor(sources, chunks, merger, logger, defaultIngestConcurrency),
		Graph:         &graph.StoreAdapter{Entities: entities, Relationships: relationships},
		log:           logger,
	}, nil
}

// Close drains the merge workers and closes the database connection
func (g *Graphein) Close() error {
	if g.Merger != nil {
		g.Merger.Close()
	}
	if g.DB != nil {
		return g.DB.Close()
	}
	return nil
}

// notFound maps a no-rows lookup failure onto the given sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

// pipelineFor builds the processing pipeline of a collection, resolving the
// embedding provider from the registry.
func (g *Graphein) pipelineFor(collection *model.Collection) (*pipeline.Pipeline, error) {
	return pipeline.NewPipeline(&collection.Config, g.Registry)
}

// engineFor builds a retrieval engine bound to the collection's embedding
// provider. The handlers are shared, so this is cheap per query.
func (g *Graphein) engineFor(pipe *pipeline.Pipeline) *retrieval.Engine {
	return retrieval.NewEngine(g.Chunks, g.Entities, g.Graph, pipe.Embedder, pipe.EntityExtractor, g.log)
}

// CreateCollection validates the configuration and creates a collection.
// A nil config uses the default configuration. On a validation failure
// nothing is persisted and the error matches model.ErrConfig.
func (g *Graphein) CreateCollection(name string, owner string, config *model.CollectionConfig, metadata model.Metadata) (*model.Collection, error) {
	if config == nil {
		defaultConfig := model.DefaultCollectionConfig()
		config = &defaultConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	collection := &model.Collection{
		Name:     name,
		Owner:    owner,
		Config:   *config,
		Metadata: metadata,
	}
	if err := g.Collections.InsertCollection(collection); err != nil {
		return nil, helper.NewError("insert collection", err)
	}

	g.log.Info("Created collection", slog.String("collection", collection.RID.String()), slog.String("name", collection.Name))

	return collection, nil
}

// GetCollection retrieves a collection by RID
func (g *Graphein) GetCollection(rid uuid.UUID) (*model.Collection, error) {
	collection, err := g.Collections.SelectCollection(rid)
	if err != nil {
		return nil, notFound(err, model.ErrCollectionNotFound)
	}
	return collection, nil
}

// GetCollectionByName retrieves a collection by its unique name
func (g *Graphein) GetCollectionByName(name string) (*model.Collection, error) {
	collection, err := g.Collections.SelectCollectionByName(name)
	if err != nil {
		return nil, notFound(err, model.ErrCollectionNotFound)
	}
	return collection, nil
}

// ListCollections retrieves all collections ordered by creation time
func (g *Graphein) ListCollections(limit int) ([]*model.Collection, error) {
	return g.Collections.SelectAllCollections(limit)
}

// UpdateCollectionConfig replaces the configuration of a collection. The
// returned bool reports whether the change invalidates existing chunks or
// embeddings, in which case the caller must run Reindex before the collection
// is queryable under the new configuration.
func (g *Graphein) UpdateCollectionConfig(rid uuid.UUID, next model.CollectionConfig) (bool, error) {
	if err := next.Validate(); err != nil {
		return false, err
	}

	collection, err := g.GetCollection(rid)
	if err != nil {
		return false, err
	}

	reindexRequired := collection.Config.RequiresReindex(&next)
	if reindexRequired {
		count, err := g.Collections.SelectCollectionSourceCount(rid)
		if err != nil {
			return false, helper.NewError("count collection sources", err)
		}
		reindexRequired = count > 0
	}

	collection.Config = next
	if err := g.Collections.UpdateCollectionConfig(collection); err != nil {
		return false, helper.NewError("update collection config", err)
	}

	return reindexRequired, nil
}

// DeleteCollection deletes a collection and everything in it
func (g *Graphein) DeleteCollection(rid uuid.UUID) error {
	return g.Collections.DeleteCollection(rid)
}

// CreateSource inserts a source into a collection and runs it through the
// ingestion pipeline. A source whose content hash already exists in the
// collection is a no-op; the existing source is loaded into the argument and
// the returned bool is false. Re-uploading content whose existing source
// failed retries the pipeline with the uploaded content. Pipeline failures
// are recorded on the source status and returned.
func (g *Graphein) CreateSource(ctx context.Context, collectionRID uuid.UUID, source *model.Source) (bool, error) {
	collection, err := g.GetCollection(collectionRID)
	if err != nil {
		return false, err
	}

	if source.Content == "" {
		return false, helper.NewError("create source", fmt.Errorf("source content is empty"))
	}
	if source.ContentHash == "" {
		source.ContentHash = model.HashContent(source.Content)
	}
	source.CollectionID = collection.ID

	inserted, err := g.Sources.InsertSource(source)
	if err != nil {
		return false, helper.NewError("insert source", err)
	}
	if !inserted && source.Status != model.SourceStatusFailed {
		g.log.Info("Source content already ingested", slog.String("source", source.RID.String()), slog.String("collection", collection.Name))
		return false, nil
	}

	pipe, err := g.pipelineFor(collection)
	if err != nil {
		return inserted, err
	}

	if !inserted {
		// The existing source failed, retry with the uploaded content
		g.log.Info("Retrying failed source", slog.String("source", source.RID.String()), slog.String("failed_stage", string(source.FailedStage)))
		return false, g.Ingestor.Ingest(ctx, collection, source, pipe)
	}

	g.log.Info("Ingesting source", slog.String("source", source.RID.String()), slog.String("title", source.Title))

	return true, g.Ingestor.Ingest(ctx, collection, source, pipe)
}

// GetSource retrieves a source by RID
func (g *Graphein) GetSource(rid uuid.UUID) (*model.Source, error) {
	source, err := g.Sources.SelectSource(rid)
	if err != nil {
		return nil, notFound(err, model.ErrSourceNotFound)
	}
	return source, nil
}

// GetSourceStatus retrieves the processing status of a source
func (g *Graphein) GetSourceStatus(rid uuid.UUID) (model.SourceStatus, error) {
	source, err := g.GetSource(rid)
	if err != nil {
		return "", err
	}
	return source.Status, nil
}

// ListSources retrieves all sources of a collection in insertion order
func (g *Graphein) ListSources(collectionRID uuid.UUID) ([]*model.Source, error) {
	return g.Sources.SelectSourcesByCollection(collectionRID)
}

// DeleteSource deletes a source and its chunks
func (g *Graphein) DeleteSource(rid uuid.UUID) error {
	return g.Sources.DeleteSource(rid)
}

// Reindex reprocesses every source of a collection under its current
// configuration. Sources are reprocessed one by one; a failing source is
// recorded on its status and skipped, so an interrupted or partially failed
// reindex can simply be run again.
func (g *Graphein) Reindex(ctx context.Context, collectionRID uuid.UUID) error {
	collection, err := g.GetCollection(collectionRID)
	if err != nil {
		return err
	}

	pipe, err := g.pipelineFor(collection)
	if err != nil {
		return err
	}

	sources, err := g.Sources.SelectSourcesByCollection(collectionRID)
	if err != nil {
		return helper.NewError("select collection sources", err)
	}

	g.log.Info("Reindexing collection", slog.String("collection", collection.Name), slog.Int("num_sources", len(sources)))

	var errs []error
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := g.Ingestor.Reindex(ctx, collection, source, pipe)
		if err != nil {
			g.log.Error("Reindexing source failed", slog.String("source", source.RID.String()), slog.Any("error", err))
			errs = append(errs, helper.NewError(fmt.Sprintf("reindex source %s", source.RID), err))
		}
	}

	return errors.Join(errs...)
}

// Query runs a hybrid retrieval query against a collection. Options left at
// their zero value fall back to the collection configuration.
func (g *Graphein) Query(ctx context.Context, collectionRID uuid.UUID, text string, opts *model.QueryOptions) (*model.ContextBundle, error) {
	collection, err := g.GetCollection(collectionRID)
	if err != nil {
		return nil, err
	}

	pipe, err := g.pipelineFor(collection)
	if err != nil {
		return nil, err
	}

	return g.engineFor(pipe).Query(ctx, text, collection, opts)
}

// SearchEntities finds entities of a collection by name substring
func (g *Graphein) SearchEntities(collectionRID uuid.UUID, term string, limit int) ([]*model.Entity, error) {
	collection, err := g.GetCollection(collectionRID)
	if err != nil {
		return nil, err
	}
	return g.Entities.SearchEntities(collection.ID, term, limit)
}

// EntityCentricSearch retrieves the chunks evidencing one entity, optionally
// fanning out over the entity graph up to maxHops.
func (g *Graphein) EntityCentricSearch(ctx context.Context, entityID uuid.UUID, maxHops int, topK int) ([]*model.RetrievedChunk, error) {
	collection, err := g.collectionOfEntity(entityID)
	if err != nil {
		return nil, err
	}

	pipe, err := g.pipelineFor(collection)
	if err != nil {
		return nil, err
	}

	return g.engineFor(pipe).EntityCentric(ctx, entityID, maxHops, topK)
}

// collectionOfEntity resolves the collection an entity belongs to.
func (g *Graphein) collectionOfEntity(entityID uuid.UUID) (*model.Collection, error) {
	entity, err := g.Entities.SelectEntity(entityID)
	if err != nil {
		return nil, helper.NewError("select entity", err)
	}

	collections, err := g.Collections.SelectAllCollections(0)
	if err != nil {
		return nil, helper.NewError("select collections", err)
	}
	for _, collection := range collections {
		if collection.ID == entity.CollectionID {
			return collection, nil
		}
	}
	return nil, model.ErrCollectionNotFound
}

// BFSTraversal performs breadth-first search from an entity
func (g *Graphein) BFSTraversal(ctx context.Context, entityID uuid.UUID, maxHops int, relationTypes []model.RelationType) ([]*graph.TraversalResult, error) {
	return graph.BFS(ctx, g.Graph, entityID, maxHops, relationTypes)
}

// DFSTraversal performs depth-first search from an entity
func (g *Graphein) DFSTraversal(ctx context.Context, entityID uuid.UUID, maxHops int, relationTypes []model.RelationType) ([]*graph.TraversalResult, error) {
	return graph.DFS(ctx, g.Graph, entityID, maxHops, relationTypes)
}

// ShortestPath finds the minimal-hop path between two entities, bounded by
// maxHops. It returns nil when no path exists within the bound.
func (g *Graphein) ShortestPath(ctx context.Context, fromID, toID uuid.UUID, maxHops int) ([]uuid.UUID, error) {
	return graph.ShortestPath(ctx, g.Graph, fromID, toID, maxHops)
}

// Neighbors retrieves the immediate neighbors of an entity
func (g *Graphein) Neighbors(ctx context.Context, entityID uuid.UUID, relationTypes []model.RelationType) ([]*model.Entity, error) {
	return graph.GetNeighbors(ctx, g.Graph, entityID, relationTypes)
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat
func (g *Graphein) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	return g.Chunks.ChangeIndexType(ctx, indexType, params)
}
