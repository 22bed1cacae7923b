package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/graphein/graphein/database"
	"github.com/graphein/graphein/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// extractionConcurrency bounds concurrent per-chunk extraction within a source.
const extractionConcurrency = 4

// Ingestor runs sources through the processing pipeline and keeps the source
// status in the database in step with the running stage. The number of
// concurrently processed sources is bounded.
type Ingestor struct {
	sources database.SourcesDBHandlerFunctions
	chunks  database.ChunksDBHandlerFunctions
	merger  *Merger
	logger  *slog.Logger
	sem     *semaphore.Weighted
}

// NewIngestor creates an ingestor with the given source concurrency limit
func NewIngestor(sources database.SourcesDBHandlerFunctions, chunks database.ChunksDBHandlerFunctions, merger *Merger, logger *slog.Logger, maxConcurrency int64) *Ingestor {
	return &Ingestor{
		sources: sources,
		chunks:  chunks,
		merger:  merger,
		logger:  logger,
		sem:     semaphore.NewWeighted(maxConcurrency),
	}
}

// chunkExtraction holds the raw extraction result of one chunk.
type chunkExtraction struct {
	mentions  []EntityMention
	relations []RelationMention
}

// Ingest runs a source through chunking, embedding, extraction and
// persistence. The source status is updated at each stage transition; a stage
// failure sets the status to failed with the stage recorded. The source must
// already be inserted.
func (ing *Ingestor) Ingest(ctx context.Context, collection *model.Collection, source *model.Source, pipe *Pipeline) error {
	if err := ing.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer ing.sem.Release(1)

	return ing.run(ctx, collection, source, pipe)
}

func (ing *Ingestor) run(ctx context.Context, collection *model.Collection, source *model.Source, pipe *Pipeline) error {
	advance := func(status model.SourceStatus) error {
		err := ing.sources.UpdateSourceStatus(source.RID, status, "", "")
		if err != nil {
			return err
		}
		source.Status = status
		return nil
	}

	fail := func(stage model.SourceStatus, err error) error {
		statusErr := ing.sources.UpdateSourceStatus(source.RID, model.SourceStatusFailed, stage, err.Error())
		if statusErr != nil {
			ing.logger.Error("Failed to record source failure", "source", source.RID, "error", statusErr)
		}
		source.Status = model.SourceStatusFailed
		source.FailedStage = stage
		source.Error = err.Error()
		return err
	}

	err := advance(model.SourceStatusChunking)
	if err != nil {
		return err
	}
	chunks, err := pipe.Chunker(source.Content)
	if err != nil {
		return fail(model.SourceStatusChunking, err)
	}

	err = advance(model.SourceStatusEmbedding)
	if err != nil {
		return err
	}
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}

		embeddings, err := pipe.Embedder.Embed(ctx, texts)
		if err != nil {
			return fail(model.SourceStatusEmbedding, err)
		}
		if len(embeddings) != len(chunks) {
			return fail(model.SourceStatusEmbedding, fmt.Errorf("embedding count mismatch: got %d embeddings for %d chunks", len(embeddings), len(chunks)))
		}

		for i, chunk := range chunks {
			chunk.Embedding = embeddings[i]
		}
	}

	err = advance(model.SourceStatusExtracting)
	if err != nil {
		return err
	}
	extractions := make([]chunkExtraction, len(chunks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(extractionConcurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			// Extraction failures skip the chunk, they never fail the source
			mentions, err := pipe.EntityExtractor(chunk.Content)
			if err != nil {
				ing.logger.Warn("Skipping chunk after extraction failure", "source", source.RID, "ordinal", chunk.Ordinal, "error", fmt.Errorf("%w: %v", model.ErrExtraction, err))
				return nil
			}

			relations, err := pipe.RelationExtractor(chunk.Content, mentions)
			if err != nil {
				ing.logger.Warn("Skipping chunk relations after extraction failure", "source", source.RID, "ordinal", chunk.Ordinal, "error", fmt.Errorf("%w: %v", model.ErrExtraction, err))
				relations = nil
			}

			extractions[i] = chunkExtraction{mentions: mentions, relations: relations}
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		return fail(model.SourceStatusExtracting, err)
	}

	err = advance(model.SourceStatusPersisting)
	if err != nil {
		return err
	}
	for i, chunk := range chunks {
		chunk.SourceID = source.ID
		chunk.SourceRID = source.RID

		err = ing.chunks.UpsertChunk(chunk)
		if err != nil {
			return fail(model.SourceStatusPersisting, err)
		}

		err = ing.merger.Merge(ctx, MergeBatch{
			CollectionID:        collection.ID,
			ChunkID:             chunk.ID,
			ConfidenceThreshold: collection.Config.ConfidenceThreshold,
			SimilarityThreshold: collection.Config.SimilarityThreshold,
			Mentions:            extractions[i].mentions,
			Relations:           extractions[i].relations,
		})
		if err != nil {
			return fail(model.SourceStatusPersisting, err)
		}
	}

	return advance(model.SourceStatusCompleted)
}

// Reindex reprocesses one source under the collection's current
// configuration. The existing chunks are dropped first; the source content is
// recovered from memory, the origin file or the stored chunks.
func (ing *Ingestor) Reindex(ctx context.Context, collection *model.Collection, source *model.Source, pipe *Pipeline) error {
	content, err := ing.sourceContent(source)
	if err != nil {
		return err
	}
	source.Content = content

	err = ing.chunks.DeleteChunksBySource(source.RID)
	if err != nil {
		return err
	}

	return ing.Ingest(ctx, collection, source, pipe)
}

// sourceContent recovers the text of a source. Content is not stored, so a
// reindex reads the origin file when it still matches the content hash and
// falls back to reassembling the stored chunks by position.
func (ing *Ingestor) sourceContent(source *model.Source) (string, error) {
	if source.Content != "" {
		return source.Content, nil
	}

	if source.Origin != "" {
		data, err := os.ReadFile(source.Origin)
		if err == nil {
			if model.HashContent(string(data)) == source.ContentHash {
				return string(data), nil
			}
			ing.logger.Warn("Origin content no longer matches source hash, reassembling from chunks", "source", source.RID, "origin", source.Origin)
		}
	}

	chunks, err := ing.chunks.SelectChunksBySource(source.RID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("no content available for source %s", source.RID)
	}

	return reassembleContent(chunks), nil
}

// reassembleContent rebuilds a source text from chunk spans. Overlapping
// spans write the same text, gaps between spans were whitespace.
func reassembleContent(chunks []*model.Chunk) string {
	length := 0
	for _, chunk := range chunks {
		end := chunk.StartPos + len(chunk.Content)
		if end > length {
			length = end
		}
	}

	buffer := []byte(strings.Repeat(" ", length))
	for _, chunk := range chunks {
		copy(buffer[chunk.StartPos:], chunk.Content)
	}

	return strings.TrimRight(string(buffer), " ")
}
