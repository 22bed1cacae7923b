package model

import "errors"

// Error taxonomy for the retrieval engine. Callers match these with errors.Is;
// the wrapping context is added at the call site via helper.NewError.
var (
	// ErrConfig marks an invalid collection configuration. It is returned
	// before any processing starts and is never partially applied.
	ErrConfig = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable marks an embedding provider failure after
	// bounded retries. It fails the whole batch, never a part of it.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrExtraction marks a per-chunk extraction failure. The chunk is
	// skipped and logged; the document is not failed.
	ErrExtraction = errors.New("extraction failed")

	// ErrStoreUnavailable marks a store adapter failure after bounded
	// retries with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrRetrievalUnavailable marks a failed vector search at query time.
	// Vector search is the primary signal, so the query fails outright.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrSourceNotFound is returned when a source lookup by RID finds nothing.
	ErrSourceNotFound = errors.New("source not found")

	// ErrCollectionNotFound is returned when a collection lookup finds nothing.
	ErrCollectionNotFound = errors.New("collection not found")
)
