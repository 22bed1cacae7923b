package model

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SourceStatus is the processing state of a source. The status field is the
// single source of truth for whether a source's data is fully visible.
type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusChunking   SourceStatus = "chunking"
	SourceStatusEmbedding  SourceStatus = "embedding"
	SourceStatusExtracting SourceStatus = "extracting"
	SourceStatusPersisting SourceStatus = "persisting"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"
)

// Terminal reports whether no further pipeline stage will run for this status.
func (s SourceStatus) Terminal() bool {
	return s == SourceStatusCompleted || s == SourceStatusFailed
}

// Processing reports whether the source is in an intermediate pipeline stage.
func (s SourceStatus) Processing() bool {
	return !s.Terminal() && s != SourceStatusPending
}

// Source is one ingested document. Content is used during processing but not
// stored in the database; the content hash is the dedup key per collection.
type Source struct {
	ID            int64        `json:"id"`
	RID           uuid.UUID    `json:"rid"`
	CollectionID  int64        `json:"collection_id"`
	CollectionRID uuid.UUID    `json:"collection_rid"`
	Title         string       `json:"title"`
	Origin        string       `json:"origin,omitempty"`
	Content       string       `json:"content,omitempty" db:"-"`
	ContentHash   string       `json:"content_hash"`
	Status        SourceStatus `json:"status"`
	FailedStage   SourceStatus `json:"failed_stage,omitempty"`
	Error         string       `json:"error,omitempty"`
	Metadata      Metadata     `json:"metadata,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// HashContent returns the dedup key for a document body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewSourceFromFile reads a file and creates a Source with the file content.
// The title defaults to the filename, and origin to the file path.
func NewSourceFromFile(filePath string, metadata Metadata) (*Source, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}

	return &Source{
		Title:       title,
		Origin:      filePath,
		Content:     string(content),
		ContentHash: HashContent(string(content)),
		Status:      SourceStatusPending,
		Metadata:    metadata,
	}, nil
}
