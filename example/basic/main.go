package main

import (
	"context"
	"fmt"
	"log"

	"github.com/graphein/graphein"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
)

const sampleContent = `This is a sample document about retrieval systems.

Acme Corp builds a retrieval platform on PostgreSQL. The platform uses pgvector for
vector similarity search and stores an entity graph in plain relational tables.

Engineers at Acme Corp combine both signals: semantic similarity finds chunks that
sound like the question, while the entity graph connects chunks that mention the
same people, organizations and technologies.

Hybrid retrieval merges the two result sets into a single ranked context bundle.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		User:     "graphein",
		Password: "graphein",
		Name:     "graphein_test",
		SSLMode:  "disable",
	}

	g, err := graphein.NewGraphein(dbConfig, 384)
	if err != nil {
		log.Fatalf("Failed to create graphein: %v", err)
	}
	defer g.Close()

	// Create a collection with the default configuration (sentence chunking,
	// local all-MiniLM-L6-v2 embeddings, 384 dimensions)
	collection, err := g.CreateCollection("basic-example", "example", nil, model.Metadata{
		"topic": "retrieval systems",
	})
	if err != nil {
		log.Fatalf("Failed to create collection: %v", err)
	}
	fmt.Printf("Created collection %s (RID: %s)\n", collection.Name, collection.RID)

	// Ingest a document: chunking, embedding, entity extraction and graph
	// building all run in one call
	source := &model.Source{
		Title:   "Introduction to Hybrid Retrieval",
		Content: sampleContent,
		Metadata: model.Metadata{
			"author": "Example Author",
		},
	}

	fmt.Println("Ingesting source...")
	if _, err := g.CreateSource(context.Background(), collection.RID, source); err != nil {
		log.Fatalf("Failed to ingest source: %v", err)
	}
	fmt.Printf("Source ingested with status: %s\n", source.Status)

	// Run a hybrid query
	queryText := "How does Acme Corp combine vector search with a graph?"
	fmt.Printf("\nQuerying: %s\n", queryText)

	bundle, err := g.Query(context.Background(), collection.RID, queryText, nil)
	if err != nil {
		log.Fatalf("Failed to query: %v", err)
	}

	// Display results
	fmt.Printf("\nFound %d chunks (degraded: %v, provider: %s):\n", len(bundle.Chunks), bundle.Degraded, bundle.Provider)
	for i, result := range bundle.Chunks {
		fmt.Printf("\n--- Result %d ---\n", i+1)
		fmt.Printf("Score: %.4f\n", result.Score)
		fmt.Printf("Method: %s\n", result.RetrievalMethod)
		fmt.Printf("Content: %s\n", result.Chunk.Content)
	}

	fmt.Println("\nBasic example completed successfully!")
}
