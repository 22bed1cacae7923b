package main

import (
	"context"
	"fmt"
	"log"

	"github.com/graphein/graphein"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
)

const platformContent = `Acme Corp operates a developer platform from Berlin.

The platform runs on Kubernetes and stores its data in PostgreSQL. Acme Corp uses
Terraform to manage the underlying infrastructure and Prometheus for monitoring.

Dr. Weber leads the platform team. The team depends on pgvector for similarity
search inside the retrieval service.`

const retrievalContent = `Machine learning is transforming how we process and retrieve information.

Vector embeddings capture the semantic meaning of text, enabling similarity-based
search. Modern retrieval systems combine database indexing with embedding models
to provide context-aware search.

Initech Corp published a comparison of retrieval systems in 2024. The report
mentions PostgreSQL and Elasticsearch as common storage backends.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration
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

	// Create a collection with an explicit configuration
	config := &model.CollectionConfig{
		ChunkStrategy:       model.ChunkStrategyParagraph,
		ChunkSize:           400,
		ChunkOverlap:        0,
		EmbeddingModel:      "local/all-MiniLM-L6-v2",
		SimilarityThreshold: 0.85,
		ConfidenceThreshold: 0.5,
		GraphMaxHops:        2,
		HybridWeight:        0.6,
		VectorTopK:          5,
		GraphTopK:           5,
	}

	collection, err := g.CreateCollection("advanced-example", "example", config, nil)
	if err != nil {
		log.Fatalf("Failed to create collection: %v", err)
	}

	fmt.Println("=== Ingesting Sources ===")
	ctx := context.Background()
	sources := []*model.Source{
		{Title: "Acme Platform Overview", Content: platformContent},
		{Title: "Retrieval Systems Report", Content: retrievalContent},
	}
	for _, source := range sources {
		if _, err := g.CreateSource(ctx, collection.RID, source); err != nil {
			log.Fatalf("Failed to ingest %q: %v", source.Title, err)
		}
		fmt.Printf("Source %q (RID: %s): %s\n", source.Title, source.RID, source.Status)
	}

	// 1. Hybrid query with per-query options
	fmt.Println("\n=== 1. Hybrid Query ===")
	opts := &model.QueryOptions{
		TopN:         3,
		HybridWeight: model.Float64(0.5),
	}
	bundle, err := g.Query(ctx, collection.RID, "What does Acme Corp run on Kubernetes?", opts)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	printBundle(bundle)

	// 2. Entity search
	fmt.Println("\n=== 2. Entity Search ===")
	entities, err := g.SearchEntities(collection.RID, "acme", 5)
	if err != nil {
		log.Fatalf("Entity search failed: %v", err)
	}
	for _, entity := range entities {
		fmt.Printf("Entity: %s (%s, confidence %.2f, %d evidence chunks)\n",
			entity.Name, entity.Type, entity.Confidence, len(entity.EvidenceChunks))
	}
	if len(entities) == 0 {
		log.Fatal("Expected at least one entity for 'acme'")
	}

	// 3. Graph traversal from an entity
	fmt.Println("\n=== 3. Graph Traversal ===")
	results, err := g.BFSTraversal(ctx, entities[0].ID, 2, nil)
	if err != nil {
		log.Fatalf("Traversal failed: %v", err)
	}
	for _, result := range results {
		fmt.Printf("%s (distance %d)\n", result.Entity.Name, result.Distance)
	}

	// 4. Entity-centric retrieval with fan-out
	fmt.Println("\n=== 4. Entity-Centric Retrieval ===")
	chunks, err := g.EntityCentricSearch(ctx, entities[0].ID, 1, 5)
	if err != nil {
		log.Fatalf("Entity-centric search failed: %v", err)
	}
	for _, chunk := range chunks {
		fmt.Printf("Score %.2f (distance %d): %.60s...\n", chunk.Score, chunk.GraphDistance, chunk.Chunk.Content)
	}

	// 5. Reconfigure the collection and reindex
	fmt.Println("\n=== 5. Reconfigure and Reindex ===")
	next := *config
	next.ChunkStrategy = model.ChunkStrategySentence
	next.ChunkSize = 200

	reindexRequired, err := g.UpdateCollectionConfig(collection.RID, next)
	if err != nil {
		log.Fatalf("Config update failed: %v", err)
	}
	fmt.Printf("Reindex required: %v\n", reindexRequired)
	if reindexRequired {
		if err := g.Reindex(ctx, collection.RID); err != nil {
			log.Fatalf("Reindex failed: %v", err)
		}
		fmt.Println("Collection reindexed under the new configuration")
	}

	// 6. Switch the vector index to IVFFlat
	fmt.Println("\n=== 6. Vector Index Tuning ===")
	err = g.ChangeIndexType(ctx, "ivfflat", map[string]interface{}{"lists": 10})
	if err != nil {
		log.Fatalf("Index change failed: %v", err)
	}
	fmt.Println("Vector index switched to IVFFlat")

	fmt.Println("\nAdvanced example completed successfully!")
}

func printBundle(bundle *model.ContextBundle) {
	fmt.Printf("%d chunks, %d entities, %d relationships (degraded: %v)\n",
		len(bundle.Chunks), len(bundle.Entities), len(bundle.Relationships), bundle.Degraded)
	for i, result := range bundle.Chunks {
		fmt.Printf("%d. [%s] score %.4f: %.60s...\n", i+1, result.RetrievalMethod, result.Score, result.Chunk.Content)
	}
}
