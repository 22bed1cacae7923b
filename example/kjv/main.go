package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/graphein/graphein"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const kjvRepoURL = "https://raw.githubusercontent.com/arleym/kjv-markdown/master"

// List of KJV books to download. Extend the list to index more of the corpus;
// already indexed books are skipped by content hash on re-runs.
var kjvBooks = []string{
	"01 - Genesis - KJV.md",
	// "02 - Exodus - KJV.md", "03 - Leviticus - KJV.md",
	// "40 - Matthew - KJV.md", "41 - Mark - KJV.md", "42 - Luke - KJV.md",
	// "43 - John - KJV.md", "44 - Acts - KJV.md", "66 - Revelation - KJV.md",
}

// startPostgresContainer starts a pgvector-enabled PostgreSQL container with a
// bind-mounted data directory, so the indexed corpus persists between runs.
func startPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	dataDir := "./data"
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create data directory: %w", err)
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get absolute path for data directory: %w", err)
	}

	// Check if database already exists (data directory has PG_VERSION file)
	pgVersionFile := filepath.Join(absDataDir, "PG_VERSION")
	_, err = os.Stat(pgVersionFile)
	dbExists := err == nil

	// When database already exists, PostgreSQL doesn't re-initialize,
	// so the ready message only appears once instead of twice
	waitOccurrences := 2
	if dbExists {
		waitOccurrences = 1
		fmt.Printf("Using existing persistent database in: %s\n", absDataDir)
	} else {
		fmt.Printf("Creating new persistent database in: %s\n", absDataDir)
	}

	options := []testcontainers.ContainerCustomizer{
		postgres.WithDatabase("graphein_kjv"),
		postgres.WithUsername("graphein"),
		postgres.WithPassword("graphein"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(waitOccurrences),
		),
		testcontainers.WithHostConfigModifier(func(hc *container.HostConfig) {
			hc.Mounts = append(hc.Mounts, mount.Mount{
				Type:   mount.TypeBind,
				Source: absDataDir,
				Target: "/var/lib/postgresql/data",
			})
		}),
	}

	pgContainer, err := postgres.Run(
		ctx,
		"pgvector/pgvector:pg16",
		options...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("error starting postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("error getting connection string: %w", err)
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return nil, "", fmt.Errorf("error parsing connection string: %v", err)
	}

	return pgContainer.Terminate, u.Port(), nil
}

func downloadBook(bookName string, outputDir string) (string, error) {
	// URL-encode the filename to handle spaces
	encodedName := url.PathEscape(bookName)
	downloadURL := fmt.Sprintf("%s/%s", kjvRepoURL, encodedName)
	resp, err := http.Get(downloadURL)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", bookName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", bookName, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", bookName, err)
	}

	outputPath := filepath.Join(outputDir, bookName)
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", bookName, err)
	}

	return outputPath, nil
}

func main() {
	teardown, dbPort, err := startPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		User:     "graphein",
		Password: "graphein",
		Name:     "graphein_kjv",
		SSLMode:  "disable",
	}

	g, err := graphein.NewGraphein(dbConfig, 384)
	if err != nil {
		log.Fatalf("Failed to create graphein: %v", err)
	}
	defer g.Close()

	// Reuse the collection from a previous run when the database persisted
	collection, err := g.GetCollectionByName("kjv")
	if err != nil {
		config := model.DefaultCollectionConfig()
		config.ChunkStrategy = model.ChunkStrategyParagraph
		config.ChunkSize = 800

		collection, err = g.CreateCollection("kjv", "kjv-example", &config, model.Metadata{
			"corpus": "King James Version",
		})
		if err != nil {
			log.Fatalf("Failed to create collection: %v", err)
		}
		fmt.Printf("Created collection %s\n", collection.RID)
	} else {
		fmt.Printf("Reusing collection %s\n", collection.RID)
	}

	// Download and ingest the books. Re-running the example skips books that
	// are already indexed because the content hash matches.
	booksDir := "./books"
	if err := os.MkdirAll(booksDir, 0755); err != nil {
		log.Fatalf("Failed to create books directory: %v", err)
	}

	ctx := context.Background()
	for _, bookName := range kjvBooks {
		bookPath := filepath.Join(booksDir, bookName)
		if _, err := os.Stat(bookPath); err != nil {
			fmt.Printf("Downloading %s...\n", bookName)
			bookPath, err = downloadBook(bookName, booksDir)
			if err != nil {
				log.Fatalf("Failed to download book: %v", err)
			}
		}

		source, err := model.NewSourceFromFile(bookPath, model.Metadata{
			"book": bookName,
		})
		if err != nil {
			log.Fatalf("Failed to read book: %v", err)
		}

		inserted, err := g.CreateSource(ctx, collection.RID, source)
		if err != nil {
			log.Fatalf("Failed to ingest %s: %v", bookName, err)
		}
		if !inserted {
			fmt.Printf("Already indexed: %s\n", source.Title)
			continue
		}
		fmt.Printf("Ingested %s: %s\n", source.Title, source.Status)
	}

	// Hybrid querying over the corpus
	queries := []string{
		"Who built the ark before the flood?",
		"What happened in the garden of Eden?",
		"Who was sold into Egypt by his brothers?",
	}

	for _, queryText := range queries {
		fmt.Printf("\n=== Query: %s ===\n", queryText)

		bundle, err := g.Query(ctx, collection.RID, queryText, &model.QueryOptions{TopN: 3})
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}

		for i, result := range bundle.Chunks {
			fmt.Printf("%d. [%s] score %.4f\n%s\n", i+1, result.RetrievalMethod, result.Score, result.Chunk.Content)
		}
		if len(bundle.Entities) > 0 {
			fmt.Print("Entities: ")
			for i, entity := range bundle.Entities {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Print(entity.Name)
			}
			fmt.Println()
		}
	}

	// Show the entity graph around a central figure
	fmt.Println("\n=== Entity Graph ===")
	entities, err := g.SearchEntities(collection.RID, "noah", 1)
	if err != nil {
		log.Fatalf("Entity search failed: %v", err)
	}
	if len(entities) > 0 {
		neighbors, err := g.Neighbors(ctx, entities[0].ID, nil)
		if err != nil {
			log.Fatalf("Neighbor lookup failed: %v", err)
		}
		fmt.Printf("%s is connected to %d entities\n", entities[0].Name, len(neighbors))
		for _, neighborEntity := range neighbors {
			fmt.Printf("  - %s (%s)\n", neighborEntity.Name, neighborEntity.Type)
		}
	}

	fmt.Println("\nKJV example completed!")
}
